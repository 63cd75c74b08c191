package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

const commandTimeout = 10 * time.Second

// handlerBase holds what every credential command shares
type handlerBase struct {
	repo     RepositoryManager
	tokens   TokenService
	hasher   PasswordAuthenticator
	clock    Clock
	logger   Logger
	activity ActivitySink
}

// HandlerOption configures any of the credential command handlers
type HandlerOption func(*handlerBase)

func WithHandlerLogger(logger Logger) HandlerOption {
	return func(h *handlerBase) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithHandlerClock(clock Clock) HandlerOption {
	return func(h *handlerBase) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithActivitySink sets the sink used to emit auth activity events.
func WithActivitySink(sink ActivitySink) HandlerOption {
	return func(h *handlerBase) {
		h.activity = normalizeActivitySink(sink)
	}
}

func WithPasswordAuthenticator(hasher PasswordAuthenticator) HandlerOption {
	return func(h *handlerBase) {
		if hasher != nil {
			h.hasher = hasher
		}
	}
}

func newHandlerBase(repo RepositoryManager, tokens TokenService, opts ...HandlerOption) handlerBase {
	h := handlerBase{
		repo:     repo,
		tokens:   tokens,
		hasher:   NewBcryptHasher(0),
		clock:    SystemClock(),
		logger:   defLogger{},
		activity: noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&h)
		}
	}
	return h
}

// guard refuses to start work on a cancelled context
func guard(ctx context.Context, op string, fn func(context.Context) error) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during "+op)
	default:
		ctx, cancel := context.WithTimeout(ctx, commandTimeout)
		defer cancel()
		return fn(ctx)
	}
}

// richOrWrap keeps rich errors as they are so callers can match
// sentinels, and wraps anything else as internal.
func richOrWrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}

// invalidPayload turns an ozzo validation failure into a rich 400
func invalidPayload(err error) error {
	if err == nil {
		return nil
	}
	rich := goerrors.New("invalid request payload", goerrors.CategoryValidation).
		WithTextCode(TextCodeInvalidPayload).
		WithCode(goerrors.CodeBadRequest)

	if verrs, ok := err.(validation.Errors); ok {
		fields := map[string]any{}
		for field, ferr := range verrs {
			fields[field] = ferr.Error()
		}
		return rich.WithMetadata(map[string]any{"fields": fields})
	}
	return rich.WithMetadata(map[string]any{"reason": err.Error()})
}

func (h handlerBase) record(ctx context.Context, evt ActivityEvent) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = h.clock.Now()
	}
	if err := normalizeActivitySink(h.activity).Record(ctx, evt); err != nil {
		h.logger.Warn("activity sink error for %s: %v", evt.EventType, err)
	}
}

// issuePair signs a new access/refresh pair for identity
func (h handlerBase) issuePair(identity int64) (TokenPair, error) {
	access, err := h.tokens.IssueAccessToken(identity)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := h.tokens.IssueRefreshToken(identity)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		UserID:       identity,
		AccessToken:  access,
		RefreshToken: refresh,
		IssuedAt:     h.clock.Now(),
	}, nil
}
