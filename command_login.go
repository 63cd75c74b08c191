package auth

import (
	"context"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/uptrace/bun"
)

type LoginMessage struct {
	LoginID    string                `json:"loginId"`
	Password   string                `json:"password"`
	OnResponse func(pair *TokenPair) `json:"-"`
}

func (m LoginMessage) Type() string { return "credential.login" }

func (m LoginMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.LoginID, validation.Required, validation.Length(1, 255)),
		validation.Field(&m.Password, validation.Required),
	)
}

// LoginHandler exchanges a login id and password for a token pair.
// Every failure is ErrInvalidCredentials.
type LoginHandler struct {
	handlerBase
	dummyOnce sync.Once
	dummyHash string
}

func NewLoginHandler(repo RepositoryManager, tokens TokenService, opts ...HandlerOption) *LoginHandler {
	return &LoginHandler{handlerBase: newHandlerBase(repo, tokens, opts...)}
}

func (h *LoginHandler) Execute(ctx context.Context, msg LoginMessage) error {
	return guard(ctx, "login", func(ctx context.Context) error {
		return h.execute(ctx, msg)
	})
}

func (h *LoginHandler) execute(ctx context.Context, msg LoginMessage) error {
	if err := msg.Validate(); err != nil {
		return invalidPayload(err)
	}

	var pair TokenPair

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := h.repo.Credentials().GetByLoginIDTx(ctx, tx, strings.TrimSpace(msg.LoginID))
		if err != nil {
			if IsRichError(err, TextCodeCredentialNotFound) {
				// same work as a real comparison so timing does not leak
				_ = h.hasher.ComparePasswordAndHash(msg.Password, h.dummy())
				return ErrInvalidCredentials
			}
			return err
		}

		if err := h.hasher.ComparePasswordAndHash(msg.Password, record.PasswordHash); err != nil {
			return ErrInvalidCredentials
		}

		if !record.IsVerified {
			return ErrInvalidCredentials
		}

		pair, err = h.issuePair(record.UserID)
		if err != nil {
			return err
		}

		record.SetTokens(pair.AccessToken, pair.RefreshToken, pair.IssuedAt)
		return h.repo.Credentials().SaveTokensTx(ctx, tx, record)
	})
	if err != nil {
		if IsRichError(err, TextCodeInvalidCreds) {
			h.record(ctx, ActivityEvent{
				EventType: ActivityEventLoginFailure,
				Metadata:  map[string]any{"login_id": msg.LoginID},
			})
		}
		return richOrWrap(err, "login transaction failed")
	}

	h.record(ctx, ActivityEvent{EventType: ActivityEventLoginSuccess, UserID: pair.UserID})

	if msg.OnResponse != nil {
		msg.OnResponse(&pair)
	}
	return nil
}

func (h *LoginHandler) dummy() string {
	h.dummyOnce.Do(func() {
		hash, err := h.hasher.HashPassword("not-a-real-password-placeholder")
		if err != nil {
			h.logger.Error("failed to prepare dummy hash: %v", err)
		}
		h.dummyHash = hash
	})
	return h.dummyHash
}
