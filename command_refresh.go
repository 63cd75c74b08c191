package auth

import (
	"context"

	"github.com/uptrace/bun"
)

type RefreshTokenMessage struct {
	RefreshToken string
	OnResponse   func(pair *TokenPair) `json:"-"`
}

func (m RefreshTokenMessage) Type() string { return "credential.refresh" }

// RefreshTokenHandler rotates a token pair. The presented refresh token
// must be valid and still the one on file.
type RefreshTokenHandler struct {
	handlerBase
}

func NewRefreshTokenHandler(repo RepositoryManager, tokens TokenService, opts ...HandlerOption) *RefreshTokenHandler {
	return &RefreshTokenHandler{handlerBase: newHandlerBase(repo, tokens, opts...)}
}

func (h *RefreshTokenHandler) Execute(ctx context.Context, msg RefreshTokenMessage) error {
	return guard(ctx, "token refresh", func(ctx context.Context) error {
		return h.execute(ctx, msg)
	})
}

func (h *RefreshTokenHandler) execute(ctx context.Context, msg RefreshTokenMessage) error {
	result := h.tokens.Validate(msg.RefreshToken, TokenKindRefresh)
	if !result.Valid() {
		h.rejected(ctx, 0, result.Failure.String())
		return result.Err()
	}

	identity, ok := result.Identity()
	if !ok {
		h.rejected(ctx, 0, "subject")
		return ErrTokenInvalid
	}

	var pair TokenPair

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := h.repo.Credentials().GetByUserIDTx(ctx, tx, identity)
		if err != nil {
			if IsRichError(err, TextCodeCredentialNotFound) {
				return ErrTokenMismatch
			}
			return err
		}

		if record.RefreshToken == nil || *record.RefreshToken != msg.RefreshToken {
			return ErrTokenMismatch
		}

		pair, err = h.issuePair(identity)
		if err != nil {
			return err
		}

		record.SetTokens(pair.AccessToken, pair.RefreshToken, pair.IssuedAt)
		swapped, err := h.repo.Credentials().RotateTokensTx(ctx, tx, record, msg.RefreshToken)
		if err != nil {
			return err
		}
		if !swapped {
			return ErrTokenMismatch
		}
		return nil
	})
	if err != nil {
		if IsRichError(err, TextCodeTokenMismatch) {
			h.rejected(ctx, identity, "mismatch")
		}
		return richOrWrap(err, "token refresh transaction failed")
	}

	h.record(ctx, ActivityEvent{EventType: ActivityEventTokenRefreshed, UserID: identity})

	if msg.OnResponse != nil {
		msg.OnResponse(&pair)
	}
	return nil
}

func (h *RefreshTokenHandler) rejected(ctx context.Context, identity int64, reason string) {
	h.record(ctx, ActivityEvent{
		EventType: ActivityEventTokenRejected,
		UserID:    identity,
		Metadata:  map[string]any{"reason": reason},
	})
}
