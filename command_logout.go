package auth

import (
	"context"

	"github.com/uptrace/bun"
)

type LogoutMessage struct {
	RefreshToken string
	// All marks a logout-all request. With a single pair per record the
	// effect is the same, it only changes what gets recorded.
	All bool
}

func (m LogoutMessage) Type() string { return "credential.logout" }

// LogoutHandler clears the token pair of the record named by the
// refresh token. It never fails for a bad or missing token.
type LogoutHandler struct {
	handlerBase
}

func NewLogoutHandler(repo RepositoryManager, tokens TokenService, opts ...HandlerOption) *LogoutHandler {
	return &LogoutHandler{handlerBase: newHandlerBase(repo, tokens, opts...)}
}

func (h *LogoutHandler) Execute(ctx context.Context, msg LogoutMessage) error {
	return guard(ctx, "logout", func(ctx context.Context) error {
		return h.execute(ctx, msg)
	})
}

func (h *LogoutHandler) execute(ctx context.Context, msg LogoutMessage) error {
	identity, ok := h.tokens.Validate(msg.RefreshToken, TokenKindRefresh).SignedIdentity()
	if !ok {
		h.logger.Debug("logout without a usable refresh token")
		return nil
	}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return h.repo.Credentials().ClearTokensTx(ctx, tx, identity)
	})
	if err != nil {
		return richOrWrap(err, "logout transaction failed")
	}

	h.record(ctx, ActivityEvent{
		EventType: ActivityEventLogout,
		UserID:    identity,
		Metadata:  map[string]any{"all": msg.All},
	})
	return nil
}
