package auth

import (
	"context"

	"github.com/uptrace/bun"
)

type DeleteCredentialMessage struct {
	UserID int64 `json:"userId"`
}

func (m DeleteCredentialMessage) Type() string { return "credential.delete" }

// DeleteCredentialHandler removes the record of a deleted identity.
// Deleting an unknown identity is not an error.
type DeleteCredentialHandler struct {
	handlerBase
}

func NewDeleteCredentialHandler(repo RepositoryManager, opts ...HandlerOption) *DeleteCredentialHandler {
	return &DeleteCredentialHandler{handlerBase: newHandlerBase(repo, nil, opts...)}
}

func (h *DeleteCredentialHandler) Execute(ctx context.Context, msg DeleteCredentialMessage) error {
	return guard(ctx, "credential deletion", func(ctx context.Context) error {
		var deleted bool
		err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			var err error
			deleted, err = h.repo.Credentials().DeleteByUserIDTx(ctx, tx, msg.UserID)
			return err
		})
		if err != nil {
			return richOrWrap(err, "credential deletion failed")
		}

		if deleted {
			h.record(ctx, ActivityEvent{EventType: ActivityEventCredentialDeleted, UserID: msg.UserID})
		} else {
			h.logger.Debug("no credential to delete for user %d", msg.UserID)
		}
		return nil
	})
}
