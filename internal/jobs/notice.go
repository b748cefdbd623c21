package jobs

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/jdziat/docpipeline/internal/docs"
	"github.com/jdziat/docpipeline/internal/notify"
	"github.com/jdziat/docpipeline/pkg/core"
	"github.com/jdziat/docpipeline/pkg/handler"
	"github.com/jdziat/docpipeline/pkg/jobctx"
)

// Welcome sends the registration notice.
func (h *Handlers) Welcome(ctx context.Context, p UserPayload) (handler.Result, error) {
	return h.sendNotice(ctx, KindWelcome, p.UserID, notify.Welcome)
}

// Completion tells the user their document has been converted.
func (h *Handlers) Completion(ctx context.Context, p UserPayload) (handler.Result, error) {
	return h.sendNotice(ctx, KindCompletion, p.UserID, notify.Completion)
}

// sendNotice delivers a notice to userID. A user that no longer exists is
// not an error; retrying would not bring them back.
func (h *Handlers) sendNotice(ctx context.Context, kind, userID string, build func(id, name, email string) notify.Notice) (handler.Result, error) {
	logger := jobctx.Logger(ctx).With("user_id", userID)

	user, err := h.docs.GetUser(ctx, userID)
	if errors.Is(err, docs.ErrUserNotFound) {
		logger.Warn("user not found, skipping notice")
		return handler.Result{}, nil
	}
	if err != nil {
		return handler.Result{}, &core.HandlerError{Kind: kind, Err: err}
	}

	if err := h.notifier.Notify(ctx, build(user.ID, user.Name, user.Email)); err != nil {
		return handler.Result{}, &core.HandlerError{
			Kind: kind,
			Err:  errors.WithSecondaryError(errors.Wrapf(core.ErrNotificationFailed, "notify %s: %v", user.Email, err), err),
		}
	}
	logger.Info("notice delivered", "email", user.Email)
	return handler.Result{}, nil
}
