// Package notify delivers user-facing notices.
//
// LogNotifier stands in for a mail gateway: it records each notice in the log,
// paced by a token-bucket limiter the way an outbound gateway would be.
package notify

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// Kind distinguishes notice templates.
type Kind string

const (
	KindWelcome    Kind = "welcome"
	KindCompletion Kind = "completion"
)

// Notice is one message to one user.
type Notice struct {
	Kind    Kind
	UserID  string
	Name    string
	Email   string
	Subject string
	Body    string
}

// Notifier sends notices.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// LogNotifier writes notices to a logger at a bounded rate.
type LogNotifier struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewLogNotifier allows perSecond notices per second with the given burst.
func NewLogNotifier(perSecond float64, burst int, logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if burst < 1 {
		burst = 1
	}
	return &LogNotifier{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger,
	}
}

// Notify waits for the limiter, then logs the notice.
func (n *LogNotifier) Notify(ctx context.Context, notice Notice) error {
	if notice.Email == "" {
		return errors.Newf("notice %s for user %s has no recipient", notice.Kind, notice.UserID)
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "wait for send slot")
	}
	n.logger.Info("notice sent",
		"kind", notice.Kind,
		"user_id", notice.UserID,
		"email", notice.Email,
		"subject", notice.Subject)
	return nil
}

// Welcome builds the registration notice.
func Welcome(userID, name, email string) Notice {
	return Notice{
		Kind:    KindWelcome,
		UserID:  userID,
		Name:    name,
		Email:   email,
		Subject: "Welcome aboard",
		Body:    "Hi " + name + ", your registration is complete. We are processing your document.",
	}
}

// Completion builds the notice sent once a document has been converted.
func Completion(userID, name, email string) Notice {
	return Notice{
		Kind:    KindCompletion,
		UserID:  userID,
		Name:    name,
		Email:   email,
		Subject: "Your document is ready",
		Body:    "Hi " + name + ", your document has been converted to PDF.",
	}
}
