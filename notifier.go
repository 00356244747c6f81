package hybridAuth

import (
	"context"
	"net/url"

	"go.uber.org/zap"
)

// NotificationKind identifies an out-of-band message.
type NotificationKind string

const (
	NotifyPasswordReset     NotificationKind = "password_reset"
	NotifyEmailVerification NotificationKind = "email_verification"
)

// Notification carries a single-use token to the account owner.
type Notification struct {
	Kind      NotificationKind
	AccountID string
	Email     string
	Token     string
	Link      string
}

// Notifier delivers reset and verification links. Delivery errors are
// logged and never reported to the requester.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes links to the log instead of sending mail. It is meant
// for development deployments without an outbound mail relay.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notifier")}
}

func (n *LogNotifier) Notify(_ context.Context, msg Notification) error {
	n.logger.Info("notification",
		zap.String("kind", string(msg.Kind)),
		zap.String("account_id", msg.AccountID),
		zap.String("email", msg.Email),
		zap.String("link", msg.Link),
	)
	return nil
}

func buildLink(base, token string) string {
	if base == "" {
		return token
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + token
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
