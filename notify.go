package goTenant

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goTenant/internal/notify"
)

// NotificationRequest is one templated message for the delivery layer.
type NotificationRequest = notify.Request

// NotificationSink receives notification requests from the engine's
// background dispatcher.
type NotificationSink = notify.Sink

type (
	ChannelNotificationSink = notify.ChannelSink
	JSONNotificationSink    = notify.JSONWriterSink
)

// Notification templates emitted by the engine.
const (
	TemplateNewAccount        = "new_account"
	TemplateMagicSignIn       = "magic_signin"
	TemplateBlockedSignIn     = "blocked_signin"
	TemplateNewSignIn         = "new_signin"
	TemplatePasswordReset     = "password_reset"
	TemplatePasswordUpdated   = "password_updated"
	TemplateNewPlan           = "new_plan"
	TemplatePlanUpdated       = "plan_updated"
	TemplateCardUpdated       = "card_updated"
	TemplateAccountClosed     = "account_closed"
	TemplateTrialExpiring     = "trial_expiring"
	TemplateTrialExpired      = "trial_expired"
	TemplateUnverifiedAccount = "unverified_account"
	TemplateNewAPIKey         = "new_api_key"
	TemplateTwoFactorEnabled  = "two_factor_enabled"
)

// DefaultNotifications are created active for every new member.
var DefaultNotifications = []string{TemplateNewSignIn, TemplatePlanUpdated, TemplateCardUpdated}

func NewChannelNotificationSink(buffer int) *ChannelNotificationSink { return notify.NewChannelSink(buffer) }
func NewJSONNotificationSink(w io.Writer) *JSONNotificationSink      { return notify.NewJSONWriterSink(w) }
func NewLogNotificationSink(log zerolog.Logger) NotificationSink     { return notify.LogSink{Log: log} }

func (e *Engine) notify(ctx context.Context, to, template, accountID string, content map[string]string) {
	if e.notifier == nil || to == "" {
		return
	}
	e.notifier.Enqueue(ctx, notify.Request{
		To:        to,
		Template:  template,
		Content:   content,
		AccountID: accountID,
		CreatedAt: e.now().UTC(),
	})
}

// notifyIfEnabled sends only when the user's setting for template is on.
func (e *Engine) notifyIfEnabled(ctx context.Context, userID, to, template, accountID string, content map[string]string) {
	on, err := e.stores.NotificationEnabled(ctx, userID, accountID, template)
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", userID).Str("template", template).Msg("notification setting lookup failed")
		return
	}
	if on {
		e.notify(ctx, to, template, accountID, content)
	}
}

// NotificationsDropped reports requests lost to a full buffer.
func (e *Engine) NotificationsDropped() uint64 {
	if e == nil || e.notifier == nil {
		return 0
	}
	return e.notifier.Dropped()
}
