// Package slack posts payment notifications to a Slack channel.
package slack

import (
	"context"
	"fmt"
	"strings"

	"github.com/boddenberg/vehicle-tax-portal/internal/domain"

	"github.com/slack-go/slack"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("slack")

// Notifier implements port.PaymentNotifier.
type Notifier struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewNotifier creates a Notifier. opts are passed to slack.New, e.g.
// slack.OptionAPIURL in tests.
func NewNotifier(token, channel string, logger *zap.Logger, opts ...slack.Option) *Notifier {
	return &Notifier{
		client:  slack.New(token, opts...),
		channel: channel,
		logger:  logger,
	}
}

// PaymentRecorded posts a one-line summary of the payment.
func (n *Notifier) PaymentRecorded(ctx context.Context, p *domain.Payment, d *domain.Declaration, tp *domain.Taxpayer) error {
	ctx, span := tracer.Start(ctx, "Notifier.PaymentRecorded")
	defer span.End()

	msg := FormatPayment(p, d, tp)
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(msg, false)); err != nil {
		span.RecordError(err)
		return &domain.ErrExternalService{Service: "slack", Err: err}
	}
	n.logger.Debug("payment notification sent",
		zap.String("channel", n.channel),
		zap.String("payment_reference", p.Reference),
	)
	return nil
}

// FormatPayment renders the notification text.
func FormatPayment(p *domain.Payment, d *domain.Declaration, tp *domain.Taxpayer) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, ":white_check_mark: Payment *%s* recorded", p.Reference)
	if d != nil {
		fmt.Fprintf(&sb, " for declaration *%s* (%d form(s))", d.Reference, len(d.Forms))
	}
	fmt.Fprintf(&sb, "\nMethod: %s | Total: %s", p.Method, p.Total.StringFixed(2))
	if !p.Penalties.IsZero() {
		fmt.Fprintf(&sb, " (penalties %s)", p.Penalties.StringFixed(2))
	}
	if tp != nil {
		fmt.Fprintf(&sb, "\nTaxpayer: %s", tp.Name)
	}
	if d != nil && d.SiteCode != "" {
		fmt.Fprintf(&sb, " | Site: %s", d.SiteCode)
	}
	return sb.String()
}

// Nop discards notifications.
type Nop struct{}

// PaymentRecorded does nothing.
func (Nop) PaymentRecorded(context.Context, *domain.Payment, *domain.Declaration, *domain.Taxpayer) error {
	return nil
}
