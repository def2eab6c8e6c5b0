// internal/infra/telegram/alert_sender.go
package telegram

import (
	"context"
	"fmt"

	"bill_split_automation/internal/domain/notify"
	domainTelegram "bill_split_automation/internal/domain/telegram"
)

// AlertSender pushes run summaries and payment alerts to the operator's
// Telegram chat. It implements notify.Sender so the run service can treat
// the operator channel like any other.
type AlertSender struct {
	client domainTelegram.Client
	chatID int64
}

func NewAlertSender(client domainTelegram.Client, chatID int64) *AlertSender {
	return &AlertSender{client: client, chatID: chatID}
}

func (s *AlertSender) Name() string { return "telegram" }

// Send delivers the short text form of the notification. Telegram has no
// use for the subject or HTML variants.
func (s *AlertSender) Send(ctx context.Context, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.client.SendMessage(s.chatID, msg.Text, nil); err != nil {
		return fmt.Errorf("telegram send to %d: %w", s.chatID, err)
	}
	return nil
}
