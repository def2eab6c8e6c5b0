// internal/infra/telegram/operator_handlers.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bill_split_automation/internal/app"
	"bill_split_automation/internal/domain/bill"
	idb "bill_split_automation/internal/infra/database"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const maxBillsListed = 10

// RegisterOperatorHandlers wires the operator commands onto the bot. Every
// command is authorized against the configured operator id; anybody else gets
// a short refusal. Commands run in test mode unless the literal argument
// "live" is given, so a fat-fingered /run never texts the roommate.
func RegisterOperatorHandlers(
	ctx context.Context,
	b *telebot.Bot,
	runner app.RunService,
	adminService *app.AdminService,
	operatorID int64,
	runTimeout time.Duration,
	baseLogger *logrus.Entry,
) {
	authorized := func(c telebot.Context, log *logrus.Entry) bool {
		if c.Sender().ID == operatorID {
			return true
		}
		log.WithField("sender_id", c.Sender().ID).Warn("unauthorized command ignored")
		_ = c.Send("This bot only answers to its operator.")
		return false
	}

	runAndReport := func(c telebot.Context, log *logrus.Entry, opts app.TriggerOptions) error {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()

		res, err := runner.Run(runCtx, opts)
		switch {
		case errors.Is(err, app.ErrRunInProgress):
			return c.Send("A run is already in progress, try again in a minute.")
		case err != nil:
			log.WithError(err).Error("manual run failed")
			return c.Send(fmt.Sprintf("Run failed: %v", err))
		}

		var sb strings.Builder
		mode := "TEST MODE"
		if !opts.TestMode {
			mode = "live"
		}
		fmt.Fprintf(&sb, "Run %s finished (%s, %s)\n", shortRunID(res.RunID), mode, res.Duration.Round(time.Millisecond))
		if !opts.PaymentCheckOnly {
			fmt.Fprintf(&sb, "New bills: %d (duplicates: %d)\n", res.BillsProcessed, res.Duplicates)
			fmt.Fprintf(&sb, "Notifications sent: %d\n", res.NotificationsSent)
		}
		fmt.Fprintf(&sb, "Payments found: %d, applied: %d\n", res.PaymentsFound, res.BillsUpdated)
		if len(res.Errors) > 0 {
			fmt.Fprintf(&sb, "Errors (%d):\n", len(res.Errors))
			for _, e := range res.Errors {
				fmt.Fprintf(&sb, "- %s\n", e)
			}
		}
		return c.Send(strings.TrimRight(sb.String(), "\n"))
	}

	b.Handle("/run", func(c telebot.Context) error {
		log := baseLogger.WithFields(logrus.Fields{"handler": "/run", "sender_id": c.Sender().ID})
		if !authorized(c, log) {
			return nil
		}
		live := hasLiveArg(c.Args())
		log.WithField("live", live).Info("manual run triggered")
		return runAndReport(c, log, app.TriggerOptions{TestMode: !live, ManualTrigger: true})
	})

	b.Handle("/payments", func(c telebot.Context) error {
		log := baseLogger.WithFields(logrus.Fields{"handler": "/payments", "sender_id": c.Sender().ID})
		if !authorized(c, log) {
			return nil
		}
		live := hasLiveArg(c.Args())
		log.WithField("live", live).Info("manual payment check triggered")
		return runAndReport(c, log, app.TriggerOptions{TestMode: !live, ManualTrigger: true, PaymentCheckOnly: true})
	})

	b.Handle("/bills", func(c telebot.Context) error {
		log := baseLogger.WithFields(logrus.Fields{"handler": "/bills", "sender_id": c.Sender().ID})
		if !authorized(c, log) {
			return nil
		}

		bills, err := adminService.ListBills(ctx)
		if err != nil {
			log.WithError(err).Error("list bills failed")
			return c.Send(fmt.Sprintf("Could not list bills: %v", err))
		}
		if len(bills) == 0 {
			return c.Send("No bills stored yet.")
		}

		var sb strings.Builder
		shown := bills
		if len(shown) > maxBillsListed {
			shown = shown[:maxBillsListed]
		}
		fmt.Fprintf(&sb, "Latest %d of %d bills:\n", len(shown), len(bills))
		for _, item := range shown {
			sb.WriteString(formatBillLine(item))
			sb.WriteString("\n")
		}
		return c.Send(strings.TrimRight(sb.String(), "\n"))
	})

	b.Handle("/resend", func(c telebot.Context) error {
		log := baseLogger.WithFields(logrus.Fields{"handler": "/resend", "sender_id": c.Sender().ID})
		if !authorized(c, log) {
			return nil
		}

		args := c.Args()
		if len(args) < 1 || len(args) > 2 {
			return c.Send("Usage: /resend <period_key> [live]")
		}
		periodKey := args[0]
		live := hasLiveArg(args)
		log = log.WithFields(logrus.Fields{"period_key": periodKey, "live": live})

		result, err := adminService.CreatePaymentRequest(ctx, periodKey, !live)
		switch {
		case errors.Is(err, idb.ErrBillNotFound):
			return c.Send(fmt.Sprintf("No bill with period key %s.", periodKey))
		case errors.Is(err, app.ErrBillIsPaid):
			return c.Send(fmt.Sprintf("Bill %s is already paid, nothing to resend.", periodKey))
		case err != nil:
			log.WithError(err).Error("manual resend failed")
			return c.Send(fmt.Sprintf("Resend failed: %v", err))
		}

		if !result.Sent {
			return c.Send(fmt.Sprintf("TEST MODE, nothing sent. Payment link:\n%s", result.Links.Web))
		}
		log.Info("manual resend delivered")
		return c.Send(fmt.Sprintf("Payment request for %s sent ($%s).",
			periodKey, result.Bill.PartyAPortion.StringFixed(2)))
	})

	b.Handle("/start", func(c telebot.Context) error {
		log := baseLogger.WithFields(logrus.Fields{"handler": "/start", "sender_id": c.Sender().ID})
		if !authorized(c, log) {
			return nil
		}
		return c.Send("Bill split automation at your service. /help lists the commands.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		log := baseLogger.WithFields(logrus.Fields{"handler": "/help", "sender_id": c.Sender().ID})
		if !authorized(c, log) {
			return nil
		}
		var helpText strings.Builder
		helpText.WriteString("Available commands:\n\n")
		helpText.WriteString("/run [live] - scan for new bills, notify, then check payments. Test mode unless 'live'.\n\n")
		helpText.WriteString("/payments [live] - check for payment confirmations only.\n\n")
		helpText.WriteString("/bills - list the latest stored bills and their status.\n\n")
		helpText.WriteString("/resend <period_key> [live] - re-send the payment request for one bill.\n\n")
		helpText.WriteString("/help - show this message.")
		return c.Send(helpText.String())
	})
}

func hasLiveArg(args []string) bool {
	for _, a := range args {
		if strings.EqualFold(a, "live") {
			return true
		}
	}
	return false
}

func formatBillLine(b *bill.Bill) string {
	return fmt.Sprintf("%s: $%s due %s, share $%s [%s]",
		b.PeriodKey,
		b.Amount.StringFixed(2),
		b.DueDate.Format("01/02/2006"),
		b.PartyAPortion.StringFixed(2),
		b.Status(),
	)
}

// shortRunID keeps bot replies readable; the full uuid is in the logs.
func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
