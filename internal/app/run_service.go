// internal/app/run_service.go
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bill_split_automation/internal/compose"
	"bill_split_automation/internal/domain/bill"
	"bill_split_automation/internal/domain/email"
	"bill_split_automation/internal/domain/notify"
	"bill_split_automation/internal/infra/metrics"
	"bill_split_automation/internal/provider"
	"bill_split_automation/internal/split"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrRunInProgress is returned when a trigger arrives while another run is
// still executing. Runs are strictly one at a time; the caller retries later
// instead of queueing.
var ErrRunInProgress = fmt.Errorf("an automation run is already in progress")

// TriggerOptions select what a run does and whether it may touch the world.
type TriggerOptions struct {
	TestMode         bool // classify, extract and reconcile, but send nothing
	ManualTrigger    bool // dashboard or bot trigger rather than the schedule
	PaymentCheckOnly bool // skip the statement pass entirely
}

// RunResult summarizes one automation run for the dashboard and the logs.
type RunResult struct {
	RunID             string        `json:"run_id"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"-"`
	BillsProcessed    int           `json:"bills_processed"`
	Duplicates        int           `json:"duplicates"`
	NotificationsSent int           `json:"notifications_sent"`
	PaymentsFound     int           `json:"payments_found"`
	BillsUpdated      int           `json:"bills_updated"`
	Errors            []string      `json:"errors,omitempty"`
}

// RunService defines the operations for executing automation passes.
type RunService interface {
	// Run executes one batch pass: scan statements, store new bills, notify
	// unnotified ones, then match payment confirmations. Per-message problems
	// are collected in the result; a non-nil error means the run aborted on a
	// failed external call.
	Run(ctx context.Context, opts TriggerOptions) (*RunResult, error)
}

// RunConfig carries the tunables of a run.
type RunConfig struct {
	SplitRatioA         decimal.Decimal
	LookbackDays        int // statement search window
	PaymentLookbackDays int // confirmation search window
	SearchLimit         int // max messages per mailbox query
}

// RunServiceImpl implements the RunService interface.
type RunServiceImpl struct {
	mailbox       email.Mailbox
	statements    provider.StatementParser
	confirmations provider.ConfirmationParser
	reconciler    *Reconciler
	bills         bill.Repository
	composer      *compose.Composer
	senders       []notify.Sender
	alerts        notify.Sender // optional operator channel, may be nil
	metrics       *metrics.Metrics
	cfg           RunConfig
	logger        *logrus.Entry

	runMu sync.Mutex
}

func NewRunService(
	mailbox email.Mailbox,
	statements provider.StatementParser,
	confirmations provider.ConfirmationParser,
	reconciler *Reconciler,
	bills bill.Repository,
	composer *compose.Composer,
	senders []notify.Sender,
	alerts notify.Sender,
	m *metrics.Metrics,
	cfg RunConfig,
	logger *logrus.Entry,
) *RunServiceImpl {
	return &RunServiceImpl{
		mailbox:       mailbox,
		statements:    statements,
		confirmations: confirmations,
		reconciler:    reconciler,
		bills:         bills,
		composer:      composer,
		senders:       senders,
		alerts:        alerts,
		metrics:       m,
		cfg:           cfg,
		logger:        logger,
	}
}

func (s *RunServiceImpl) Run(ctx context.Context, opts TriggerOptions) (*RunResult, error) {
	if !s.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	res := &RunResult{RunID: uuid.New().String(), StartedAt: time.Now()}
	log := s.logger.WithFields(logrus.Fields{
		"run_id":    res.RunID,
		"test_mode": opts.TestMode,
		"manual":    opts.ManualTrigger,
	})
	log.Info("automation run started")

	trigger := "scheduled"
	if opts.ManualTrigger {
		trigger = "manual"
	}

	var runErr error
	if !opts.PaymentCheckOnly {
		runErr = s.scanStatements(ctx, opts, res, log)
		if runErr == nil {
			runErr = s.notifyPendingBills(ctx, opts, res, log)
		}
	}
	if runErr == nil {
		runErr = s.checkPayments(ctx, opts, res, log)
	}

	res.Duration = time.Since(res.StartedAt)
	s.metrics.ObserveRun(trigger, runErr, res.Duration)

	if runErr != nil {
		log.WithError(runErr).Error("automation run aborted")
		return res, runErr
	}

	log.WithFields(logrus.Fields{
		"bills_processed":    res.BillsProcessed,
		"duplicates":         res.Duplicates,
		"notifications_sent": res.NotificationsSent,
		"payments_found":     res.PaymentsFound,
		"bills_updated":      res.BillsUpdated,
		"duration":           res.Duration.Round(time.Millisecond).String(),
	}).Info("automation run finished")

	s.sendRunSummary(ctx, opts, res, log)
	return res, nil
}

// scanStatements runs the bill pass: search the provider's mail, classify,
// extract, split and store. A message that fails extraction is logged and
// skipped; a failed mailbox call or repository write aborts the run.
func (s *RunServiceImpl) scanStatements(ctx context.Context, opts TriggerOptions, res *RunResult, log *logrus.Entry) error {
	q := email.Query{
		From:  s.statements.Sender(),
		After: time.Now().AddDate(0, 0, -s.cfg.LookbackDays),
	}
	msgs, err := s.mailbox.Search(ctx, q, s.cfg.SearchLimit)
	if err != nil {
		return fmt.Errorf("mailbox search for statements: %w", err)
	}
	log.WithField("messages", len(msgs)).Info("statement scan fetched messages")

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if provider.Classify(msg, s.statements, s.confirmations) != provider.NewBill {
			continue
		}

		stmt, err := s.statements.Extract(msg)
		if err != nil {
			log.WithError(err).WithField("message_id", msg.ID).Warn("extraction failed, message skipped")
			res.Errors = append(res.Errors, err.Error())
			continue
		}

		partyA, partyB, err := split.Portions(stmt.Amount, s.cfg.SplitRatioA)
		if err != nil {
			// Ratio and amount problems are configuration errors: stop and
			// surface instead of silently skipping a real bill.
			return fmt.Errorf("split amount for message %s: %w", msg.ID, err)
		}

		candidate := &bill.Bill{
			PeriodKey:     bill.MakePeriodKey(stmt.Provider, stmt.DueDate, stmt.Amount),
			Provider:      stmt.Provider,
			Amount:        stmt.Amount,
			DueDate:       stmt.DueDate,
			PartyAPortion: partyA,
			PartyBPortion: partyB,
			SourceMsgID:   nullString(msg.ID),
		}
		stored, created, err := s.reconciler.UpsertBill(ctx, candidate)
		if err != nil {
			return fmt.Errorf("upsert bill %s: %w", candidate.PeriodKey, err)
		}
		if created {
			res.BillsProcessed++
			s.metrics.BillProcessed()
			log.WithFields(logrus.Fields{
				"period_key": stored.PeriodKey,
				"amount":     stored.Amount.StringFixed(2),
				"due_date":   stored.DueDate.Format("2006-01-02"),
			}).Info("new bill stored")
		} else {
			res.Duplicates++
			s.metrics.DuplicateSkipped()
			log.WithField("period_key", stored.PeriodKey).Info("duplicate statement skipped")
		}
	}
	return nil
}

// notifyPendingBills sends one payment request per unpaid, unnotified bill.
// The notified flag is set as soon as one channel succeeds; failed channels
// are retried on the next run because the flag stays false until then.
func (s *RunServiceImpl) notifyPendingBills(ctx context.Context, opts TriggerOptions, res *RunResult, log *logrus.Entry) error {
	unpaid, err := s.bills.ListUnpaid(ctx)
	if err != nil {
		return fmt.Errorf("list unpaid bills: %w", err)
	}

	for _, b := range unpaid {
		if b.Notified {
			continue
		}
		if opts.TestMode {
			log.WithField("period_key", b.PeriodKey).Info("test mode, notification suppressed")
			continue
		}
		if len(s.senders) == 0 {
			log.Warn("no notification channels configured, bills stay unnotified")
			return nil
		}

		msg, err := s.composer.Request(b)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("compose for %s: %v", b.PeriodKey, err))
			continue
		}

		var delivered []string
		for _, sender := range s.senders {
			if err := sender.Send(ctx, msg); err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"channel":    sender.Name(),
					"period_key": b.PeriodKey,
				}).Error("notification channel failed")
				res.Errors = append(res.Errors, fmt.Sprintf("%s notification for %s: %v", sender.Name(), b.PeriodKey, err))
				s.metrics.NotificationFailed(sender.Name())
				s.appendLog(ctx, b.ID, bill.LogNotificationFailed, fmt.Sprintf("channel %s: %v", sender.Name(), err))
				continue
			}
			delivered = append(delivered, sender.Name())
			s.metrics.NotificationSent(sender.Name())
		}
		if len(delivered) == 0 {
			continue
		}

		if err := s.bills.MarkNotified(ctx, b.ID, time.Now()); err != nil {
			return fmt.Errorf("mark bill %s notified: %w", b.PeriodKey, err)
		}
		res.NotificationsSent++
		s.appendLog(ctx, b.ID, bill.LogNotificationSent, "channels: "+strings.Join(delivered, ","))
		log.WithFields(logrus.Fields{
			"period_key": b.PeriodKey,
			"channels":   strings.Join(delivered, ","),
		}).Info("payment request sent")
	}
	return nil
}

// checkPayments runs the payment pass: search the payment service's mail and
// apply every confirmation found to the stored bills.
func (s *RunServiceImpl) checkPayments(ctx context.Context, opts TriggerOptions, res *RunResult, log *logrus.Entry) error {
	q := email.Query{
		From:  s.confirmations.Sender(),
		After: time.Now().AddDate(0, 0, -s.cfg.PaymentLookbackDays),
		Terms: s.confirmations.SearchTerms(),
	}
	msgs, err := s.mailbox.Search(ctx, q, s.cfg.SearchLimit)
	if err != nil {
		return fmt.Errorf("mailbox search for confirmations: %w", err)
	}
	log.WithField("messages", len(msgs)).Info("payment scan fetched messages")

	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if provider.Classify(msg, s.statements, s.confirmations) != provider.PaymentConfirmation {
			continue
		}

		conf, err := s.confirmations.Extract(msg)
		if err != nil {
			log.WithError(err).WithField("message_id", msg.ID).Warn("extraction failed, message skipped")
			res.Errors = append(res.Errors, err.Error())
			continue
		}

		matched, err := s.reconciler.ApplyConfirmation(ctx, conf)
		switch {
		case errors.Is(err, ErrAlreadyApplied):
			// Same receipt seen again because scan windows overlap.
			log.WithField("period_key", matched.PeriodKey).Debug("confirmation already applied")
		case errors.Is(err, ErrAlreadyPaid):
			res.PaymentsFound++
			res.Errors = append(res.Errors, fmt.Sprintf("confirmation from %s for $%s: %v",
				conf.Payer, conf.Amount.StringFixed(2), err))
		case errors.Is(err, ErrNoMatch):
			res.PaymentsFound++
			log.WithFields(logrus.Fields{
				"payer":  conf.Payer,
				"amount": conf.Amount.StringFixed(2),
			}).Info("confirmation matches no bill yet, will retry next scan")
		case err != nil:
			return fmt.Errorf("apply confirmation from message %s: %w", msg.ID, err)
		default:
			res.PaymentsFound++
			res.BillsUpdated++
			s.metrics.PaymentMatched()
			log.WithFields(logrus.Fields{
				"period_key": matched.PeriodKey,
				"payer":      conf.Payer,
				"amount":     conf.Amount.StringFixed(2),
			}).Info("bill marked paid")
			s.alertPaymentReceived(ctx, opts, matched, conf, log)
		}
	}
	return nil
}

func (s *RunServiceImpl) alertPaymentReceived(ctx context.Context, opts TriggerOptions, b *bill.Bill, conf provider.Confirmation, log *logrus.Entry) {
	if s.alerts == nil || opts.TestMode {
		return
	}
	text := fmt.Sprintf("Payment received: $%s from %s for %s (%s)",
		conf.Amount.StringFixed(2), conf.Payer, b.PeriodLabel(), b.PeriodKey)
	if err := s.alerts.Send(ctx, notify.Message{Text: text}); err != nil {
		log.WithError(err).Warn("operator payment alert failed")
	}
}

func (s *RunServiceImpl) sendRunSummary(ctx context.Context, opts TriggerOptions, res *RunResult, log *logrus.Entry) {
	if s.alerts == nil || opts.TestMode {
		return
	}
	if res.BillsProcessed == 0 && res.BillsUpdated == 0 && len(res.Errors) == 0 {
		return
	}
	text := fmt.Sprintf("Run finished: %d new bills, %d duplicates, %d notified, %d payments applied, %d errors",
		res.BillsProcessed, res.Duplicates, res.NotificationsSent, res.BillsUpdated, len(res.Errors))
	if err := s.alerts.Send(ctx, notify.Message{Text: text}); err != nil {
		log.WithError(err).Warn("operator run summary failed")
	}
}

func (s *RunServiceImpl) appendLog(ctx context.Context, billID int64, action bill.LogAction, details string) {
	entry := &bill.LogEntry{BillID: billID, Action: action, Details: details}
	if err := s.bills.AppendLog(ctx, entry); err != nil {
		s.logger.WithError(err).WithField("bill_id", billID).Warn("processing log append failed")
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
