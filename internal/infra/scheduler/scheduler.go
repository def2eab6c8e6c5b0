// internal/infra/scheduler/scheduler.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bill_split_automation/internal/app"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// RunScheduler fires the automation's two scheduled passes: the statement
// scan and the payment check. Both are safe to repeat, since the upsert is
// idempotent and paid bills stay paid, so a daily sweep of each costs
// nothing beyond the mailbox queries.
type RunScheduler struct {
	cronEngine       *cron.Cron
	runner           app.RunService
	logger           *logrus.Entry
	cronSpecScan     string // e.g. "0 9 * * *"
	cronSpecPayments string // e.g. "0 18 * * *"
	runTimeout       time.Duration
	testMode         bool
}

func NewRunScheduler(
	runner app.RunService,
	logger *logrus.Entry,
	cronSpecScan string,
	cronSpecPayments string,
	runTimeout time.Duration,
	testMode bool,
) *RunScheduler {
	return &RunScheduler{
		cronEngine:       cron.New(cron.WithLocation(time.Local)),
		runner:           runner,
		logger:           logger,
		cronSpecScan:     cronSpecScan,
		cronSpecPayments: cronSpecPayments,
		runTimeout:       runTimeout,
		testMode:         testMode,
	}
}

// Start registers the cron jobs and starts the engine. Bad cron specs are
// configuration errors and surface immediately instead of at first fire time.
func (s *RunScheduler) Start() error {
	_, err := s.cronEngine.AddFunc(s.cronSpecScan, func() {
		s.trigger("scan", app.TriggerOptions{TestMode: s.testMode})
	})
	if err != nil {
		return fmt.Errorf("add scan job %q: %w", s.cronSpecScan, err)
	}

	_, err = s.cronEngine.AddFunc(s.cronSpecPayments, func() {
		s.trigger("payment_check", app.TriggerOptions{TestMode: s.testMode, PaymentCheckOnly: true})
	})
	if err != nil {
		return fmt.Errorf("add payment check job %q: %w", s.cronSpecPayments, err)
	}

	s.cronEngine.Start()
	s.logger.WithFields(logrus.Fields{
		"scan_spec":          s.cronSpecScan,
		"payment_check_spec": s.cronSpecPayments,
		"test_mode":          s.testMode,
	}).Info("scheduler started")
	return nil
}

// trigger executes one scheduled run under its own timeout context. Scheduled
// jobs log and return; they never panic and never retry on their own. The
// next scheduled fire is the retry.
func (s *RunScheduler) trigger(job string, opts app.TriggerOptions) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	log := s.logger.WithField("job", job)
	log.Info("scheduled run triggered")

	res, err := s.runner.Run(ctx, opts)
	switch {
	case errors.Is(err, app.ErrRunInProgress):
		log.Warn("previous run still executing, trigger skipped")
	case err != nil:
		log.WithError(err).Error("scheduled run failed")
	default:
		log.WithFields(logrus.Fields{
			"run_id":          res.RunID,
			"bills_processed": res.BillsProcessed,
			"payments_found":  res.PaymentsFound,
			"errors":          len(res.Errors),
		}).Info("scheduled run finished")
	}
}

// Stop halts the engine and waits for a job that is mid-run to finish.
func (s *RunScheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cronEngine.Stop().Done()
	s.logger.Info("scheduler stopped")
}
