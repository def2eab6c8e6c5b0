// internal/app/reconciler.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bill_split_automation/internal/domain/bill"
	idb "bill_split_automation/internal/infra/database"
	"bill_split_automation/internal/provider"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Reconciliation outcomes for payment confirmations.
var (
	// ErrNoMatch means no bill matches the confirmation yet. Not fatal: the
	// confirmation is picked up again on the next scan.
	ErrNoMatch = fmt.Errorf("confirmation matches no unpaid bill")
	// ErrAlreadyPaid means a second, different confirmation matched a bill
	// that is already paid. Paid is terminal, so this is an anomaly to flag.
	ErrAlreadyPaid = fmt.Errorf("confirmation matches a bill that is already paid")
	// ErrAlreadyApplied means this exact confirmation was applied on an
	// earlier scan. Expected whenever scan windows overlap; benign.
	ErrAlreadyApplied = fmt.Errorf("confirmation was already applied to a paid bill")
)

// Reconciler owns the two state transitions of a bill's life: creating it
// from a statement (exactly once per period key) and marking it paid from a
// confirmation (at most once, FIFO across candidates).
type Reconciler struct {
	bills       bill.Repository
	tolerance   decimal.Decimal
	matchWindow time.Duration // 0 disables the due-date proximity check
	logger      *logrus.Entry
}

func NewReconciler(bills bill.Repository, tolerance decimal.Decimal, matchWindowDays int, logger *logrus.Entry) *Reconciler {
	return &Reconciler{
		bills:       bills,
		tolerance:   tolerance,
		matchWindow: time.Duration(matchWindowDays) * 24 * time.Hour,
		logger:      logger,
	}
}

// UpsertBill stores a newly extracted bill unless its period key already
// exists, in which case the stored row is returned untouched. The unique
// index on period_key backs this check: when two inserts race, the loser
// re-reads the winner's row.
func (r *Reconciler) UpsertBill(ctx context.Context, candidate *bill.Bill) (*bill.Bill, bool, error) {
	existing, err := r.bills.GetByPeriodKey(ctx, candidate.PeriodKey)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, idb.ErrBillNotFound) {
		return nil, false, fmt.Errorf("lookup bill %s: %w", candidate.PeriodKey, err)
	}

	if err := r.bills.Create(ctx, candidate); err != nil {
		if errors.Is(err, idb.ErrDuplicateBill) {
			existing, gerr := r.bills.GetByPeriodKey(ctx, candidate.PeriodKey)
			if gerr != nil {
				return nil, false, fmt.Errorf("re-read bill %s after duplicate insert: %w", candidate.PeriodKey, gerr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create bill %s: %w", candidate.PeriodKey, err)
	}

	r.appendLog(ctx, candidate.ID, bill.LogBillCreated,
		fmt.Sprintf("amount $%s, due %s, portions $%s / $%s",
			candidate.Amount.StringFixed(2), candidate.DueDate.Format("01/02/2006"),
			candidate.PartyAPortion.StringFixed(2), candidate.PartyBPortion.StringFixed(2)))
	return candidate, true, nil
}

// ApplyConfirmation matches a payment confirmation against stored bills and
// marks the match paid. Candidates are unpaid bills whose party A portion is
// within tolerance of the paid amount and whose due date lies within the
// match window of the payment date; the oldest due date wins ties.
func (r *Reconciler) ApplyConfirmation(ctx context.Context, conf provider.Confirmation) (*bill.Bill, error) {
	unpaid, err := r.bills.ListUnpaid(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unpaid bills: %w", err)
	}

	for _, b := range unpaid {
		if !r.matches(b, conf) {
			continue
		}
		payment := bill.Payment{
			PaidBy:     conf.Payer,
			PaidAmount: conf.Amount,
			PaymentRef: conf.PaymentRef,
			PaidAt:     conf.Date,
		}
		if err := r.bills.MarkPaid(ctx, b.ID, payment); err != nil {
			return nil, fmt.Errorf("mark bill %s paid: %w", b.PeriodKey, err)
		}
		r.appendLog(ctx, b.ID, bill.LogPaymentConfirmed,
			fmt.Sprintf("$%s from %s, ref %q", conf.Amount.StringFixed(2), conf.Payer, conf.PaymentRef))

		updated, gerr := r.bills.GetByID(ctx, b.ID)
		if gerr != nil {
			return nil, fmt.Errorf("re-read bill %s after payment: %w", b.PeriodKey, gerr)
		}
		return updated, nil
	}

	// Nothing unpaid matches. Check paid bills to tell a re-scanned
	// confirmation apart from a genuine double payment.
	all, err := r.bills.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	for _, b := range all {
		if !b.Paid || !r.matches(b, conf) {
			continue
		}
		if b.PaymentRef.String == conf.PaymentRef {
			return b, ErrAlreadyApplied
		}
		r.appendLog(ctx, b.ID, bill.LogPaymentRejected,
			fmt.Sprintf("second confirmation $%s from %s, ref %q rejected: bill already paid",
				conf.Amount.StringFixed(2), conf.Payer, conf.PaymentRef))
		r.logger.WithFields(logrus.Fields{
			"period_key":  b.PeriodKey,
			"payer":       conf.Payer,
			"amount":      conf.Amount.StringFixed(2),
			"payment_ref": conf.PaymentRef,
		}).Warn("confirmation rejected, bill already paid")
		return b, ErrAlreadyPaid
	}

	return nil, ErrNoMatch
}

func (r *Reconciler) matches(b *bill.Bill, conf provider.Confirmation) bool {
	if b.PartyAPortion.Sub(conf.Amount).Abs().GreaterThan(r.tolerance) {
		return false
	}
	if r.matchWindow > 0 {
		gap := conf.Date.Sub(b.DueDate)
		if gap < 0 {
			gap = -gap
		}
		if gap > r.matchWindow {
			return false
		}
	}
	return true
}

// appendLog writes a processing-log entry. Log rows are best effort: a
// failure here must never fail the state transition that already happened.
func (r *Reconciler) appendLog(ctx context.Context, billID int64, action bill.LogAction, details string) {
	entry := &bill.LogEntry{BillID: billID, Action: action, Details: details}
	if err := r.bills.AppendLog(ctx, entry); err != nil {
		r.logger.WithError(err).WithField("bill_id", billID).Warn("processing log append failed")
	}
}
