// internal/domain/bill/repository.go
package bill

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Payment carries the fields extracted from a payment confirmation that get
// written onto a bill when it is marked paid.
type Payment struct {
	PaidBy     string
	PaidAmount decimal.Decimal
	PaymentRef string
	PaidAt     time.Time
}

// Repository defines the operations for persisting and retrieving bills and
// their processing log.
type Repository interface {
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id int64) (*Bill, error)
	GetByPeriodKey(ctx context.Context, periodKey string) (*Bill, error)
	// MarkNotified flips the notified flag and stamps notified_at.
	MarkNotified(ctx context.Context, id int64, at time.Time) error
	// MarkPaid sets the payment fields. It must refuse to touch a bill that
	// is already paid: paid is terminal.
	MarkPaid(ctx context.Context, id int64, p Payment) error
	// ListUnpaid returns unpaid bills ordered by due date ascending, so the
	// oldest bill wins when several could match a payment.
	ListUnpaid(ctx context.Context) ([]*Bill, error)
	ListAll(ctx context.Context) ([]*Bill, error) // newest first, for the dashboard

	AppendLog(ctx context.Context, entry *LogEntry) error
	ListLogByBill(ctx context.Context, billID int64) ([]*LogEntry, error)
}
