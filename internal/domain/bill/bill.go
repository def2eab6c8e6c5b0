// internal/domain/bill/bill.go
package bill

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Bill represents a single billing statement and its split between the two
// parties. Corresponds to one row of the 'bills' table. PeriodKey, Amount and
// DueDate are immutable once the row exists; only the notification and payment
// fields change over the bill's life.
type Bill struct {
	ID            int64
	PeriodKey     string // e.g. "pge_08_08_2025_28815", unique per statement
	Provider      string // short provider key, e.g. "pge"
	Amount        decimal.Decimal
	DueDate       time.Time
	PartyAPortion decimal.Decimal // the share requested from party A
	PartyBPortion decimal.Decimal // Amount - PartyAPortion, exact
	Notified      bool
	NotifiedAt    sql.NullTime
	Paid          bool
	PaidAt        sql.NullTime
	PaidBy        sql.NullString
	PaidAmount    decimal.NullDecimal
	PaymentRef    sql.NullString // payment service transaction/confirmation id
	SourceMsgID   sql.NullString // mailbox message id the statement came from
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Status reports the lifecycle state: CREATED -> NOTIFIED -> PAID.
// PAID is terminal and wins over NOTIFIED when both flags are set.
func (b *Bill) Status() Status {
	switch {
	case b.Paid:
		return StatusPaid
	case b.Notified:
		return StatusNotified
	default:
		return StatusCreated
	}
}

// PeriodLabel renders the billing period for humans, e.g. "August 2025".
// The period is derived from the due date, as the statement itself carries
// no explicit period field.
func (b *Bill) PeriodLabel() string {
	return b.DueDate.Format("January 2006")
}

// MakePeriodKey derives the natural key of a statement:
// <provider>_<MM_DD_YYYY of due date>_<amount in cents>.
// Two statements with the same provider, due date and amount are the same
// bill, no matter how many emails announce them.
func MakePeriodKey(provider string, dueDate time.Time, amount decimal.Decimal) string {
	return fmt.Sprintf("%s_%s_%d",
		strings.ToLower(provider),
		dueDate.Format("01_02_2006"),
		amount.Shift(2).IntPart(),
	)
}
