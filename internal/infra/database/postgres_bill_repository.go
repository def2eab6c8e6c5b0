// internal/infra/database/postgres_bill_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"bill_split_automation/internal/domain/bill"

	"github.com/google/uuid"
)

// Custom errors specific to the bill repository.
var (
	ErrBillNotFound    = fmt.Errorf("bill not found")
	ErrDuplicateBill   = fmt.Errorf("duplicate bill (period_key)")
	ErrBillAlreadyPaid = fmt.Errorf("bill is already paid")
)

const billColumns = `id, period_key, provider, amount, due_date, party_a_portion, party_b_portion,
	notified, notified_at, paid, paid_at, paid_by, paid_amount, payment_ref, source_message_id,
	created_at, updated_at`

type PostgresBillRepository struct {
	db *sql.DB
}

func NewPostgresBillRepository(db *sql.DB) *PostgresBillRepository {
	return &PostgresBillRepository{db: db}
}

func (r *PostgresBillRepository) Create(ctx context.Context, b *bill.Bill) error {
	query := `INSERT INTO bills (period_key, provider, amount, due_date, party_a_portion, party_b_portion,
	               notified, paid, source_message_id)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	           RETURNING id, created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		b.PeriodKey, b.Provider, b.Amount, b.DueDate, b.PartyAPortion, b.PartyBPortion,
		b.Notified, b.Paid, b.SourceMsgID,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "bills_period_key_unique") {
			return ErrDuplicateBill
		}
		return fmt.Errorf("error creating bill: %w", err)
	}
	return nil
}

func (r *PostgresBillRepository) GetByID(ctx context.Context, id int64) (*bill.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE id = $1`
	b, err := scanBill(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBillNotFound
		}
		return nil, fmt.Errorf("error getting bill by id: %w", err)
	}
	return b, nil
}

func (r *PostgresBillRepository) GetByPeriodKey(ctx context.Context, periodKey string) (*bill.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE period_key = $1`
	b, err := scanBill(r.db.QueryRowContext(ctx, query, periodKey))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrBillNotFound
		}
		return nil, fmt.Errorf("error getting bill by period key: %w", err)
	}
	return b, nil
}

func (r *PostgresBillRepository) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE bills SET notified = TRUE, notified_at = $2, updated_at = NOW() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("error marking bill notified: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking notified update: %w", err)
	}
	if affected == 0 {
		return ErrBillNotFound
	}
	return nil
}

// MarkPaid writes the payment fields onto an unpaid bill. The paid = FALSE
// guard keeps paid terminal even if two confirmations race to the same row.
func (r *PostgresBillRepository) MarkPaid(ctx context.Context, id int64, p bill.Payment) error {
	query := `UPDATE bills
	           SET paid = TRUE, paid_at = $2, paid_by = $3, paid_amount = $4, payment_ref = $5, updated_at = NOW()
	           WHERE id = $1 AND paid = FALSE`
	res, err := r.db.ExecContext(ctx, query, id, p.PaidAt, nullString(p.PaidBy), p.PaidAmount, nullString(p.PaymentRef))
	if err != nil {
		return fmt.Errorf("error marking bill paid: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error checking paid update: %w", err)
	}
	if affected == 0 {
		existing, gerr := r.GetByID(ctx, id)
		if gerr != nil {
			return gerr
		}
		if existing.Paid {
			return ErrBillAlreadyPaid
		}
		return ErrBillNotFound
	}
	return nil
}

func (r *PostgresBillRepository) ListUnpaid(ctx context.Context) ([]*bill.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE paid = FALSE ORDER BY due_date ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying unpaid bills: %w", err)
	}
	defer rows.Close()
	return scanBills(rows)
}

func (r *PostgresBillRepository) ListAll(ctx context.Context) ([]*bill.Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills ORDER BY due_date DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error querying bills: %w", err)
	}
	defer rows.Close()
	return scanBills(rows)
}

func (r *PostgresBillRepository) AppendLog(ctx context.Context, entry *bill.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	query := `INSERT INTO processing_log (id, bill_id, action, details)
	           VALUES ($1, $2, $3, $4)
	           RETURNING created_at`
	err := r.db.QueryRowContext(ctx, query, entry.ID, entry.BillID, entry.Action, entry.Details).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("error appending processing log: %w", err)
	}
	return nil
}

func (r *PostgresBillRepository) ListLogByBill(ctx context.Context, billID int64) ([]*bill.LogEntry, error) {
	query := `SELECT id, bill_id, action, details, created_at
	           FROM processing_log WHERE bill_id = $1 ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, billID)
	if err != nil {
		return nil, fmt.Errorf("error querying processing log: %w", err)
	}
	defer rows.Close()

	entries := make([]*bill.LogEntry, 0)
	for rows.Next() {
		e := bill.LogEntry{}
		if err := rows.Scan(&e.ID, &e.BillID, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning processing log row: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating processing log rows: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (*bill.Bill, error) {
	b := bill.Bill{}
	err := row.Scan(
		&b.ID, &b.PeriodKey, &b.Provider, &b.Amount, &b.DueDate, &b.PartyAPortion, &b.PartyBPortion,
		&b.Notified, &b.NotifiedAt, &b.Paid, &b.PaidAt, &b.PaidBy, &b.PaidAmount, &b.PaymentRef,
		&b.SourceMsgID, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBills(rows *sql.Rows) ([]*bill.Bill, error) {
	bills := make([]*bill.Bill, 0)
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning bill row: %w", err)
		}
		bills = append(bills, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bill rows: %w", err)
	}
	return bills, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
