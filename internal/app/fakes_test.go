// internal/app/fakes_test.go
package app

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"bill_split_automation/internal/compose"
	"bill_split_automation/internal/domain/bill"
	"bill_split_automation/internal/domain/email"
	"bill_split_automation/internal/domain/notify"
	idb "bill_split_automation/internal/infra/database"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func testComposer() *compose.Composer {
	return compose.New(compose.Config{
		ServiceName:  "venmo",
		Recipient:    "UshiLo",
		ProviderName: "PG&E",
		PartyAName:   "Ushi Lo",
		PartyBName:   "Sam",
	})
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// memRepo is an in-memory bill.Repository with the same contract as the
// postgres one: unique period keys, due-date ordering, terminal paid flag.
// The err fields inject failures per method.
type memRepo struct {
	mu     sync.Mutex
	nextID int64
	bills  map[int64]*bill.Bill
	logs   map[int64][]*bill.LogEntry

	lookupMisses  int // force ErrBillNotFound on the next N period-key lookups
	createErr     error
	listUnpaidErr error
	listAllErr    error
	markPaidErr   error
	notifiedErr   error
	appendLogErr  error
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, bills: map[int64]*bill.Bill{}, logs: map[int64][]*bill.LogEntry{}}
}

func (r *memRepo) Create(ctx context.Context, b *bill.Bill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.bills {
		if existing.PeriodKey == b.PeriodKey {
			return idb.ErrDuplicateBill
		}
	}
	b.ID = r.nextID
	r.nextID++
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now
	r.bills[b.ID] = b
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id int64) (*bill.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bills[id]
	if !ok {
		return nil, idb.ErrBillNotFound
	}
	return b, nil
}

func (r *memRepo) GetByPeriodKey(ctx context.Context, periodKey string) (*bill.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupMisses > 0 {
		r.lookupMisses--
		return nil, idb.ErrBillNotFound
	}
	for _, b := range r.bills {
		if b.PeriodKey == periodKey {
			return b, nil
		}
	}
	return nil, idb.ErrBillNotFound
}

func (r *memRepo) MarkNotified(ctx context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.notifiedErr != nil {
		return r.notifiedErr
	}
	b, ok := r.bills[id]
	if !ok {
		return idb.ErrBillNotFound
	}
	b.Notified = true
	b.NotifiedAt = sqlTime(at)
	b.UpdatedAt = time.Now()
	return nil
}

func (r *memRepo) MarkPaid(ctx context.Context, id int64, p bill.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markPaidErr != nil {
		return r.markPaidErr
	}
	b, ok := r.bills[id]
	if !ok {
		return idb.ErrBillNotFound
	}
	if b.Paid {
		return idb.ErrBillAlreadyPaid
	}
	b.Paid = true
	b.PaidAt = sqlTime(p.PaidAt)
	b.PaidBy.String = p.PaidBy
	b.PaidBy.Valid = true
	b.PaidAmount.Decimal = p.PaidAmount
	b.PaidAmount.Valid = true
	b.PaymentRef.String = p.PaymentRef
	b.PaymentRef.Valid = true
	b.UpdatedAt = time.Now()
	return nil
}

func (r *memRepo) ListUnpaid(ctx context.Context) ([]*bill.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listUnpaidErr != nil {
		return nil, r.listUnpaidErr
	}
	var out []*bill.Bill
	for _, b := range r.bills {
		if !b.Paid {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.Before(out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memRepo) ListAll(ctx context.Context) ([]*bill.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listAllErr != nil {
		return nil, r.listAllErr
	}
	var out []*bill.Bill
	for _, b := range r.bills {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].DueDate.After(out[j].DueDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (r *memRepo) AppendLog(ctx context.Context, entry *bill.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendLogErr != nil {
		return r.appendLogErr
	}
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now()
	r.logs[entry.BillID] = append(r.logs[entry.BillID], entry)
	return nil
}

func (r *memRepo) ListLogByBill(ctx context.Context, billID int64) ([]*bill.LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs[billID], nil
}

// actions returns the log actions recorded for a bill, in append order.
func (r *memRepo) actions(billID int64) []bill.LogAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bill.LogAction
	for _, e := range r.logs[billID] {
		out = append(out, e.Action)
	}
	return out
}

func sqlTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

// storeBill inserts a bill with the given share directly into the repo.
func storeBill(t *testing.T, repo *memRepo, periodKey string, due time.Time, amount, shareA string) *bill.Bill {
	t.Helper()
	a := mustDecimal(amount)
	pa := mustDecimal(shareA)
	b := &bill.Bill{
		PeriodKey:     periodKey,
		Provider:      "pge",
		Amount:        a,
		DueDate:       due,
		PartyAPortion: pa,
		PartyBPortion: a.Sub(pa),
	}
	if err := repo.Create(context.Background(), b); err != nil {
		t.Fatalf("store bill %s: %v", periodKey, err)
	}
	return b
}

// fakeMailbox serves canned messages keyed by the query's From address. The
// entered/release channels let a test hold a Search mid-flight.
type fakeMailbox struct {
	mu      sync.Mutex
	byFrom  map[string][]email.Message
	queries []email.Query
	err     error

	entered chan struct{}
	release chan struct{}
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{byFrom: map[string][]email.Message{}}
}

func (f *fakeMailbox) add(from string, msgs ...email.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byFrom[from] = append(f.byFrom[from], msgs...)
}

func (f *fakeMailbox) Search(ctx context.Context, q email.Query, limit int) ([]email.Message, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	err := f.err
	msgs := append([]email.Message(nil), f.byFrom[q.From]...)
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *fakeMailbox) searched() []email.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]email.Query(nil), f.queries...)
}

// fakeSender records messages; err makes every send fail.
type fakeSender struct {
	name string
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(ctx context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}
