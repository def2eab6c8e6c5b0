// internal/infra/web/server_test.go
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"bill_split_automation/internal/app"
	"bill_split_automation/internal/compose"
	"bill_split_automation/internal/domain/bill"
	"bill_split_automation/internal/domain/notify"
	idb "bill_split_automation/internal/infra/database"
	"bill_split_automation/internal/infra/metrics"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// fakeRunner records the options of the last trigger and hands back a canned
// result.
type fakeRunner struct {
	mu       sync.Mutex
	calls    int
	lastOpts app.TriggerOptions
	result   *app.RunResult
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, opts app.TriggerOptions) (*app.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &app.RunResult{RunID: "11111111-2222-3333-4444-555555555555", StartedAt: time.Now()}, nil
}

// memRepo is a map-backed bill.Repository, just enough for handler tests.
type memRepo struct {
	mu     sync.Mutex
	nextID int64
	bills  map[int64]*bill.Bill
	logs   map[int64][]*bill.LogEntry
}

func newMemRepo() *memRepo {
	return &memRepo{nextID: 1, bills: map[int64]*bill.Bill{}, logs: map[int64][]*bill.LogEntry{}}
}

func (r *memRepo) Create(ctx context.Context, b *bill.Bill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
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
	b, ok := r.bills[id]
	if !ok {
		return idb.ErrBillNotFound
	}
	b.Notified = true
	b.NotifiedAt.Time = at
	b.NotifiedAt.Valid = true
	return nil
}

func (r *memRepo) MarkPaid(ctx context.Context, id int64, p bill.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bills[id]
	if !ok {
		return idb.ErrBillNotFound
	}
	if b.Paid {
		return idb.ErrBillAlreadyPaid
	}
	b.Paid = true
	b.PaidAt.Time = p.PaidAt
	b.PaidAt.Valid = true
	b.PaidBy.String = p.PaidBy
	b.PaidBy.Valid = true
	b.PaidAmount.Decimal = p.PaidAmount
	b.PaidAmount.Valid = true
	b.PaymentRef.String = p.PaymentRef
	b.PaymentRef.Valid = true
	return nil
}

func (r *memRepo) ListUnpaid(ctx context.Context) ([]*bill.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*bill.Bill
	for _, b := range r.bills {
		if !b.Paid {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (r *memRepo) ListAll(ctx context.Context) ([]*bill.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*bill.Bill
	for _, b := range r.bills {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.After(out[j].DueDate) })
	return out, nil
}

func (r *memRepo) AppendLog(ctx context.Context, entry *bill.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.CreatedAt = time.Now()
	r.logs[entry.BillID] = append(r.logs[entry.BillID], entry)
	return nil
}

func (r *memRepo) ListLogByBill(ctx context.Context, billID int64) ([]*bill.LogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs[billID], nil
}

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

type fakePinger struct{ err error }

func (f *fakePinger) PingContext(ctx context.Context) error { return f.err }

func testConfig(testMode bool) Config {
	return Config{
		TestMode:         testMode,
		ProviderName:     "PG&E",
		ProviderSender:   "DoNotReply@billpay.pge.com",
		PaymentService:   "venmo",
		PaymentRecipient: "UshiLo",
		SplitRatioA:      decimal.RequireFromString("0.333333"),
		GmailUser:        "sam@example.com",
		SMSEnabled:       true,
		SMSGateway:       "5551234567@vtext.com",
		EmailEnabled:     true,
		PartyAEmail:      "ushi@example.com",
		PartyAName:       "Ushi Lo",
		PartyBName:       "Sam",
		CronSpecScan:     "0 9 * * *",
		CronSpecPayments: "0 18 * * *",
	}
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

func storedBill(t *testing.T, repo *memRepo, periodKey string, due time.Time, amount, shareA string) *bill.Bill {
	t.Helper()
	a := decimal.RequireFromString(amount)
	pa := decimal.RequireFromString(shareA)
	b := &bill.Bill{
		PeriodKey:     periodKey,
		Provider:      "PG&E",
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

type testEnv struct {
	server *httptest.Server
	runner *fakeRunner
	repo   *memRepo
	sms    *fakeSender
	email  *fakeSender
}

func newTestEnv(t *testing.T, cfg Config, pingErr error) *testEnv {
	t.Helper()
	runner := &fakeRunner{}
	repo := newMemRepo()
	sms := &fakeSender{name: "sms"}
	email := &fakeSender{name: "email"}
	composer := testComposer()
	admin := app.NewAdminService(repo, composer, sms, email, testLogger())
	srv := NewServer(runner, admin, composer, &fakePinger{err: pingErr}, metrics.New().Handler(), cfg, time.Minute, testLogger())

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, runner: runner, repo: repo, sms: sms, email: email}
}

func getBody(t *testing.T, ts *httptest.Server, path string, wantStatus int) string {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status = %d, want %d", path, resp.StatusCode, wantStatus)
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return sb.String()
}

func postJSON(t *testing.T, ts *httptest.Server, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response of %s: %v", path, err)
	}
	return resp, decoded
}

func TestDashboardPage(t *testing.T) {
	env := newTestEnv(t, testConfig(true), nil)
	storedBill(t, env.repo, "pge_08_08_2025_28815",
		time.Date(2025, 8, 8, 0, 0, 0, 0, time.UTC), "288.15", "96.05")

	body := getBody(t, env.server, "/", http.StatusOK)
	for _, want := range []string{
		"bills tracked",
		"pge_08_08_2025_28815",
		"$288.15",
		"$96.05",
		"Test mode is on",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard body missing %q", want)
		}
	}
}

func TestDashboardRejectsUnknownPath(t *testing.T) {
	env := newTestEnv(t, testConfig(true), nil)
	body := getBody(t, env.server, "/nope", http.StatusNotFound)
	if !strings.Contains(body, "Page not found") {
		t.Errorf("expected rendered error page, got: %s", body)
	}
}

func TestBillDetailPage(t *testing.T) {
	env := newTestEnv(t, testConfig(true), nil)
	storedBill(t, env.repo, "pge_08_08_2025_28815",
		time.Date(2025, 8, 8, 0, 0, 0, 0, time.UTC), "288.15", "96.05")

	body := getBody(t, env.server, "/bill/pge_08_08_2025_28815", http.StatusOK)
	wantLink := "https://venmo.com/UshiLo?txn=charge&amp;amount=96.05&amp;note=Balance--$96.05%0ATotal--$288.15%0ADue--08/08/2025"
	if !strings.Contains(body, wantLink) {
		t.Errorf("detail page missing payment link %q", wantLink)
	}
	if !strings.Contains(body, "08/08/2025") {
		t.Error("detail page missing due date")
	}

	getBody(t, env.server, "/bill/pge_01_01_2030_1", http.StatusNotFound)
}

func TestProcessBillsTrigger(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantTestMode bool
	}{
		{name: "explicit live", body: `{"test_mode": false}`, wantTestMode: false},
		{name: "explicit test", body: `{"test_mode": true}`, wantTestMode: true},
		{name: "empty body falls back to config", body: ``, wantTestMode: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testConfig(true), nil)
			resp, decoded := postJSON(t, env.server, "/api/process-bills", tt.body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want 200", resp.StatusCode)
			}
			if decoded["success"] != true {
				t.Fatalf("success = %v, want true", decoded["success"])
			}
			if env.runner.lastOpts.TestMode != tt.wantTestMode {
				t.Errorf("TestMode = %v, want %v", env.runner.lastOpts.TestMode, tt.wantTestMode)
			}
			if !env.runner.lastOpts.ManualTrigger {
				t.Error("ManualTrigger not set on API trigger")
			}
			if env.runner.lastOpts.PaymentCheckOnly {
				t.Error("PaymentCheckOnly set on a full run")
			}
		})
	}
}

func TestProcessBillsRejectsGet(t *testing.T) {
	env := newTestEnv(t, testConfig(true), nil)
	resp, err := http.Get(env.server.URL + "/api/process-bills")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
	if env.runner.calls != 0 {
		t.Errorf("runner called %d times on GET", env.runner.calls)
	}
}

func TestCheckPaymentsTrigger(t *testing.T) {
	env := newTestEnv(t, testConfig(true), nil)
	resp, decoded := postJSON(t, env.server, "/api/check-payments", `{"test_mode": false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if decoded["success"] != true {
		t.Fatalf("success = %v, want true", decoded["success"])
	}
	if !env.runner.lastOpts.PaymentCheckOnly {
		t.Error("PaymentCheckOnly not set")
	}
}

func TestTriggerConflictWhileRunning(t *testing.T) {
	env := newTestEnv(t, testConfig(true), nil)
	env.runner.err = app.ErrRunInProgress

	resp, decoded := postJSON(t, env.server, "/api/process-bills", `{}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if decoded["success"] != false {
		t.Errorf("success = %v, want false", decoded["success"])
	}
}

func TestCreateVenmoRequest(t *testing.T) {
	t.Run("test mode returns links unsent", func(t *testing.T) {
		env := newTestEnv(t, testConfig(true), nil)
		storedBill(t, env.repo, "pge_08_08_2025_28815",
			time.Date(2025, 8, 8, 0, 0, 0, 0, time.UTC), "288.15", "96.05")

		resp, decoded := postJSON(t, env.server, "/api/create-venmo-request", `{"bill_id": "pge_08_08_2025_28815"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if decoded["sms_sent"] != false {
			t.Errorf("sms_sent = %v, want false in test mode", decoded["sms_sent"])
		}
		wantWeb := "https://venmo.com/UshiLo?txn=charge&amount=96.05&note=Balance--$96.05%0ATotal--$288.15%0ADue--08/08/2025"
		if decoded["web_url"] != wantWeb {
			t.Errorf("web_url = %v, want %s", decoded["web_url"], wantWeb)
		}
		if decoded["amount"] != "96.05" {
			t.Errorf("amount = %v, want 96.05", decoded["amount"])
		}
		if len(env.sms.sent) != 0 {
			t.Errorf("%d SMS sent in test mode", len(env.sms.sent))
		}
	})

	t.Run("live mode sends and marks notified", func(t *testing.T) {
		env := newTestEnv(t, testConfig(false), nil)
		b := storedBill(t, env.repo, "pge_08_08_2025_28815",
			time.Date(2025, 8, 8, 0, 0, 0, 0, time.UTC), "288.15", "96.05")

		resp, decoded := postJSON(t, env.server, "/api/create-venmo-request", `{"bill_id": "pge_08_08_2025_28815"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		if decoded["sms_sent"] != true {
			t.Errorf("sms_sent = %v, want true", decoded["sms_sent"])
		}
		if len(env.sms.sent) != 1 {
			t.Fatalf("sms sends = %d, want 1", len(env.sms.sent))
		}
		stored, _ := env.repo.GetByID(context.Background(), b.ID)
		if !stored.Notified {
			t.Error("bill not marked notified after live send")
		}
	})

	t.Run("missing bill_id", func(t *testing.T) {
		env := newTestEnv(t, testConfig(true), nil)
		resp, _ := postJSON(t, env.server, "/api/create-venmo-request", `{}`)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("unknown bill", func(t *testing.T) {
		env := newTestEnv(t, testConfig(true), nil)
		resp, _ := postJSON(t, env.server, "/api/create-venmo-request", `{"bill_id": "pge_01_01_2030_1"}`)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("paid bill conflicts", func(t *testing.T) {
		env := newTestEnv(t, testConfig(true), nil)
		b := storedBill(t, env.repo, "pge_08_08_2025_28815",
			time.Date(2025, 8, 8, 0, 0, 0, 0, time.UTC), "288.15", "96.05")
		if err := env.repo.MarkPaid(context.Background(), b.ID, bill.Payment{
			PaidBy:     "Ushi Lo",
			PaidAmount: decimal.RequireFromString("96.05"),
			PaidAt:     time.Now(),
		}); err != nil {
			t.Fatal(err)
		}

		resp, _ := postJSON(t, env.server, "/api/create-venmo-request", `{"bill_id": "pge_08_08_2025_28815"}`)
		if resp.StatusCode != http.StatusConflict {
			t.Errorf("status = %d, want 409", resp.StatusCode)
		}
	})
}

func TestSendEmailEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig(false), nil)
	storedBill(t, env.repo, "pge_08_08_2025_28815",
		time.Date(2025, 8, 8, 0, 0, 0, 0, time.UTC), "288.15", "96.05")

	resp, decoded := postJSON(t, env.server, "/api/send-email", `{"bill_id": "pge_08_08_2025_28815"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if decoded["email_sent"] != true {
		t.Errorf("email_sent = %v, want true", decoded["email_sent"])
	}
	if len(env.email.sent) != 1 {
		t.Fatalf("email sends = %d, want 1", len(env.email.sent))
	}
	if env.email.sent[0].Subject != "PG&E bill split - August 2025" {
		t.Errorf("subject = %q", env.email.sent[0].Subject)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		env := newTestEnv(t, testConfig(true), nil)
		resp, err := http.Get(env.server.URL + "/health")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("database down", func(t *testing.T) {
		env := newTestEnv(t, testConfig(true), errors.New("connection refused"))
		resp, err := http.Get(env.server.URL + "/health")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", resp.StatusCode)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig(true), nil)
	body := getBody(t, env.server, "/metrics", http.StatusOK)
	if !strings.Contains(body, "billsplit_") {
		t.Error("metrics output missing billsplit namespace")
	}
}
