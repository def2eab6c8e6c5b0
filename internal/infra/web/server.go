// internal/infra/web/server.go
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"bill_split_automation/internal/app"
	"bill_split_automation/internal/compose"
	"bill_split_automation/internal/domain/bill"
	idb "bill_split_automation/internal/infra/database"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templateFS embed.FS

// Pinger is the health-check slice of *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Config is the sanitized runtime configuration: what the settings page may
// show and the default test mode for API triggers. Secrets never cross into
// this struct.
type Config struct {
	TestMode         bool
	ProviderName     string
	ProviderSender   string
	PaymentService   string
	PaymentRecipient string
	SplitRatioA      decimal.Decimal
	GmailUser        string
	SMSEnabled       bool
	SMSGateway       string
	EmailEnabled     bool
	PartyAEmail      string
	PartyAName       string
	PartyBName       string
	CronSpecScan     string
	CronSpecPayments string
}

// Server serves the dashboard pages and the JSON API.
type Server struct {
	runner     app.RunService
	admin      *app.AdminService
	composer   *compose.Composer
	db         Pinger
	metrics    http.Handler
	cfg        Config
	tmpl       *template.Template
	runTimeout time.Duration
	logger     *logrus.Entry
}

func NewServer(
	runner app.RunService,
	admin *app.AdminService,
	composer *compose.Composer,
	db Pinger,
	metricsHandler http.Handler,
	cfg Config,
	runTimeout time.Duration,
	logger *logrus.Entry,
) *Server {
	funcMap := template.FuncMap{
		"usd":      func(d decimal.Decimal) string { return "$" + d.StringFixed(2) },
		"date":     func(t time.Time) string { return t.Format("01/02/2006") },
		"datetime": func(t time.Time) string { return t.Format("2006-01-02 15:04") },
	}
	tmpl := template.Must(template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/*.html"))

	return &Server{
		runner:     runner,
		admin:      admin,
		composer:   composer,
		db:         db,
		metrics:    metricsHandler,
		cfg:        cfg,
		tmpl:       tmpl,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleDashboard)
	mux.HandleFunc("/bills", s.handleBills)
	mux.HandleFunc("/bill/", s.handleBillDetail)
	mux.HandleFunc("/settings", s.handleSettings)
	mux.HandleFunc("/api/process-bills", s.handleProcessBills)
	mux.HandleFunc("/api/check-payments", s.handleCheckPayments)
	mux.HandleFunc("/api/create-venmo-request", s.handleCreateVenmoRequest)
	mux.HandleFunc("/api/send-email", s.handleSendEmail)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics)
	return mux
}

// pageData is the single data shape all page templates render from; unused
// fields stay zero.
type pageData struct {
	Title    string
	Settings Config
	Summary  *app.Summary
	Bills    []*bill.Bill
	Bill     *bill.Bill
	Log      []*bill.LogEntry
	Links    compose.Links
	Error    string
}

const dashboardBillCount = 5

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.renderError(w, http.StatusNotFound, "Page not found")
		return
	}

	summary, err := s.admin.Summary(r.Context())
	if err != nil {
		s.renderError(w, http.StatusInternalServerError, err.Error())
		return
	}
	bills, err := s.admin.ListBills(r.Context())
	if err != nil {
		s.renderError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(bills) > dashboardBillCount {
		bills = bills[:dashboardBillCount]
	}

	s.render(w, http.StatusOK, "dashboard.html", pageData{
		Title:    "Dashboard",
		Settings: s.cfg,
		Summary:  summary,
		Bills:    bills,
	})
}

func (s *Server) handleBills(w http.ResponseWriter, r *http.Request) {
	bills, err := s.admin.ListBills(r.Context())
	if err != nil {
		s.renderError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.render(w, http.StatusOK, "bills.html", pageData{
		Title:    "Bills",
		Settings: s.cfg,
		Bills:    bills,
	})
}

func (s *Server) handleBillDetail(w http.ResponseWriter, r *http.Request) {
	periodKey := strings.TrimPrefix(r.URL.Path, "/bill/")
	if periodKey == "" {
		http.Redirect(w, r, "/bills", http.StatusFound)
		return
	}

	b, err := s.admin.GetBill(r.Context(), periodKey)
	if errors.Is(err, idb.ErrBillNotFound) {
		s.renderError(w, http.StatusNotFound, "Bill not found")
		return
	}
	if err != nil {
		s.renderError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries, err := s.admin.BillLog(r.Context(), periodKey)
	if err != nil {
		s.logger.WithError(err).WithField("period_key", periodKey).Warn("processing log unavailable")
	}

	s.render(w, http.StatusOK, "bill_detail.html", pageData{
		Title:    "Bill " + b.PeriodLabel(),
		Settings: s.cfg,
		Bill:     b,
		Log:      entries,
		Links:    s.composer.Links(b),
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "settings.html", pageData{
		Title:    "Settings",
		Settings: s.cfg,
	})
}

func (s *Server) handleProcessBills(w http.ResponseWriter, r *http.Request) {
	s.runTrigger(w, r, false)
}

func (s *Server) handleCheckPayments(w http.ResponseWriter, r *http.Request) {
	s.runTrigger(w, r, true)
}

// triggerRequest is the body of the two run endpoints. test_mode is a
// pointer so an absent field falls back to the configured default instead
// of silently going live.
type triggerRequest struct {
	TestMode *bool `json:"test_mode"`
}

func (s *Server) runTrigger(w http.ResponseWriter, r *http.Request, paymentCheckOnly bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req triggerRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	testMode := s.cfg.TestMode
	if req.TestMode != nil {
		testMode = *req.TestMode
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.runTimeout)
	defer cancel()

	res, err := s.runner.Run(ctx, app.TriggerOptions{
		TestMode:         testMode,
		ManualTrigger:    true,
		PaymentCheckOnly: paymentCheckOnly,
	})
	if err != nil {
		s.apiError(w, err)
		return
	}

	message := "Bills processed"
	if paymentCheckOnly {
		message = "Payment check finished"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": message,
		"result":  res,
	})
}

type billRequest struct {
	BillID string `json:"bill_id"`
}

func (s *Server) handleCreateVenmoRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req billRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BillID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "bill_id is required"})
		return
	}

	result, err := s.admin.CreatePaymentRequest(r.Context(), req.BillID, s.cfg.TestMode)
	if err != nil {
		s.apiError(w, err)
		return
	}

	message := "Payment request sent over SMS"
	if !result.Sent {
		message = "TEST MODE: payment request created, nothing sent"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   message,
		"venmo_url": result.Links.App,
		"web_url":   result.Links.Web,
		"amount":    result.Bill.PartyAPortion.StringFixed(2),
		"sms_sent":  result.Sent,
	})
}

func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req billRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BillID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "bill_id is required"})
		return
	}

	result, err := s.admin.SendEmailNotification(r.Context(), req.BillID, s.cfg.TestMode)
	if err != nil {
		s.apiError(w, err)
		return
	}

	message := "Email sent to " + s.cfg.PartyAEmail
	if !result.Sent {
		message = "TEST MODE: email composed, nothing sent"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    message,
		"email_sent": result.Sent,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// apiError maps application sentinels onto HTTP statuses; everything else
// is a 500.
func (s *Server) apiError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, idb.ErrBillNotFound):
		status = http.StatusNotFound
	case errors.Is(err, app.ErrBillIsPaid), errors.Is(err, app.ErrRunInProgress):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("api request failed")
	}
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		s.logger.WithError(err).WithField("template", name).Error("template render failed")
	}
}

func (s *Server) renderError(w http.ResponseWriter, status int, msg string) {
	s.render(w, status, "error.html", pageData{Title: "Error", Settings: s.cfg, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
