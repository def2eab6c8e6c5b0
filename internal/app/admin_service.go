// internal/app/admin_service.go
package app

import (
	"context"
	"fmt"
	"time"

	"bill_split_automation/internal/compose"
	"bill_split_automation/internal/domain/bill"
	"bill_split_automation/internal/domain/notify"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Application-level errors for admin operations.
var (
	ErrBillIsPaid          = fmt.Errorf("bill is already paid, resend refused")
	ErrChannelNotAvailable = fmt.Errorf("notification channel is not configured")
)

// Summary aggregates the stored bills for the dashboard front page.
type Summary struct {
	TotalBills       int
	PaidBills        int
	UnpaidBills      int
	NotifiedBills    int
	OutstandingShare decimal.Decimal // unpaid party A portions added up
}

// PaymentRequestResult is what a manual resend hands back to the dashboard
// or the operator bot.
type PaymentRequestResult struct {
	Bill  *bill.Bill
	Links compose.Links
	Sent  bool // false when test mode kept the send local
}

// AdminService implements the operator-facing operations: browsing stored
// bills and manually re-sending payment requests over a chosen channel.
type AdminService struct {
	bills    bill.Repository
	composer *compose.Composer
	sms      notify.Sender // nil when the SMS channel is disabled
	email    notify.Sender // nil when the email channel is disabled
	logger   *logrus.Entry
}

func NewAdminService(bills bill.Repository, composer *compose.Composer, sms, email notify.Sender, logger *logrus.Entry) *AdminService {
	return &AdminService{
		bills:    bills,
		composer: composer,
		sms:      sms,
		email:    email,
		logger:   logger,
	}
}

func (s *AdminService) ListBills(ctx context.Context) ([]*bill.Bill, error) {
	return s.bills.ListAll(ctx)
}

func (s *AdminService) GetBill(ctx context.Context, periodKey string) (*bill.Bill, error) {
	return s.bills.GetByPeriodKey(ctx, periodKey)
}

func (s *AdminService) BillLog(ctx context.Context, periodKey string) ([]*bill.LogEntry, error) {
	b, err := s.bills.GetByPeriodKey(ctx, periodKey)
	if err != nil {
		return nil, err
	}
	return s.bills.ListLogByBill(ctx, b.ID)
}

func (s *AdminService) Summary(ctx context.Context) (*Summary, error) {
	all, err := s.bills.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list bills for summary: %w", err)
	}
	sum := &Summary{TotalBills: len(all), OutstandingShare: decimal.Zero}
	for _, b := range all {
		if b.Paid {
			sum.PaidBills++
			continue
		}
		sum.UnpaidBills++
		if b.Notified {
			sum.NotifiedBills++
		}
		sum.OutstandingShare = sum.OutstandingShare.Add(b.PartyAPortion)
	}
	return sum, nil
}

// CreatePaymentRequest builds the payment links for a bill and, outside test
// mode, delivers them over SMS. Allowed from CREATED or NOTIFIED; a paid bill
// never gets another request.
func (s *AdminService) CreatePaymentRequest(ctx context.Context, periodKey string, testMode bool) (*PaymentRequestResult, error) {
	b, err := s.bills.GetByPeriodKey(ctx, periodKey)
	if err != nil {
		return nil, err
	}
	if b.Paid {
		return nil, ErrBillIsPaid
	}

	result := &PaymentRequestResult{Bill: b, Links: s.composer.Links(b)}
	if testMode {
		return result, nil
	}
	if s.sms == nil {
		return nil, fmt.Errorf("sms: %w", ErrChannelNotAvailable)
	}

	msg, err := s.composer.Request(b)
	if err != nil {
		return nil, fmt.Errorf("compose payment request for %s: %w", periodKey, err)
	}
	if err := s.sms.Send(ctx, msg); err != nil {
		s.appendLog(ctx, b.ID, bill.LogNotificationFailed, fmt.Sprintf("manual sms: %v", err))
		return nil, fmt.Errorf("send sms for %s: %w", periodKey, err)
	}
	if err := s.bills.MarkNotified(ctx, b.ID, time.Now()); err != nil {
		return nil, fmt.Errorf("mark bill %s notified: %w", periodKey, err)
	}
	s.appendLog(ctx, b.ID, bill.LogNotificationSent, "manual sms")
	s.logger.WithField("period_key", periodKey).Info("manual payment request sent over sms")

	result.Sent = true
	return result, nil
}

// SendEmailNotification is the manual resend over the email channel.
func (s *AdminService) SendEmailNotification(ctx context.Context, periodKey string, testMode bool) (*PaymentRequestResult, error) {
	b, err := s.bills.GetByPeriodKey(ctx, periodKey)
	if err != nil {
		return nil, err
	}
	if b.Paid {
		return nil, ErrBillIsPaid
	}

	result := &PaymentRequestResult{Bill: b, Links: s.composer.Links(b)}
	if testMode {
		return result, nil
	}
	if s.email == nil {
		return nil, fmt.Errorf("email: %w", ErrChannelNotAvailable)
	}

	msg, err := s.composer.Request(b)
	if err != nil {
		return nil, fmt.Errorf("compose email for %s: %w", periodKey, err)
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.appendLog(ctx, b.ID, bill.LogNotificationFailed, fmt.Sprintf("manual email: %v", err))
		return nil, fmt.Errorf("send email for %s: %w", periodKey, err)
	}
	if err := s.bills.MarkNotified(ctx, b.ID, time.Now()); err != nil {
		return nil, fmt.Errorf("mark bill %s notified: %w", periodKey, err)
	}
	s.appendLog(ctx, b.ID, bill.LogNotificationSent, "manual email")
	s.logger.WithField("period_key", periodKey).Info("manual payment request sent over email")

	result.Sent = true
	return result, nil
}

func (s *AdminService) appendLog(ctx context.Context, billID int64, action bill.LogAction, details string) {
	entry := &bill.LogEntry{BillID: billID, Action: action, Details: details}
	if err := s.bills.AppendLog(ctx, entry); err != nil {
		s.logger.WithError(err).WithField("bill_id", billID).Warn("processing log append failed")
	}
}
