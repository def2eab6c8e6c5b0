// internal/provider/venmo.go
package provider

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"bill_split_automation/internal/domain/email"

	"github.com/shopspring/decimal"
)

var (
	venmoKeywords = []string{
		"you charged",
		"you paid",
		"payment sent",
		"transfer date and amount",
		"money credited to your venmo account",
		"payment id:",
	}

	venmoPayerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)you charged\s+([^\n$]+)`),
		regexp.MustCompile(`(?i)you paid\s+\$[\d,.]+\s+to\s+([^\n]+)`),
		regexp.MustCompile(`(?i)payment from\s+([^\n$]+)`),
	}

	venmoAmountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\$\s*(\d{1,3}(?:,\d{3})+\.\d{2})`),
		regexp.MustCompile(`\$\s*(\d+\.\d{2})`),
	}

	venmoDatePatterns = []struct {
		re     *regexp.Regexp
		layout string
	}{
		{regexp.MustCompile(`([A-Za-z]{3}\s+\d{1,2},\s+\d{4})`), "Jan 2, 2006"},
		{regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{4})`), "1/2/2006"},
		{regexp.MustCompile(`([A-Za-z]{3}\s+\d{1,2}\s+\d{4})`), "Jan 2 2006"},
	}

	venmoPaymentID = regexp.MustCompile(`(?i)payment id:?\s*(\d+)`)
	venmoNote      = regexp.MustCompile(`(?is)you charged\s+[^\n]+\n+(.+?)(?:transfer date|$)`)
)

// VenmoConfirmations is the ConfirmationParser for Venmo receipt emails.
type VenmoConfirmations struct {
	service string
	sender  string
}

func NewVenmoConfirmations(service, sender string) *VenmoConfirmations {
	return &VenmoConfirmations{service: service, sender: sender}
}

func (v *VenmoConfirmations) Service() string { return v.service }
func (v *VenmoConfirmations) Sender() string  { return v.sender }

// SearchTerms returns a quoted phrase that narrows the mailbox search to
// charge receipts. Venmo sends everything from the same address, so the
// sender alone pulls in login alerts and promotions too.
func (v *VenmoConfirmations) SearchTerms() string { return `"you charged"` }

// IsConfirmation reports whether the message is a payment receipt: right
// sender, at least one receipt keyword, and a payer plus amount that actually
// extract. The extraction requirement is what keeps promotional mail from the
// same address out.
func (v *VenmoConfirmations) IsConfirmation(msg email.Message) bool {
	if !strings.Contains(strings.ToLower(msg.Sender), strings.ToLower(v.sender)) {
		return false
	}
	content := strings.ToLower(msg.Subject + "\n" + msg.Body)
	keyword := false
	for _, kw := range venmoKeywords {
		if strings.Contains(content, kw) {
			keyword = true
			break
		}
	}
	if !keyword {
		return false
	}
	_, err := v.Extract(msg)
	return err == nil
}

func (v *VenmoConfirmations) Extract(msg email.Message) (Confirmation, error) {
	text := msg.Subject + "\n" + msg.Body

	payer := firstGroup(venmoPayerPatterns, text)
	payer = strings.TrimRight(payer, ".,!")
	if payer == "" {
		return Confirmation{}, fmt.Errorf("confirmation %s: no payer found: %w", msg.ID, ErrExtraction)
	}

	amount, err := v.extractAmount(text)
	if err != nil {
		return Confirmation{}, fmt.Errorf("confirmation %s: %w", msg.ID, err)
	}

	c := Confirmation{
		Service: v.service,
		Payer:   payer,
		Amount:  amount,
		Date:    v.extractDate(text, msg.Date),
	}
	if m := venmoPaymentID.FindStringSubmatch(text); m != nil {
		c.PaymentRef = m[1]
	}
	if m := venmoNote.FindStringSubmatch(msg.Body); m != nil {
		c.Note = strings.TrimSpace(m[1])
	}
	return c, nil
}

func (v *VenmoConfirmations) extractAmount(text string) (decimal.Decimal, error) {
	for _, re := range venmoAmountPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			amount, err := parseMoney(m[1])
			if err == nil && amount.IsPositive() {
				return amount, nil
			}
		}
	}
	return decimal.Decimal{}, fmt.Errorf("no payment amount found: %w", ErrExtraction)
}

// extractDate finds the payment date in the receipt text. Receipts without a
// parseable date fall back to the message's own timestamp, which for Venmo
// mail lands on the same day the payment happened.
func (v *VenmoConfirmations) extractDate(text string, msgDate time.Time) time.Time {
	for _, p := range venmoDatePatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			normalized := strings.Join(strings.Fields(m[1]), " ")
			if d, err := time.Parse(p.layout, normalized); err == nil {
				return d
			}
		}
	}
	if !msgDate.IsZero() {
		return msgDate
	}
	return time.Now()
}
