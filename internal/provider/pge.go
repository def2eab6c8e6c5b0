// internal/provider/pge.go
package provider

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"bill_split_automation/internal/domain/email"

	"github.com/shopspring/decimal"
)

// Wording below mirrors what PG&E actually puts in its emails. The tricky part
// is that receipts arrive from the same address and quote the statement text,
// so recognition needs both the ready phrase and the absence of receipt
// markers.
var (
	pgeReadyPhrases = []string{
		"energy statement is ready",
	}
	pgeReceiptMarkers = []string{
		"payment has been processed",
		"confirmation number",
		"date of payment",
		"payment amount",
		"we thank you for being",
		"previously scheduled recurring payment",
	}

	// Label-anchored amounts first; the bare-dollar fallback picks the
	// largest figure on the page, which for a utility bill is the total.
	pgeAmountLabeled = []*regexp.Regexp{
		regexp.MustCompile(`(?i)total\s+amount\s+due[^$\n]{0,20}\$\s*(\d[\d,]*\.\d{2})`),
		regexp.MustCompile(`(?i)amount\s+due[^$\n]{0,20}\$\s*(\d[\d,]*\.\d{2})`),
		regexp.MustCompile(`(?i)statement\s+balance[^$\n]{0,20}\$\s*(\d[\d,]*\.\d{2})`),
	}
	pgeAmountAny = regexp.MustCompile(`\$\s*(\d[\d,]*\.\d{2})`)

	pgeDuePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)due.{0,20}(\d{1,2}/\d{1,2}/\d{4})`),
		regexp.MustCompile(`(?i)(\d{1,2}/\d{1,2}/\d{4}).{0,20}due`),
		regexp.MustCompile(`(?i)by.{0,20}(\d{1,2}/\d{1,2}/\d{4})`),
		regexp.MustCompile(`(\d{1,2}/\d{1,2}/\d{4})`),
	}
)

const pgeDateLayout = "1/2/2006"

// PGEStatements is the StatementParser for PG&E energy statements.
type PGEStatements struct {
	provider string
	sender   string
}

func NewPGEStatements(sender string) *PGEStatements {
	return &PGEStatements{provider: "pge", sender: sender}
}

func (p *PGEStatements) Provider() string { return p.provider }
func (p *PGEStatements) Sender() string   { return p.sender }

// IsStatement reports whether the message announces a new energy statement.
// The ready phrase may sit in the subject or the body; any receipt marker in
// the body disqualifies the message.
func (p *PGEStatements) IsStatement(msg email.Message) bool {
	content := strings.ToLower(msg.Subject + "\n" + msg.Body)
	ready := false
	for _, phrase := range pgeReadyPhrases {
		if strings.Contains(content, phrase) {
			ready = true
			break
		}
	}
	if !ready {
		return false
	}
	body := strings.ToLower(msg.Body)
	for _, marker := range pgeReceiptMarkers {
		if strings.Contains(body, marker) {
			return false
		}
	}
	return true
}

func (p *PGEStatements) Extract(msg email.Message) (Statement, error) {
	amount, err := p.extractAmount(msg.Body)
	if err != nil {
		return Statement{}, fmt.Errorf("statement %s: %w", msg.ID, err)
	}
	due, err := p.extractDueDate(msg.Body)
	if err != nil {
		return Statement{}, fmt.Errorf("statement %s: %w", msg.ID, err)
	}
	return Statement{Provider: p.provider, Amount: amount, DueDate: due}, nil
}

func (p *PGEStatements) extractAmount(body string) (amount decimal.Decimal, err error) {
	if s := firstGroup(pgeAmountLabeled, body); s != "" {
		amount, err = parseMoney(s)
		if err == nil && amount.IsPositive() {
			return amount, nil
		}
	}
	// No labeled total: take the largest dollar figure present.
	var found bool
	for _, m := range pgeAmountAny.FindAllStringSubmatch(body, -1) {
		v, perr := parseMoney(m[1])
		if perr != nil {
			continue
		}
		if !found || v.GreaterThan(amount) {
			amount = v
			found = true
		}
	}
	if !found || !amount.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("no bill amount found: %w", ErrExtraction)
	}
	return amount, nil
}

func (p *PGEStatements) extractDueDate(body string) (time.Time, error) {
	for _, re := range pgeDuePatterns {
		for _, m := range re.FindAllStringSubmatch(body, -1) {
			if due, perr := time.Parse(pgeDateLayout, m[1]); perr == nil {
				return due, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("no due date found: %w", ErrExtraction)
}
