// internal/provider/provider.go
package provider

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"bill_split_automation/internal/domain/email"

	"github.com/shopspring/decimal"
)

// ErrExtraction marks a message that looked relevant but whose fields could
// not be parsed. Callers log it, skip the message and keep the batch going.
var ErrExtraction = fmt.Errorf("field extraction failed")

// Classification is the verdict on a single mailbox message.
type Classification int

const (
	Irrelevant Classification = iota
	NewBill
	PaymentConfirmation
)

func (c Classification) String() string {
	switch c {
	case NewBill:
		return "new_bill"
	case PaymentConfirmation:
		return "payment_confirmation"
	default:
		return "irrelevant"
	}
}

// Statement is the content extracted from a new-bill email.
type Statement struct {
	Provider string
	Amount   decimal.Decimal
	DueDate  time.Time
}

// Confirmation is the content extracted from a payment-confirmation email.
type Confirmation struct {
	Service    string
	Payer      string
	Amount     decimal.Decimal
	PaymentRef string
	Note       string
	Date       time.Time
}

// StatementParser recognizes and extracts the billing statements of a single
// provider. Implementations hold the provider's wording and patterns; swapping
// providers never touches the reconciler.
type StatementParser interface {
	Provider() string // short key used in period keys, e.g. "pge"
	Sender() string   // address the provider sends statements from
	IsStatement(msg email.Message) bool
	Extract(msg email.Message) (Statement, error)
}

// ConfirmationParser recognizes and extracts the payment confirmations of a
// single payment service.
type ConfirmationParser interface {
	Service() string
	Sender() string      // address the service sends receipts from
	SearchTerms() string // extra mailbox query terms narrowing the receipt search
	IsConfirmation(msg email.Message) bool
	Extract(msg email.Message) (Confirmation, error)
}

// Classify decides what a message is. The confirmation check runs first:
// receipts routinely quote the statement wording they pay for, so a message
// matching both is a confirmation, never a new bill.
func Classify(msg email.Message, statements StatementParser, confirmations ConfirmationParser) Classification {
	if confirmations.IsConfirmation(msg) {
		return PaymentConfirmation
	}
	if statements.IsStatement(msg) {
		return NewBill
	}
	return Irrelevant
}

// parseMoney turns a captured dollar figure like "1,234.56" into an exact
// decimal.
func parseMoney(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
}

// firstGroup returns the first capture group of the first pattern that
// matches, trimmed, or "" when nothing matches.
func firstGroup(patterns []*regexp.Regexp, text string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
