// internal/domain/email/mailbox.go
package email

import (
	"context"
	"time"
)

// Query narrows a mailbox search. Zero-valued fields are omitted from the
// search expression.
type Query struct {
	From   string
	After  time.Time
	Before time.Time
	Terms  string // raw extra search terms, appended verbatim
}

// Mailbox defines the read-only view of the user's mailbox. This decouples
// the application logic from the Gmail API client.
type Mailbox interface {
	Search(ctx context.Context, q Query, limit int) ([]Message, error)
}
