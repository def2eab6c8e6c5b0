// internal/domain/email/message.go
package email

import "time"

// Message is a mailbox message reduced to the fields the automation reads.
// Body is the decoded plain-text content (HTML already stripped by the
// mailbox client).
type Message struct {
	ID      string
	Sender  string
	Subject string
	Body    string
	Date    time.Time
}
