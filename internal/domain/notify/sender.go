// internal/domain/notify/sender.go
package notify

import "context"

// Message is one notification rendered for every channel at once: Text is the
// short form (SMS body, chat message), Subject and HTML the rich form for
// email. Senders pick the fields they can deliver.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// Sender delivers a notification over a single channel. Implementations must
// be safe to call again after an error: the caller retries failed channels on
// the next run.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}
