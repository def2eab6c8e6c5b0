// internal/domain/bill/log.go
package bill

import "time"

// LogEntry is one row of the append-only processing log attached to a bill.
// Entries are never updated or deleted; they exist so the dashboard can show
// what the automation did and when.
type LogEntry struct {
	ID        string // uuid, assigned by the repository when empty
	BillID    int64
	Action    LogAction
	Details   string
	CreatedAt time.Time
}
