// internal/domain/bill/status.go
package bill

// Status is the lifecycle state of a bill.
type Status string

const (
	StatusCreated  Status = "CREATED"  // stored, no notification delivered yet
	StatusNotified Status = "NOTIFIED" // at least one notification channel succeeded
	StatusPaid     Status = "PAID"     // matching payment confirmed; terminal
)

// LogAction labels an entry of the append-only processing log.
type LogAction string

const (
	LogBillCreated        LogAction = "bill_created"
	LogDuplicateSkipped   LogAction = "duplicate_skipped"
	LogNotificationSent   LogAction = "notification_sent"
	LogNotificationFailed LogAction = "notification_failed"
	LogPaymentConfirmed   LogAction = "payment_confirmed"
	LogPaymentRejected    LogAction = "payment_rejected"
)
