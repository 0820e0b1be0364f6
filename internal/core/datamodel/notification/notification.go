package notification

import (
	"time"

	"gorm.io/datatypes"
)

const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxDispatched = "dispatched"
	OutboxFailed     = "failed"
)

const (
	ChannelEmail = "email"
)

// OutboxMessage is a notification intent written in the same database transaction as the
// state change that caused it.
type OutboxMessage struct {
	ID            int64          `gorm:"primaryKey;autoIncrement:false"`
	TransactionID int64          `gorm:"column:transaction_id;not null;index"`
	ProcessID     int64          `gorm:"column:process_id;not null"`
	EventType     string         `gorm:"column:event_type;not null"`
	Channel       string         `gorm:"column:channel;not null"`
	Recipient     string         `gorm:"column:recipient"`
	DedupeKey     string         `gorm:"column:dedupe_key;not null;uniqueIndex"`
	Payload       datatypes.JSON `gorm:"column:payload"`
	Status        string         `gorm:"column:status;not null;index"`
	Attempts      int            `gorm:"column:attempts;not null;default:0"`
	LastError     *string        `gorm:"column:last_error"`
	AvailableAt   time.Time      `gorm:"column:available_at;not null"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
	DispatchedAt  *time.Time     `gorm:"column:dispatched_at"`
}

func (OutboxMessage) TableName() string { return "notification_outbox" }

// Sent is one dispatch outcome, kept for audit and for resend decisions.
type Sent struct {
	ID               int64     `gorm:"primaryKey"`
	TransactionID    int64     `gorm:"column:transaction_id;not null;index"`
	OutboxID         int64     `gorm:"column:outbox_id"`
	Channel          string    `gorm:"column:channel;not null"`
	TriggeringStatus string    `gorm:"column:triggering_status;not null"`
	Recipient        string    `gorm:"column:recipient"`
	Success          bool      `gorm:"column:success;not null"`
	ErrorMessage     *string   `gorm:"column:error_message"`
	SentAt           time.Time `gorm:"column:sent_at"`
}

func (Sent) TableName() string { return "notifications_sent" }
