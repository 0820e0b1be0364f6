package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	notificationDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/notification"
)

type (
	OutboxMessage = notificationDatamodel.OutboxMessage
	Sent          = notificationDatamodel.Sent
)

const (
	EventPaymentPrefix  = "payment."
	EventDeliveryPrefix = "delivery."
)

// Message is what a Notifier receives. ID is fresh per attempt; receivers deduplicate on
// IdempotencyKey, which is stable for one outbox intent.
type Message struct {
	ID            string          `json:"id"`
	OutboxID      int64           `json:"outbox_id"`
	TransactionID int64           `json:"transaction_id"`
	ProcessID     int64           `json:"process_id"`
	EventType     string          `json:"event_type"`
	Channel       string          `json:"channel"`
	Recipient     string          `json:"recipient"`
	Snapshot      json.RawMessage `json:"snapshot"`
	Attempt       int             `json:"attempt"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
	Name() string
}

func (m Message) IdempotencyKey() string {
	return fmt.Sprintf("outbox-%d", m.OutboxID)
}

// TriggeringStatus extracts the status suffix of an event type, e.g. "approved" from
// "payment.approved".
func TriggeringStatus(eventType string) string {
	for i := len(eventType) - 1; i >= 0; i-- {
		if eventType[i] == '.' {
			return eventType[i+1:]
		}
	}
	return eventType
}

type HistoryEntry struct {
	ID               int64     `json:"id"`
	Channel          string    `json:"channel"`
	TriggeringStatus string    `json:"triggering_status"`
	Recipient        string    `json:"recipient"`
	Success          bool      `json:"success"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	SentAt           time.Time `json:"sent_at"`
}

func historyFromSent(rows []*Sent) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, HistoryEntry{
			ID:               r.ID,
			Channel:          r.Channel,
			TriggeringStatus: r.TriggeringStatus,
			Recipient:        r.Recipient,
			Success:          r.Success,
			ErrorMessage:     r.ErrorMessage,
			SentAt:           r.SentAt,
		})
	}
	return out
}

type ResendDTO struct {
	Force bool `json:"force"`
}

type ResendResponse struct {
	ProcessID        int64  `json:"process_id"`
	TriggeringStatus string `json:"triggering_status"`
	Queued           bool   `json:"queued"`
}
