// Package outbox stores notification intents next to the state change that produced them.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/frahmantamala/zenn-checkout/internal/core/datamodel/notification"
)

// Intent describes one notification to deliver after commit.
type Intent struct {
	TransactionID int64
	ProcessID     int64
	EventType     string
	Channel       string
	Recipient     string
	DedupeKey     string
	Snapshot      interface{}
}

type Outbox struct {
	genID *snowflake.Node
	now   func() time.Time
}

func New(nodeID int64) (*Outbox, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("outbox: snowflake node: %w", err)
	}
	return &Outbox{genID: node, now: time.Now}, nil
}

// EnqueueTx inserts the intent using the caller's transaction. A second intent with the same
// dedupe key is silently dropped; the returned bool reports whether a row was written.
func (o *Outbox) EnqueueTx(ctx context.Context, tx *gorm.DB, intent Intent) (bool, error) {
	if o == nil || o.genID == nil {
		return false, errors.New("outbox_unavailable")
	}
	if tx == nil {
		return false, errors.New("missing_transaction")
	}
	eventType := strings.TrimSpace(intent.EventType)
	if eventType == "" {
		return false, errors.New("missing_event_type")
	}
	dedupe := strings.TrimSpace(intent.DedupeKey)
	if dedupe == "" {
		return false, errors.New("missing_dedupe_key")
	}
	channel := intent.Channel
	if channel == "" {
		channel = notification.ChannelEmail
	}

	payload, err := json.Marshal(intent.Snapshot)
	if err != nil {
		return false, fmt.Errorf("outbox: marshal snapshot: %w", err)
	}

	now := o.now().UTC()
	res := tx.WithContext(ctx).Exec(
		`INSERT INTO notification_outbox
		 (id, transaction_id, process_id, event_type, channel, recipient, dedupe_key, payload, status, attempts, available_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		o.genID.Generate().Int64(),
		intent.TransactionID,
		intent.ProcessID,
		eventType,
		channel,
		intent.Recipient,
		dedupe,
		datatypes.JSON(payload),
		notification.OutboxPending,
		now,
		now,
	)
	if res.Error != nil {
		return false, fmt.Errorf("outbox: insert intent: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func PaymentDedupeKey(processID int64, status string) string {
	return fmt.Sprintf("payment:%d:%s", processID, status)
}

func DeliveryDedupeKey(processID int64, status string) string {
	return fmt.Sprintf("delivery:%d:%s", processID, status)
}

// ResendDedupeKey is unique per call so a manual resend always produces a new intent.
func ResendDedupeKey(processID int64, status string, nonce string) string {
	return fmt.Sprintf("resend:%d:%s:%s", processID, status, nonce)
}
