package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	notificationDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/notification"
	"github.com/frahmantamala/zenn-checkout/internal/core/outbox"
	"github.com/frahmantamala/zenn-checkout/internal/notification"
)

type NotificationRepository struct {
	db     *gorm.DB
	outbox *outbox.Outbox
}

func NewNotificationRepository(db *gorm.DB, box *outbox.Outbox) *NotificationRepository {
	return &NotificationRepository{db: db, outbox: box}
}

var _ notification.Repository = (*NotificationRepository)(nil)

// ClaimDue moves due intents to processing one row at a time. Each claim is a compare-and-set
// on (status, attempts), so two dispatchers never take the same intent, and an intent whose
// lease expired while processing can be taken again.
func (r *NotificationRepository) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*notification.OutboxMessage, error) {
	var candidates []*notification.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status IN ? AND available_at <= ?",
			[]string{notificationDatamodel.OutboxPending, notificationDatamodel.OutboxProcessing}, now).
		Order("available_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]*notification.OutboxMessage, 0, len(candidates))
	leaseUntil := now.Add(lease)
	for _, c := range candidates {
		res := r.db.WithContext(ctx).
			Model(&notificationDatamodel.OutboxMessage{}).
			Where("id = ? AND status = ? AND attempts = ?", c.ID, c.Status, c.Attempts).
			Updates(map[string]interface{}{
				"status":       notificationDatamodel.OutboxProcessing,
				"attempts":     c.Attempts + 1,
				"available_at": leaseUntil,
			})
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected != 1 {
			continue
		}
		c.Status = notificationDatamodel.OutboxProcessing
		c.Attempts++
		c.AvailableAt = leaseUntil
		claimed = append(claimed, c)
	}
	return claimed, nil
}

func (r *NotificationRepository) MarkDispatched(ctx context.Context, id int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&notificationDatamodel.OutboxMessage{}).
		Where("id = ? AND status = ?", id, notificationDatamodel.OutboxProcessing).
		Updates(map[string]interface{}{
			"status":        notificationDatamodel.OutboxDispatched,
			"dispatched_at": at,
			"last_error":    nil,
		}).Error
}

func (r *NotificationRepository) Reschedule(ctx context.Context, id int64, availableAt time.Time, lastError string) error {
	return r.db.WithContext(ctx).
		Model(&notificationDatamodel.OutboxMessage{}).
		Where("id = ? AND status = ?", id, notificationDatamodel.OutboxProcessing).
		Updates(map[string]interface{}{
			"status":       notificationDatamodel.OutboxPending,
			"available_at": availableAt,
			"last_error":   lastError,
		}).Error
}

func (r *NotificationRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	return r.db.WithContext(ctx).
		Model(&notificationDatamodel.OutboxMessage{}).
		Where("id = ? AND status = ?", id, notificationDatamodel.OutboxProcessing).
		Updates(map[string]interface{}{
			"status":     notificationDatamodel.OutboxFailed,
			"last_error": lastError,
		}).Error
}

func (r *NotificationRepository) RecordSent(ctx context.Context, sent *notification.Sent) error {
	return r.db.WithContext(ctx).Create(sent).Error
}

func (r *NotificationRepository) ListSent(ctx context.Context, transactionID int64) ([]*notification.Sent, error) {
	var rows []*notification.Sent
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("sent_at DESC, id DESC").
		Find(&rows).Error
	return rows, err
}

// LastSent returns nil without error when nothing was sent for the status yet.
func (r *NotificationRepository) LastSent(ctx context.Context, transactionID int64, triggeringStatus string) (*notification.Sent, error) {
	var row notification.Sent
	err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND triggering_status = ?", transactionID, triggeringStatus).
		Order("sent_at DESC, id DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *NotificationRepository) Enqueue(ctx context.Context, intent outbox.Intent) (bool, error) {
	return r.outbox.EnqueueTx(ctx, r.db, intent)
}

// Stats counts outbox rows per status for the admin dashboard and the worker log line.
func (r *NotificationRepository) Stats(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&notificationDatamodel.OutboxMessage{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}
