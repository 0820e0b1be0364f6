package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"gorm.io/gorm"

	"github.com/frahmantamala/zenn-checkout/internal"
	transactionDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/transaction"
	"github.com/frahmantamala/zenn-checkout/internal/core/outbox"
	"github.com/frahmantamala/zenn-checkout/internal/delivery"
)

// DeliveryRepository writes through gorm and reads reports through sqlx on the same pool.
type DeliveryRepository struct {
	db      *gorm.DB
	reports *sqlx.DB
	outbox  *outbox.Outbox
}

func NewDeliveryRepository(db *gorm.DB, reports *sqlx.DB, box *outbox.Outbox) *DeliveryRepository {
	return &DeliveryRepository{db: db, reports: reports, outbox: box}
}

var _ delivery.Repository = (*DeliveryRepository)(nil)

func (r *DeliveryRepository) GetByProcessID(ctx context.Context, processID int64) (*delivery.Transaction, error) {
	var txn delivery.Transaction
	err := r.db.WithContext(ctx).
		Preload("Timeline", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Attempts", func(db *gorm.DB) *gorm.DB { return db.Order("attempted_at ASC, id ASC") }).
		Where("process_id = ?", processID).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// errRaced rolls back a multi-step write whose guarded update no longer matched.
var errRaced = errors.New("delivery changed concurrently")

func (r *DeliveryRepository) Advance(ctx context.Context, t delivery.Transition) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		applied, err = r.advanceTx(ctx, tx, t)
		return err
	})
	return applied, err
}

// RecordAttempt stores the attempt only while the order is in transit and its payment still
// stands. A non-nil delivered transition is applied in the same database transaction; if it
// cannot be applied nothing is written.
func (r *DeliveryRepository) RecordAttempt(ctx context.Context, transactionID int64, attempt *delivery.DeliveryAttempt, delivered *delivery.Transition) (bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&transactionDatamodel.Transaction{}).
			Where("id = ? AND delivery_status = ? AND payment_status = ? AND is_rolled_back = ?",
				transactionID, transactionDatamodel.DeliveryInTransit, transactionDatamodel.PaymentApproved, false).
			Updates(map[string]interface{}{
				"delivery_attempt_count": gorm.Expr("delivery_attempt_count + 1"),
				"updated_at":             attempt.AttemptedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return errRaced
		}

		attempt.TransactionID = transactionID
		if err := tx.Create(attempt).Error; err != nil {
			return err
		}

		if delivered == nil {
			return nil
		}
		applied, err := r.advanceTx(ctx, tx, *delivered)
		if err != nil {
			return err
		}
		if !applied {
			return errRaced
		}
		return nil
	})
	if errors.Is(err, errRaced) {
		return false, nil
	}
	return err == nil, err
}

func (r *DeliveryRepository) advanceTx(ctx context.Context, tx *gorm.DB, t delivery.Transition) (bool, error) {
	at := t.At.UTC()
	updates := map[string]interface{}{
		"delivery_status":     t.To,
		"delivery_updated_at": at,
		"updated_at":          at,
	}
	if t.ActorID != 0 {
		updates["delivery_updated_by"] = t.ActorID
	}
	if t.TrackingNumber != "" {
		updates["tracking_number"] = t.TrackingNumber
	}
	if t.CourierCompany != "" {
		updates["courier_company"] = t.CourierCompany
	}
	if t.Notes != "" {
		updates["delivery_notes"] = t.Notes
	}
	if t.To == transactionDatamodel.DeliveryDelivered {
		updates["actual_delivery_date"] = at
	}

	res := tx.Model(&transactionDatamodel.Transaction{}).
		Where("id = ? AND delivery_status = ? AND payment_status = ? AND is_rolled_back = ?",
			t.TransactionID, t.From, transactionDatamodel.PaymentApproved, false).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected != 1 {
		return false, nil
	}

	entry := &transactionDatamodel.TimelineEntry{
		TransactionID: t.TransactionID,
		Status:        t.To,
		Note:          t.Notes,
		Automatic:     t.Automatic,
		CreatedAt:     at,
	}
	if t.ActorID != 0 {
		actor := t.ActorID
		entry.Actor = &actor
	}
	if err := tx.Create(entry).Error; err != nil {
		return false, err
	}

	if !t.Notify {
		return true, nil
	}
	var txn transactionDatamodel.Transaction
	if err := tx.Where("id = ?", t.TransactionID).First(&txn).Error; err != nil {
		return false, err
	}
	_, err := r.outbox.EnqueueTx(ctx, tx, outbox.Intent{
		TransactionID: txn.ID,
		ProcessID:     txn.ProcessID,
		EventType:     "delivery." + t.To,
		Recipient:     txn.Customer().Email,
		DedupeKey:     outbox.DeliveryDedupeKey(txn.ProcessID, t.To),
		Snapshot:      txn.NotificationSnapshot(),
	})
	return err == nil, err
}

func (r *DeliveryRepository) Rate(ctx context.Context, transactionID int64, rating int, feedback string, at time.Time) (bool, error) {
	updates := map[string]interface{}{
		"rating":     rating,
		"rated_at":   at.UTC(),
		"updated_at": at.UTC(),
	}
	if feedback != "" {
		updates["rating_feedback"] = feedback
	}
	res := r.db.WithContext(ctx).
		Model(&transactionDatamodel.Transaction{}).
		Where("id = ? AND delivery_status = ? AND rating IS NULL", transactionID, transactionDatamodel.DeliveryDelivered).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

const (
	statusCountsQuery = `
		SELECT delivery_status, COUNT(*) AS orders
		FROM transactions
		WHERE payment_status = ? AND delivery_status IS NOT NULL
		GROUP BY delivery_status
		ORDER BY 2 DESC, 1`

	ratingQuery = `
		SELECT COUNT(rating) AS rated, COALESCE(AVG(rating * 1.0), 0) AS average_rating
		FROM transactions
		WHERE rating IS NOT NULL`
)

func (r *DeliveryRepository) Stats(ctx context.Context) (*delivery.Stats, error) {
	stats := &delivery.Stats{ByStatus: []delivery.StatusCount{}}
	if err := r.reports.SelectContext(ctx, &stats.ByStatus,
		r.reports.Rebind(statusCountsQuery), transactionDatamodel.PaymentApproved); err != nil {
		return nil, err
	}
	for _, c := range stats.ByStatus {
		stats.Total += c.Count
	}

	var rating struct {
		Rated   int64   `db:"rated"`
		Average float64 `db:"average_rating"`
	}
	if err := r.reports.GetContext(ctx, &rating, ratingQuery); err != nil {
		return nil, err
	}
	stats.RatedOrders = rating.Rated
	stats.AverageRating = rating.Average
	return stats, nil
}
