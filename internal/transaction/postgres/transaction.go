package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/frahmantamala/zenn-checkout/internal"
	transactionDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/transaction"
	"github.com/frahmantamala/zenn-checkout/internal/core/outbox"
	"github.com/frahmantamala/zenn-checkout/internal/transaction"
)

const uniqueViolation = "23505"

type TransactionRepository struct {
	db     *gorm.DB
	outbox *outbox.Outbox
}

func NewTransactionRepository(db *gorm.DB, box *outbox.Outbox) *TransactionRepository {
	return &TransactionRepository{db: db, outbox: box}
}

var _ transaction.Repository = (*TransactionRepository)(nil)

func (r *TransactionRepository) Create(ctx context.Context, txn *transaction.Transaction) error {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		if isUniqueViolation(err) {
			return internal.NewConflictError(
				fmt.Sprintf("process id %d is already used", txn.ProcessID),
				internal.ErrCodeProcessIDTaken,
			).WithCause(err)
		}
		return err
	}
	return nil
}

func (r *TransactionRepository) GetByProcessID(ctx context.Context, processID int64) (*transaction.Transaction, error) {
	var txn transaction.Transaction
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

func (r *TransactionRepository) SetGatewayReference(ctx context.Context, processID int64, reference string) error {
	return r.db.WithContext(ctx).
		Model(&transactionDatamodel.Transaction{}).
		Where("process_id = ? AND payment_status = ?", processID, transactionDatamodel.PaymentPending).
		Updates(map[string]interface{}{
			"gateway_reference": reference,
			"updated_at":        time.Now().UTC(),
		}).Error
}

// Resolve applies a pending -> final transition. The row, its timeline entry and the
// notification intent are written in one database transaction. When the transaction is no
// longer pending nothing is written and applied is false; the stored row is returned in both
// cases.
func (r *TransactionRepository) Resolve(ctx context.Context, res transaction.Resolution) (*transaction.Transaction, bool, error) {
	at := res.At.UTC()
	applied := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"payment_status":    res.Status,
			"confirmation_date": at,
			"updated_at":        at,
		}
		if res.ConfirmedByWebhook {
			updates["confirmed_by_webhook"] = true
		}
		if res.GatewayReference != "" {
			updates["gateway_reference"] = gorm.Expr("COALESCE(gateway_reference, ?)", res.GatewayReference)
		}
		setIfPresent(updates, "gateway_response_flag", res.ResponseFlag)
		setIfPresent(updates, "gateway_response_code", res.ResponseCode)
		setIfPresent(updates, "gateway_response_text", res.ResponseText)
		setIfPresent(updates, "extended_response_text", res.ExtendedText)
		setIfPresent(updates, "authorization_number", res.AuthorizationNumber)
		setIfPresent(updates, "ticket_number", res.TicketNumber)
		setIfPresent(updates, "failure_reason", res.FailureReason)
		if len(res.SecurityInformation) > 0 {
			updates["security_information"] = datatypes.JSON(res.SecurityInformation)
		}
		if res.Status == transactionDatamodel.PaymentApproved {
			updates["delivery_status"] = transactionDatamodel.DeliveryPaymentConfirmed
			updates["delivery_updated_at"] = at
		}

		result := tx.Model(&transactionDatamodel.Transaction{}).
			Where("process_id = ? AND payment_status = ?", res.ProcessID, transactionDatamodel.PaymentPending).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return nil
		}
		applied = true

		var txn transaction.Transaction
		if err := tx.Where("process_id = ?", res.ProcessID).First(&txn).Error; err != nil {
			return err
		}

		if res.Status == transactionDatamodel.PaymentApproved {
			entry := &transactionDatamodel.TimelineEntry{
				TransactionID: txn.ID,
				Status:        transactionDatamodel.DeliveryPaymentConfirmed,
				Note:          "payment approved (" + res.Source + ")",
				Automatic:     true,
				CreatedAt:     at,
			}
			if err := tx.Create(entry).Error; err != nil {
				return err
			}
		}

		_, err := r.outbox.EnqueueTx(ctx, tx, outbox.Intent{
			TransactionID: txn.ID,
			ProcessID:     txn.ProcessID,
			EventType:     "payment." + res.Status,
			Recipient:     txn.Customer().Email,
			DedupeKey:     outbox.PaymentDedupeKey(txn.ProcessID, res.Status),
			Snapshot:      txn.NotificationSnapshot(),
		})
		return err
	})
	if err != nil {
		return nil, false, err
	}

	txn, err := r.GetByProcessID(ctx, res.ProcessID)
	if err != nil {
		return nil, applied, err
	}
	return txn, applied, nil
}

// Stamp records a late confirmation on an already resolved transaction. Gateway fields that are
// already set keep their first value.
func (r *TransactionRepository) Stamp(ctx context.Context, res transaction.Resolution, auditKind, note string) error {
	at := res.At.UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txn transactionDatamodel.Transaction
		if err := tx.Where("process_id = ?", res.ProcessID).First(&txn).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return internal.ErrTransactionNotFound
			}
			return err
		}

		updates := map[string]interface{}{"updated_at": at}
		if res.ConfirmedByWebhook {
			updates["confirmed_by_webhook"] = true
		}
		keepFirst(updates, "gateway_reference", res.GatewayReference)
		keepFirst(updates, "gateway_response_flag", res.ResponseFlag)
		keepFirst(updates, "gateway_response_code", res.ResponseCode)
		keepFirst(updates, "gateway_response_text", res.ResponseText)
		keepFirst(updates, "authorization_number", res.AuthorizationNumber)
		keepFirst(updates, "ticket_number", res.TicketNumber)

		if err := tx.Model(&transactionDatamodel.Transaction{}).
			Where("id = ?", txn.ID).
			Updates(updates).Error; err != nil {
			return err
		}

		return tx.Create(&transactionDatamodel.AuditEntry{
			TransactionID: txn.ID,
			Kind:          auditKind,
			Note:          note,
			CreatedAt:     at,
		}).Error
	})
}

func (r *TransactionRepository) AppendAudit(ctx context.Context, transactionID int64, kind, note string, actor *int64) error {
	return r.db.WithContext(ctx).Create(&transactionDatamodel.AuditEntry{
		TransactionID: transactionID,
		Kind:          kind,
		Note:          note,
		Actor:         actor,
		CreatedAt:     time.Now().UTC(),
	}).Error
}

// MarkRolledBack moves an approved transaction to rolled_back after the gateway reversed it.
func (r *TransactionRepository) MarkRolledBack(ctx context.Context, processID int64, reason string, actorID int64, at time.Time) (*transaction.Transaction, bool, error) {
	at = at.UTC()
	applied := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"payment_status":  transactionDatamodel.PaymentRolledBack,
			"is_rolled_back":  true,
			"rollback_date":   at,
			"rollback_reason": reason,
			"updated_at":      at,
		}
		if actorID != 0 {
			updates["rolled_back_by"] = actorID
		}

		result := tx.Model(&transactionDatamodel.Transaction{}).
			Where("process_id = ? AND payment_status = ? AND is_rolled_back = ?",
				processID, transactionDatamodel.PaymentApproved, false).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return nil
		}
		applied = true

		var txn transaction.Transaction
		if err := tx.Where("process_id = ?", processID).First(&txn).Error; err != nil {
			return err
		}
		_, err := r.outbox.EnqueueTx(ctx, tx, outbox.Intent{
			TransactionID: txn.ID,
			ProcessID:     txn.ProcessID,
			EventType:     "payment." + transactionDatamodel.PaymentRolledBack,
			Recipient:     txn.Customer().Email,
			DedupeKey:     outbox.PaymentDedupeKey(txn.ProcessID, transactionDatamodel.PaymentRolledBack),
			Snapshot:      txn.NotificationSnapshot(),
		})
		return err
	})
	if err != nil {
		return nil, false, err
	}

	txn, err := r.GetByProcessID(ctx, processID)
	if err != nil {
		return nil, applied, err
	}
	return txn, applied, nil
}

func (r *TransactionRepository) List(ctx context.Context, filter transaction.ListFilter) ([]*transaction.Transaction, int64, error) {
	query := r.db.WithContext(ctx).Model(&transactionDatamodel.Transaction{})
	if filter.PaymentStatus != "" {
		query = query.Where("payment_status = ?", filter.PaymentStatus)
	}
	if filter.DeliveryStatus != "" {
		query = query.Where("delivery_status = ?", filter.DeliveryStatus)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []*transaction.Transaction
	err := query.
		Order("created_at DESC, id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func (r *TransactionRepository) ListAudit(ctx context.Context, transactionID int64) ([]*transaction.AuditEntry, error) {
	var rows []*transaction.AuditEntry
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func setIfPresent(updates map[string]interface{}, column, value string) {
	if value != "" {
		updates[column] = value
	}
}

func keepFirst(updates map[string]interface{}, column, value string) {
	if value != "" {
		updates[column] = gorm.Expr("COALESCE("+column+", ?)", value)
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
