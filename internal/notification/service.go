package notification

import (
	"context"
	"log/slog"

	"github.com/jaevor/go-nanoid"

	"github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/core/datamodel/transaction"
	"github.com/frahmantamala/zenn-checkout/internal/core/events"
	"github.com/frahmantamala/zenn-checkout/internal/core/outbox"
)

type TransactionFinder interface {
	GetByProcessID(ctx context.Context, processID int64) (*transaction.Transaction, error)
}

type Service struct {
	repo     Repository
	txns     TransactionFinder
	bus      *events.EventBus
	logger   *slog.Logger
	newNonce func() string
}

func NewService(repo Repository, txns TransactionFinder, bus *events.EventBus, logger *slog.Logger) (*Service, error) {
	nonce, err := nanoid.Standard(12)
	if err != nil {
		return nil, err
	}
	return &Service{
		repo:     repo,
		txns:     txns,
		bus:      bus,
		logger:   logger,
		newNonce: nonce,
	}, nil
}

// Resend queues a fresh notification for the transaction's current status. Without force it
// refuses when the last notification for that status went out successfully.
func (s *Service) Resend(ctx context.Context, processID int64, force bool, actorID int64) (*ResendResponse, error) {
	txn, err := s.txns.GetByProcessID(ctx, processID)
	if err != nil {
		return nil, err
	}

	status, eventType := currentEvent(txn)
	if txn.PaymentStatus == transaction.PaymentPending {
		return nil, internal.NewConflictError("nothing to notify while the payment is pending", internal.ErrCodeInvalidStatus)
	}

	last, err := s.repo.LastSent(ctx, txn.ID, status)
	if err != nil {
		s.logger.Error("failed to read notification history", "process_id", processID, "error", err)
		return nil, internal.NewInternalError("failed to read notification history", err)
	}
	if last != nil && last.Success && !force {
		s.logger.Info("resend refused, already notified",
			"process_id", processID,
			"triggering_status", status,
			"actor_id", actorID)
		return nil, internal.NewConflictError("customer was already notified for this status", internal.ErrCodeAlreadyNotified)
	}

	queued, err := s.repo.Enqueue(ctx, outbox.Intent{
		TransactionID: txn.ID,
		ProcessID:     txn.ProcessID,
		EventType:     eventType,
		Recipient:     txn.Customer().Email,
		DedupeKey:     outbox.ResendDedupeKey(txn.ProcessID, status, s.newNonce()),
		Snapshot:      txn.NotificationSnapshot(),
	})
	if err != nil {
		s.logger.Error("failed to queue notification resend", "process_id", processID, "error", err)
		return nil, internal.NewInternalError("failed to queue notification", err)
	}

	s.logger.Info("notification resend queued",
		"process_id", processID,
		"triggering_status", status,
		"force", force,
		"actor_id", actorID)
	s.bus.Publish(ctx, events.NewNotificationQueuedEvent(processID, eventType))

	return &ResendResponse{
		ProcessID:        processID,
		TriggeringStatus: status,
		Queued:           queued,
	}, nil
}

func (s *Service) History(ctx context.Context, processID int64) ([]HistoryEntry, error) {
	txn, err := s.txns.GetByProcessID(ctx, processID)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.ListSent(ctx, txn.ID)
	if err != nil {
		s.logger.Error("failed to list notifications", "process_id", processID, "error", err)
		return nil, internal.NewInternalError("failed to list notifications", err)
	}
	return historyFromSent(rows), nil
}

// currentEvent picks the delivery status once delivery tracking started, the payment status
// otherwise.
func currentEvent(txn *transaction.Transaction) (status, eventType string) {
	if ds := txn.CurrentDeliveryStatus(); ds != "" && ds != transaction.DeliveryPaymentConfirmed {
		return ds, EventDeliveryPrefix + ds
	}
	return txn.PaymentStatus, EventPaymentPrefix + txn.PaymentStatus
}
