package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/frahmantamala/zenn-checkout/internal"
	transactionDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/transaction"
	"github.com/frahmantamala/zenn-checkout/internal/core/events"
)

type Service struct {
	repo   Repository
	bus    *events.EventBus
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, bus *events.EventBus, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// Advance moves the order one step along its delivery path, or to problem.
func (s *Service) Advance(ctx context.Context, processID int64, dto AdvanceDTO, actorID int64) (*AdvanceResponse, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	txn, err := s.repo.GetByProcessID(ctx, processID)
	if err != nil {
		return nil, err
	}
	if !txn.IsApproved() {
		return nil, errRequiresApproval(txn)
	}

	current := txn.CurrentDeliveryStatus()
	if dto.ExpectedStatus != "" && dto.ExpectedStatus != current {
		return nil, errStale(processID, dto.ExpectedStatus, current)
	}
	if !CanTransition(current, dto.Status) {
		s.logger.Warn("illegal delivery transition",
			"process_id", processID,
			"from", current,
			"to", dto.Status,
			"actor_id", actorID)
		return nil, internal.NewConflictError(
			fmt.Sprintf("cannot move delivery from %q to %q", current, dto.Status),
			internal.ErrCodeInvalidDeliveryStep,
		)
	}

	return s.advance(ctx, Transition{
		TransactionID:  txn.ID,
		ProcessID:      processID,
		From:           current,
		To:             dto.Status,
		TrackingNumber: dto.TrackingNumber,
		CourierCompany: dto.CourierCompany,
		Notes:          dto.Notes,
		ActorID:        actorID,
		Notify:         dto.notify(),
		At:             s.now(),
	})
}

func (s *Service) advance(ctx context.Context, t Transition) (*AdvanceResponse, error) {
	applied, err := s.repo.Advance(ctx, t)
	if err != nil {
		s.logger.Error("failed to advance delivery", "process_id", t.ProcessID, "to", t.To, "error", err)
		return nil, internal.NewInternalError("failed to update delivery status", err)
	}
	if !applied {
		s.logger.Warn("delivery changed concurrently", "process_id", t.ProcessID, "expected", t.From, "to", t.To)
		return nil, errStale(t.ProcessID, t.From, "")
	}

	s.announce(ctx, t)
	return &AdvanceResponse{
		ProcessID: t.ProcessID,
		From:      t.From,
		To:        t.To,
		Notified:  t.Notify,
	}, nil
}

// announce runs after the transition committed.
func (s *Service) announce(ctx context.Context, t Transition) {
	s.logger.Info("delivery advanced",
		"process_id", t.ProcessID,
		"from", t.From,
		"to", t.To,
		"actor_id", t.ActorID,
		"automatic", t.Automatic,
		"notify", t.Notify)

	s.bus.Publish(ctx, events.NewDeliveryAdvancedEvent(t.ProcessID, t.From, t.To, t.ActorID))
	if t.Notify {
		s.bus.Publish(ctx, events.NewNotificationQueuedEvent(t.ProcessID, "delivery."+t.To))
	}
}

// RecordAttempt logs a delivery attempt. A successful attempt delivers the order and notifies
// the customer.
func (s *Service) RecordAttempt(ctx context.Context, processID int64, dto AttemptDTO, actorID int64) (*ProgressView, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	txn, err := s.repo.GetByProcessID(ctx, processID)
	if err != nil {
		return nil, err
	}
	if !txn.IsApproved() {
		return nil, errRequiresApproval(txn)
	}
	if txn.CurrentDeliveryStatus() != transactionDatamodel.DeliveryInTransit {
		return nil, internal.NewConflictError(
			fmt.Sprintf("delivery attempts are recorded while in transit, order is %q", txn.CurrentDeliveryStatus()),
			internal.ErrCodeInvalidDeliveryStep,
		)
	}

	at := s.now().UTC()
	attempt := &DeliveryAttempt{
		Result:          dto.Result,
		Notes:           dto.Notes,
		NextAttemptDate: dto.NextAttemptDate,
		AttemptedAt:     at,
	}
	if actorID != 0 {
		actor := actorID
		attempt.Actor = &actor
	}

	var delivered *Transition
	if dto.Result == transactionDatamodel.AttemptSuccessful {
		delivered = &Transition{
			TransactionID: txn.ID,
			ProcessID:     processID,
			From:          transactionDatamodel.DeliveryInTransit,
			To:            transactionDatamodel.DeliveryDelivered,
			Notes:         fmt.Sprintf("delivered on attempt %d", txn.DeliveryAttemptCount+1),
			ActorID:       actorID,
			Automatic:     true,
			Notify:        true,
			At:            at,
		}
	}

	applied, err := s.repo.RecordAttempt(ctx, txn.ID, attempt, delivered)
	if err != nil {
		s.logger.Error("failed to record delivery attempt", "process_id", processID, "error", err)
		return nil, internal.NewInternalError("failed to record delivery attempt", err)
	}
	if !applied {
		return nil, errStale(processID, transactionDatamodel.DeliveryInTransit, "")
	}

	s.logger.Info("delivery attempt recorded",
		"process_id", processID,
		"result", dto.Result,
		"attempt", txn.DeliveryAttemptCount+1)
	if delivered != nil {
		s.announce(ctx, *delivered)
	}

	return s.Progress(ctx, processID, 0, true)
}

// Rate stores the customer's one-time rating of a delivered order.
func (s *Service) Rate(ctx context.Context, processID int64, dto RateDTO, userID int64) (*ProgressView, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	txn, err := s.repo.GetByProcessID(ctx, processID)
	if err != nil {
		return nil, err
	}
	if !ownedBy(txn, userID) {
		return nil, internal.ErrTransactionNotFound
	}
	if txn.CurrentDeliveryStatus() != transactionDatamodel.DeliveryDelivered {
		return nil, internal.NewConflictError("only delivered orders can be rated", internal.ErrCodeNotDelivered)
	}
	if txn.Rating != nil {
		return nil, errAlreadyRated
	}

	applied, err := s.repo.Rate(ctx, txn.ID, dto.Rating, dto.Feedback, s.now())
	if err != nil {
		s.logger.Error("failed to store rating", "process_id", processID, "error", err)
		return nil, internal.NewInternalError("failed to store rating", err)
	}
	if !applied {
		return nil, errAlreadyRated
	}

	s.logger.Info("order rated", "process_id", processID, "rating", dto.Rating, "user_id", userID)
	return s.Progress(ctx, processID, userID, false)
}

// Progress builds the delivery view. Without viewAll only the order's creator can see it.
func (s *Service) Progress(ctx context.Context, processID, userID int64, viewAll bool) (*ProgressView, error) {
	txn, err := s.repo.GetByProcessID(ctx, processID)
	if err != nil {
		return nil, err
	}
	if !viewAll && !ownedBy(txn, userID) {
		return nil, internal.ErrTransactionNotFound
	}
	return NewProgressView(txn), nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		s.logger.Error("failed to load delivery stats", "error", err)
		return nil, internal.NewInternalError("failed to load delivery stats", err)
	}
	return stats, nil
}

func NewProgressView(txn *Transaction) *ProgressView {
	current := txn.CurrentDeliveryStatus()
	step := stepIndex(current) + 1

	view := &ProgressView{
		ProcessID:          txn.ProcessID,
		CurrentStatus:      current,
		StepIndex:          step,
		TotalSteps:         len(Steps),
		ProgressPercentage: int(math.Round(float64(step) / float64(len(Steps)) * 100)),
		NextStep:           next[current],
		TrackingNumber:     txn.TrackingNumber,
		CourierCompany:     txn.CourierCompany,
		DeliveryNotes:      txn.DeliveryNotes,
		ActualDeliveryDate: txn.ActualDeliveryDate,
		LastUpdated:        txn.DeliveryUpdatedAt,
		AttemptCount:       txn.DeliveryAttemptCount,
		Rating:             txn.Rating,
		CanRate:            current == transactionDatamodel.DeliveryDelivered && txn.Rating == nil,
		Timeline:           make([]StepView, 0, len(txn.Timeline)),
		Attempts:           make([]AttemptView, 0, len(txn.Attempts)),
	}
	for _, e := range txn.Timeline {
		view.Timeline = append(view.Timeline, StepView{
			Status:    e.Status,
			Note:      e.Note,
			Actor:     e.Actor,
			Automatic: e.Automatic,
			At:        e.CreatedAt,
		})
	}
	for _, a := range txn.Attempts {
		view.Attempts = append(view.Attempts, AttemptView{
			Result:          a.Result,
			Notes:           a.Notes,
			NextAttemptDate: a.NextAttemptDate,
			AttemptedAt:     a.AttemptedAt,
		})
	}
	return view
}

var errAlreadyRated = internal.NewConflictError("order was already rated", internal.ErrCodeAlreadyRated)

func errRequiresApproval(txn *Transaction) error {
	return internal.NewConflictError(
		fmt.Sprintf("delivery needs an approved payment, payment is %s", txn.PaymentStatus),
		internal.ErrCodeDeliveryRequiresApproval,
	)
}

func errStale(processID int64, expected, current string) error {
	msg := fmt.Sprintf("delivery status of %d is no longer %q", processID, expected)
	if current != "" {
		msg = fmt.Sprintf("delivery status of %d is %q, not %q", processID, current, expected)
	}
	return internal.NewConflictError(msg, internal.ErrCodeStaleDeliveryStatus)
}

func ownedBy(txn *Transaction, userID int64) bool {
	return userID != 0 && txn.CreatedBy != nil && *txn.CreatedBy == userID
}
