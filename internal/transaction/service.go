package transaction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/bancard"
	transactionDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/transaction"
	"github.com/frahmantamala/zenn-checkout/internal/core/events"
	"github.com/frahmantamala/zenn-checkout/internal/metrics"
)

const (
	allocationAttempts = 3

	defaultListLimit = 20
	maxListLimit     = 100
)

// ProcessIDSource hands out shop process ids.
type ProcessIDSource interface {
	Next() int64
}

// TokenVerifier checks the token carried by a confirmation.
type TokenVerifier interface {
	VerifyConfirmation(token string, processID int64, amount decimal.Decimal, currency string) bool
}

type Service struct {
	repo      Repository
	gateway   Gateway
	verifier  TokenVerifier
	allocator ProcessIDSource
	bus       *events.EventBus
	metrics   *metrics.CheckoutMetrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(
	repo Repository,
	gateway Gateway,
	verifier TokenVerifier,
	allocator ProcessIDSource,
	bus *events.EventBus,
	m *metrics.CheckoutMetrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		gateway:   gateway,
		verifier:  verifier,
		allocator: allocator,
		bus:       bus,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateCharge persists a pending transaction and starts the payment at the gateway. New
// cards always end in RequiresAction; saved cards may be resolved by the charge answer itself.
func (s *Service) CreateCharge(ctx context.Context, dto CreateChargeDTO, actorID int64) (*ChargeResponse, error) {
	if err := dto.Validate(); err != nil {
		s.logger.Warn("charge validation failed", "error", err, "actor_id", actorID)
		return nil, err
	}
	if dto.PaymentMethod == transactionDatamodel.MethodSavedCard && actorID == 0 {
		return nil, internal.NewForbiddenError("saved card payments require a registered user", internal.ErrCodeGuestNotAllowed)
	}

	cfg := s.gateway.Config()
	if err := cfg.Validate(); err != nil {
		s.logger.Error("gateway is misconfigured, charge refused", "error", err)
		return nil, err
	}

	txn, err := s.createPending(ctx, dto, actorID, cfg.Environment)
	if err != nil {
		return nil, err
	}

	s.logger.Info("transaction created",
		"process_id", txn.ProcessID,
		"amount", txn.Amount.StringFixed(2),
		"currency", txn.Currency,
		"payment_method", txn.PaymentMethod,
		"actor_id", actorID)

	if dto.PaymentMethod == transactionDatamodel.MethodSavedCard {
		return s.chargeSavedCard(ctx, txn, dto)
	}
	return s.chargeNewCard(ctx, txn, dto, cfg)
}

func (s *Service) createPending(ctx context.Context, dto CreateChargeDTO, actorID int64, environment string) (*Transaction, error) {
	customer, err := json.Marshal(dto.Customer)
	if err != nil {
		return nil, internal.NewInternalError("failed to encode customer", err)
	}
	items, err := json.Marshal(dto.Items)
	if err != nil {
		return nil, internal.NewInternalError("failed to encode items", err)
	}

	attempts := allocationAttempts
	if dto.ProcessID != nil {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		var processID int64
		if dto.ProcessID != nil {
			processID = *dto.ProcessID
		} else {
			processID = s.allocator.Next()
		}

		now := s.now().UTC()
		txn := &Transaction{
			ProcessID:        processID,
			Amount:           dto.Amount,
			Currency:         dto.Currency,
			PaymentStatus:    transactionDatamodel.PaymentPending,
			CustomerSnapshot: customer,
			Items:            items,
			Description:      dto.Description,
			PaymentMethod:    dto.PaymentMethod,
			IsTokenPayment:   dto.PaymentMethod == transactionDatamodel.MethodSavedCard,
			Environment:      environment,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if dto.AliasToken != "" {
			alias := dto.AliasToken
			txn.AliasToken = &alias
		}
		if code := dto.promotionCode(); code != "" {
			txn.PromotionCode = &code
		}
		if actorID != 0 {
			creator := actorID
			txn.CreatedBy = &creator
		}

		lastErr = s.repo.Create(ctx, txn)
		if lastErr == nil {
			return txn, nil
		}
		if appErr, ok := internal.IsAppError(lastErr); ok && appErr.Code == internal.ErrCodeProcessIDTaken {
			s.logger.Warn("process id collision", "process_id", processID, "attempt", i+1)
			continue
		}
		s.logger.Error("failed to persist transaction", "process_id", processID, "error", lastErr)
		return nil, internal.NewInternalError("failed to create transaction", lastErr)
	}
	return nil, lastErr
}

func (s *Service) chargeNewCard(ctx context.Context, txn *Transaction, dto CreateChargeDTO, cfg bancard.Config) (*ChargeResponse, error) {
	result, err := s.gateway.SingleBuy(ctx, bancard.SingleBuyRequest{
		ProcessID:      txn.ProcessID,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		Description:    gatewayDescription(dto.Description),
		AdditionalData: dto.promotionCode(),
	})
	if err != nil {
		return nil, s.gatewayFailure(txn, "single_buy", err)
	}
	if !result.Accepted {
		return nil, s.failAtGateway(ctx, txn, result.Messages)
	}

	if err := s.repo.SetGatewayReference(ctx, txn.ProcessID, result.ProcessID); err != nil {
		return nil, s.manualReconciliation(txn.ProcessID, result.ProcessID, err)
	}

	s.metrics.RecordCharge(txn.PaymentMethod, string(bancard.DecisionRequiresAction))
	return &ChargeResponse{
		Success:       true,
		ProcessID:     txn.ProcessID,
		PaymentStatus: transactionDatamodel.PaymentPending,
		RequiresAction: &RequiresAction{
			Type:             RequiresActionIframe,
			GatewayProcessID: result.ProcessID,
			ScriptURL:        cfg.CheckoutScriptURL(),
		},
	}, nil
}

func (s *Service) chargeSavedCard(ctx context.Context, txn *Transaction, dto CreateChargeDTO) (*ChargeResponse, error) {
	result, err := s.gateway.Charge(ctx, bancard.ChargeRequest{
		ProcessID:      txn.ProcessID,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		AliasToken:     dto.AliasToken,
		Description:    gatewayDescription(dto.Description),
		AdditionalData: dto.promotionCode(),
	})
	if err != nil {
		return nil, s.gatewayFailure(txn, "charge", err)
	}
	if !result.Accepted {
		return nil, s.failAtGateway(ctx, txn, result.Messages)
	}

	status, conclusive := decisionStatus(result.Decision)
	if !conclusive {
		if err := s.repo.SetGatewayReference(ctx, txn.ProcessID, result.ProcessID); err != nil {
			return nil, s.manualReconciliation(txn.ProcessID, result.ProcessID, err)
		}
		s.metrics.RecordCharge(txn.PaymentMethod, string(bancard.DecisionRequiresAction))
		return &ChargeResponse{
			Success:       true,
			ProcessID:     txn.ProcessID,
			PaymentStatus: transactionDatamodel.PaymentPending,
			RequiresAction: &RequiresAction{
				Type:             RequiresActionRedirect,
				GatewayProcessID: result.ProcessID,
				RedirectURL:      result.RedirectURL,
			},
		}, nil
	}

	res := resolutionFromOperation(txn.ProcessID, status, SourceSync, result.Operation, s.now())
	if status == transactionDatamodel.PaymentRejected {
		res.FailureReason = result.Operation.ResponseDescription
	}
	// a webhook may have resolved it first; the loser is stamped and the stored status is the answer
	updated, err := s.applyConfirmation(ctx, res)
	if err != nil && !internal.IsDuplicateConfirmation(err) {
		return nil, s.manualReconciliation(txn.ProcessID, result.ProcessID, err)
	}

	s.metrics.RecordCharge(txn.PaymentMethod, updated.PaymentStatus)
	if updated.PaymentStatus != transactionDatamodel.PaymentApproved {
		return nil, internal.NewGatewayRejectionError("payment was declined", ChargeResponse{
			ProcessID:     updated.ProcessID,
			PaymentStatus: updated.PaymentStatus,
		})
	}
	return &ChargeResponse{
		Success:       true,
		ProcessID:     updated.ProcessID,
		PaymentStatus: updated.PaymentStatus,
	}, nil
}

// failAtGateway marks the transaction failed after a status:error answer. The caller gets a
// gateway failure, never a bank decline.
func (s *Service) failAtGateway(ctx context.Context, txn *Transaction, messages bancard.Messages) error {
	reason := messages.String()
	if reason == "" {
		reason = "gateway rejected the request"
	}
	s.logger.Warn("gateway rejected the request",
		"process_id", txn.ProcessID,
		"messages", reason)

	_, _, err := s.resolve(ctx, Resolution{
		ProcessID:     txn.ProcessID,
		Status:        transactionDatamodel.PaymentFailed,
		Source:        SourceSync,
		FailureReason: reason,
		At:            s.now(),
	})
	if err != nil {
		s.logger.Error("failed to mark transaction failed", "process_id", txn.ProcessID, "error", err)
	}
	s.metrics.RecordCharge(txn.PaymentMethod, transactionDatamodel.PaymentFailed)
	return internal.NewGatewayFailureError(reason, messages)
}

// gatewayFailure leaves the transaction pending. Its outcome is unknown until the webhook or a
// status query settles it.
func (s *Service) gatewayFailure(txn *Transaction, operation string, err error) error {
	if appErr, ok := internal.IsAppError(err); ok {
		return appErr
	}
	s.logger.Warn("gateway call failed, transaction left pending",
		"operation", operation,
		"process_id", txn.ProcessID,
		"error", err)
	s.metrics.RecordCharge(txn.PaymentMethod, "transient")
	return internal.NewGatewayTransientError("payment gateway did not answer, status will be reconciled", err)
}

func (s *Service) manualReconciliation(processID int64, gatewayReference string, err error) error {
	s.logger.Error("gateway call succeeded but persisting the result failed, manual reconciliation required",
		"process_id", processID,
		"gateway_reference", gatewayReference,
		"error", err)
	return internal.NewInternalError("failed to record the payment result", err)
}

// resolve runs the guarded transition and announces it once committed.
func (s *Service) resolve(ctx context.Context, res Resolution) (*Transaction, bool, error) {
	txn, applied, err := s.repo.Resolve(ctx, res)
	if err != nil {
		return nil, false, err
	}
	if applied {
		s.logger.Info("payment resolved",
			"process_id", res.ProcessID,
			"status", res.Status,
			"source", res.Source)
		s.bus.Publish(ctx, events.NewPaymentResolvedEvent(res.ProcessID, res.Status, res.Source, txn.Currency))
		s.bus.Publish(ctx, events.NewNotificationQueuedEvent(res.ProcessID, "payment."+res.Status))
	}
	return txn, applied, nil
}

// Rollback reverses an approved payment at the gateway and records it.
func (s *Service) Rollback(ctx context.Context, processID int64, dto RollbackDTO, actorID int64) (*View, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	txn, err := s.repo.GetByProcessID(ctx, processID)
	if err != nil {
		return nil, err
	}
	if !txn.IsApproved() {
		s.metrics.RecordRollback("refused")
		return nil, internal.NewConflictError(
			fmt.Sprintf("rollback is only allowed for approved payments, current status is %s", txn.PaymentStatus),
			internal.ErrCodeRollbackNotAllowed,
		)
	}

	result, err := s.gateway.Rollback(ctx, processID)
	if err != nil {
		if appErr, ok := internal.IsAppError(err); ok {
			return nil, appErr
		}
		s.logger.Warn("gateway rollback failed", "process_id", processID, "error", err)
		s.metrics.RecordRollback("transient")
		return nil, internal.NewGatewayTransientError("payment gateway did not answer the rollback", err)
	}

	actor := actorID
	switch {
	case result.AlreadySettled:
		note := "gateway refused rollback, transaction already confirmed: " + result.Messages.String()
		if err := s.repo.AppendAudit(ctx, txn.ID, transactionDatamodel.AuditRollbackConflict, note, &actor); err != nil {
			s.logger.Error("failed to write audit entry", "process_id", processID, "error", err)
		}
		s.logger.Warn("rollback refused, payment already settled", "process_id", processID, "actor_id", actorID)
		s.metrics.RecordRollback("already_settled")
		return nil, internal.NewAlreadySettledError("payment is already settled and must be reversed manually")
	case !result.RolledBack:
		s.metrics.RecordRollback("rejected")
		return nil, internal.NewGatewayRejectionError("gateway rejected the rollback", result.Messages)
	}

	updated, applied, err := s.repo.MarkRolledBack(ctx, processID, dto.Reason, actorID, s.now())
	if err != nil {
		return nil, s.manualReconciliation(processID, "", err)
	}
	if !applied {
		return nil, internal.NewConflictError("transaction was changed concurrently", internal.ErrCodeInvalidTransition)
	}

	s.logger.Info("payment rolled back", "process_id", processID, "actor_id", actorID, "reason", dto.Reason)
	s.metrics.RecordRollback("rolled_back")
	s.bus.Publish(ctx, events.NewPaymentRolledBackEvent(processID, dto.Reason, actorID))
	s.bus.Publish(ctx, events.NewNotificationQueuedEvent(processID, "payment."+transactionDatamodel.PaymentRolledBack))

	return NewView(updated), nil
}

func (s *Service) GetByProcessID(ctx context.Context, processID int64) (*Transaction, error) {
	return s.repo.GetByProcessID(ctx, processID)
}

// Get returns the transaction with its audit trail.
func (s *Service) Get(ctx context.Context, processID int64) (*View, error) {
	txn, err := s.repo.GetByProcessID(ctx, processID)
	if err != nil {
		return nil, err
	}
	view := NewView(txn)

	audit, err := s.repo.ListAudit(ctx, txn.ID)
	if err != nil {
		s.logger.Error("failed to load audit trail", "process_id", processID, "error", err)
		return nil, internal.NewInternalError("failed to load transaction", err)
	}
	for _, a := range audit {
		view.Audit = append(view.Audit, AuditView{
			Kind:      a.Kind,
			Note:      a.Note,
			Actor:     a.Actor,
			CreatedAt: a.CreatedAt,
		})
	}
	return view, nil
}

// GetForCustomer returns the transaction to its creator, or to anyone allowed to view all.
func (s *Service) GetForCustomer(ctx context.Context, processID, actorID int64, viewAll bool) (*View, error) {
	txn, err := s.repo.GetByProcessID(ctx, processID)
	if err != nil {
		return nil, err
	}
	if !viewAll && (txn.CreatedBy == nil || *txn.CreatedBy != actorID) {
		// do not reveal other customers' process ids
		return nil, internal.ErrTransactionNotFound
	}
	return NewView(txn), nil
}

func (s *Service) List(ctx context.Context, filter ListFilter) (*ListResponse, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list transactions", "error", err)
		return nil, internal.NewInternalError("failed to list transactions", err)
	}

	out := &ListResponse{
		Transactions: make([]*View, 0, len(rows)),
		Total:        total,
		Limit:        filter.Limit,
		Offset:       filter.Offset,
	}
	for _, t := range rows {
		out.Transactions = append(out.Transactions, NewView(t))
	}
	return out, nil
}
