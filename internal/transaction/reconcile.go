package transaction

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/frahmantamala/zenn-checkout/internal"
	transactionDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/transaction"
	"github.com/frahmantamala/zenn-checkout/internal/core/events"
)

// Reconcile applies a confirmation posted by the gateway. A confirmation for a transaction
// that is no longer pending only stamps it and returns internal.ErrDuplicateConfirmation.
func (s *Service) Reconcile(ctx context.Context, dto ConfirmationDTO) error {
	processID, err := strconv.ParseInt(strings.TrimSpace(dto.ShopProcessID), 10, 64)
	if err != nil || processID <= 0 {
		return internal.NewValidationFieldError("shop_process_id", "shop_process_id must be a positive integer", internal.ErrCodeValidationFailed)
	}

	txn, err := s.repo.GetByProcessID(ctx, processID)
	if err != nil {
		if internal.IsErrorType(err, internal.ErrorTypeNotFound) {
			s.logger.Warn("confirmation for unknown transaction", "process_id", processID)
		}
		return err
	}

	if dto.Token != "" && s.verifier != nil &&
		!s.verifier.VerifyConfirmation(dto.Token, processID, txn.Amount, txn.Currency) {
		s.logger.Warn("confirmation token does not match stored amount",
			"process_id", processID,
			"amount", dto.Amount,
			"stored_amount", txn.Amount.StringFixed(2),
			"currency", txn.Currency)
		s.audit(ctx, txn.ID, transactionDatamodel.AuditTokenMismatch,
			fmt.Sprintf("confirmation token mismatch, reported amount %s %s", dto.Amount, dto.Currency))
	}

	op := dto.operation()
	status, conclusive := decisionStatus(op.Decision())
	if !conclusive {
		s.logger.Info("inconclusive confirmation, transaction left as is",
			"process_id", processID,
			"response", dto.Response,
			"response_code", dto.ResponseCode)
		s.audit(ctx, txn.ID, transactionDatamodel.AuditInconclusive,
			fmt.Sprintf("webhook response=%q response_code=%q", dto.Response, dto.ResponseCode))
		return nil
	}

	res := resolutionFromOperation(processID, status, SourceWebhook, op, s.now())
	if status == transactionDatamodel.PaymentRejected {
		res.FailureReason = firstNonEmpty(dto.ResponseDescription, dto.ResponseDetails)
	}
	_, err = s.applyConfirmation(ctx, res)
	return err
}

// QueryConfirmation asks the gateway for the outcome of a transaction and applies a
// conclusive answer through the same guarded transition as the webhook.
func (s *Service) QueryConfirmation(ctx context.Context, processID int64) (*QueryResult, error) {
	txn, err := s.repo.GetByProcessID(ctx, processID)
	if err != nil {
		return nil, err
	}

	result, err := s.gateway.GetConfirmation(ctx, processID)
	if err != nil {
		if appErr, ok := internal.IsAppError(err); ok {
			return nil, appErr
		}
		s.logger.Warn("gateway status query failed", "process_id", processID, "error", err)
		return nil, internal.NewGatewayTransientError("payment gateway did not answer the status query", err)
	}

	out := &QueryResult{
		ProcessID:     processID,
		Found:         result.Found,
		PaymentStatus: txn.PaymentStatus,
		Messages:      result.Messages.String(),
	}
	if !result.Found {
		return out, nil
	}
	out.Decision = result.Decision

	status, conclusive := decisionStatus(result.Decision)
	if !conclusive {
		s.audit(ctx, txn.ID, transactionDatamodel.AuditInconclusive,
			fmt.Sprintf("status query response=%q response_code=%q", result.Operation.Response, result.Operation.ResponseCode))
		return out, nil
	}

	res := resolutionFromOperation(processID, status, SourceQuery, result.Operation, s.now())
	if status == transactionDatamodel.PaymentRejected {
		res.FailureReason = result.Operation.ResponseDescription
	}
	updated, err := s.applyConfirmation(ctx, res)
	switch {
	case err == nil:
		out.Applied = true
	case errors.Is(err, internal.ErrDuplicateConfirmation):
	default:
		return nil, err
	}
	if updated != nil {
		out.PaymentStatus = updated.PaymentStatus
	}
	return out, nil
}

// applyConfirmation resolves a pending transaction, or stamps a resolved one. A confirmation
// that contradicts the stored outcome never changes it; it is kept for manual review.
func (s *Service) applyConfirmation(ctx context.Context, res Resolution) (*Transaction, error) {
	txn, applied, err := s.resolve(ctx, res)
	if err != nil {
		s.logger.Error("failed to apply confirmation",
			"process_id", res.ProcessID,
			"source", res.Source,
			"error", err)
		return nil, err
	}
	if applied {
		return txn, nil
	}

	if outcomesAgree(txn.PaymentStatus, res.Status) {
		note := fmt.Sprintf("%s confirmation repeated outcome %s", res.Source, res.Status)
		if err := s.repo.Stamp(ctx, res, transactionDatamodel.AuditDuplicateConfirmation, note); err != nil {
			s.logger.Error("failed to stamp duplicate confirmation", "process_id", res.ProcessID, "error", err)
			return nil, err
		}
		s.logger.Info("duplicate confirmation ignored",
			"process_id", res.ProcessID,
			"status", txn.PaymentStatus,
			"source", res.Source)
		s.metrics.RecordDuplicateConfirmation()
		return txn, internal.ErrDuplicateConfirmation
	}

	note := fmt.Sprintf("%s confirmation reported %s but transaction is %s", res.Source, res.Status, txn.PaymentStatus)
	if err := s.repo.Stamp(ctx, res, transactionDatamodel.AuditOutcomeDisagreement, note); err != nil {
		s.logger.Error("failed to stamp disagreeing confirmation", "process_id", res.ProcessID, "error", err)
		return nil, err
	}
	s.logger.Error("confirmation disagrees with stored outcome, manual review required",
		"process_id", res.ProcessID,
		"stored_status", txn.PaymentStatus,
		"reported_status", res.Status,
		"source", res.Source,
		"response_code", res.ResponseCode,
		"authorization_number", res.AuthorizationNumber)
	s.bus.Publish(ctx, events.NewOutcomeDisagreementEvent(res.ProcessID, txn.PaymentStatus, res.Status, res.Source))
	return txn, internal.ErrDuplicateConfirmation
}

func (s *Service) audit(ctx context.Context, transactionID int64, kind, note string) {
	if err := s.repo.AppendAudit(ctx, transactionID, kind, note, nil); err != nil {
		s.logger.Error("failed to write audit entry", "transaction_id", transactionID, "kind", kind, "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
