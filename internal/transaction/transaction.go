package transaction

import (
	"context"
	"encoding/json"
	"time"

	"github.com/frahmantamala/zenn-checkout/internal/bancard"
	transactionDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/transaction"
)

type (
	Transaction     = transactionDatamodel.Transaction
	TimelineEntry   = transactionDatamodel.TimelineEntry
	DeliveryAttempt = transactionDatamodel.DeliveryAttempt
	AuditEntry      = transactionDatamodel.AuditEntry
	Customer        = transactionDatamodel.Customer
)

// Resolution sources, also used as a metric label.
const (
	SourceSync    = "sync"
	SourceWebhook = "webhook"
	SourceQuery   = "query"
)

// Resolution moves a pending transaction to a final payment status. Empty gateway fields are
// left untouched.
type Resolution struct {
	ProcessID           int64
	Status              string
	Source              string
	GatewayReference    string
	ResponseFlag        string
	ResponseCode        string
	ResponseText        string
	ExtendedText        string
	AuthorizationNumber string
	TicketNumber        string
	SecurityInformation []byte
	FailureReason       string
	ConfirmedByWebhook  bool
	At                  time.Time
}

func resolutionFromOperation(processID int64, status, source string, op bancard.Operation, at time.Time) Resolution {
	res := Resolution{
		ProcessID:           processID,
		Status:              status,
		Source:              source,
		GatewayReference:    op.ProcessID.String(),
		ResponseFlag:        op.Response,
		ResponseCode:        op.ResponseCode.String(),
		ResponseText:        op.ResponseDescription,
		ExtendedText:        op.ExtendedResponseDescription,
		AuthorizationNumber: op.AuthorizationNumber.String(),
		TicketNumber:        op.TicketNumber.String(),
		ConfirmedByWebhook:  source == SourceWebhook,
		At:                  at,
	}
	if op.SecurityInformation != nil {
		if raw, err := json.Marshal(op.SecurityInformation); err == nil {
			res.SecurityInformation = raw
		}
	}
	return res
}

type ListFilter struct {
	PaymentStatus  string
	DeliveryStatus string
	Limit          int
	Offset         int
}

// Repository persists transactions. Every status change is a conditional update; the bool
// results report whether this caller won the transition.
type Repository interface {
	Create(ctx context.Context, txn *Transaction) error
	GetByProcessID(ctx context.Context, processID int64) (*Transaction, error)
	SetGatewayReference(ctx context.Context, processID int64, reference string) error
	Resolve(ctx context.Context, res Resolution) (*Transaction, bool, error)
	Stamp(ctx context.Context, res Resolution, auditKind, note string) error
	AppendAudit(ctx context.Context, transactionID int64, kind, note string, actor *int64) error
	MarkRolledBack(ctx context.Context, processID int64, reason string, actorID int64, at time.Time) (*Transaction, bool, error)
	List(ctx context.Context, filter ListFilter) ([]*Transaction, int64, error)
	ListAudit(ctx context.Context, transactionID int64) ([]*AuditEntry, error)
}

// Gateway is the part of the vPOS client the lifecycle needs.
type Gateway interface {
	Config() bancard.Config
	SingleBuy(ctx context.Context, req bancard.SingleBuyRequest) (*bancard.SingleBuyResult, error)
	Charge(ctx context.Context, req bancard.ChargeRequest) (*bancard.ChargeResult, error)
	Rollback(ctx context.Context, processID int64) (*bancard.RollbackResult, error)
	GetConfirmation(ctx context.Context, processID int64) (*bancard.ConfirmationResult, error)
}

// outcomesAgree reports whether a reported final status is consistent with what is stored.
// A rolled back transaction was approved first, so an approval still agrees with it.
func outcomesAgree(stored, reported string) bool {
	switch stored {
	case transactionDatamodel.PaymentApproved, transactionDatamodel.PaymentRolledBack:
		return reported == transactionDatamodel.PaymentApproved
	case transactionDatamodel.PaymentRejected, transactionDatamodel.PaymentFailed:
		return reported == transactionDatamodel.PaymentRejected
	default:
		return false
	}
}

func decisionStatus(d bancard.Decision) (string, bool) {
	switch d {
	case bancard.DecisionApproved:
		return transactionDatamodel.PaymentApproved, true
	case bancard.DecisionRejected:
		return transactionDatamodel.PaymentRejected, true
	default:
		return "", false
	}
}
