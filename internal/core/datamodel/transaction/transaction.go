package transaction

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	PaymentPending    = "pending"
	PaymentApproved   = "approved"
	PaymentRejected   = "rejected"
	PaymentRolledBack = "rolled_back"
	PaymentFailed     = "failed"
)

const (
	DeliveryPaymentConfirmed = "payment_confirmed"
	DeliveryPreparingOrder   = "preparing_order"
	DeliveryInTransit        = "in_transit"
	DeliveryDelivered        = "delivered"
	DeliveryProblem          = "problem"
)

const (
	MethodNewCard   = "new_card"
	MethodSavedCard = "saved_card"
)

// Transaction is one purchase attempt. process_id is the key shared by the charge response,
// the confirmation webhook and admin actions.
type Transaction struct {
	ID                   int64             `gorm:"primaryKey"`
	ProcessID            int64             `gorm:"column:process_id;not null;uniqueIndex"`
	GatewayReference     *string           `gorm:"column:gateway_reference"`
	Amount               decimal.Decimal   `gorm:"column:amount;type:numeric(15,2);not null"`
	Currency             string            `gorm:"column:currency;not null"`
	PaymentStatus        string            `gorm:"column:payment_status;not null;index"`
	GatewayResponseFlag  *string           `gorm:"column:gateway_response_flag"`
	GatewayResponseCode  *string           `gorm:"column:gateway_response_code"`
	GatewayResponseText  *string           `gorm:"column:gateway_response_text"`
	ExtendedResponseText *string           `gorm:"column:extended_response_text"`
	AuthorizationNumber  *string           `gorm:"column:authorization_number"`
	TicketNumber         *string           `gorm:"column:ticket_number"`
	ConfirmedByWebhook   bool              `gorm:"column:confirmed_by_webhook;not null"`
	IsRolledBack         bool              `gorm:"column:is_rolled_back;not null"`
	DeliveryStatus       *string           `gorm:"column:delivery_status;index"`
	CustomerSnapshot     datatypes.JSON    `gorm:"column:customer_snapshot"`
	Items                datatypes.JSON    `gorm:"column:items"`
	Description          string            `gorm:"column:description"`
	PaymentMethod        string            `gorm:"column:payment_method;not null"`
	AliasToken           *string           `gorm:"column:alias_token"`
	IsTokenPayment       bool              `gorm:"column:is_token_payment;not null"`
	PromotionCode        *string           `gorm:"column:promotion_code"`
	Environment          string            `gorm:"column:environment"`
	CreatedBy            *int64            `gorm:"column:created_by"`
	SecurityInformation  datatypes.JSON    `gorm:"column:security_information"`
	ConfirmationDate     *time.Time        `gorm:"column:confirmation_date"`
	RollbackDate         *time.Time        `gorm:"column:rollback_date"`
	RollbackReason       *string           `gorm:"column:rollback_reason"`
	RolledBackBy         *int64            `gorm:"column:rolled_back_by"`
	FailureReason        *string           `gorm:"column:failure_reason"`
	TrackingNumber       *string           `gorm:"column:tracking_number"`
	CourierCompany       *string           `gorm:"column:courier_company"`
	DeliveryNotes        *string           `gorm:"column:delivery_notes"`
	DeliveryUpdatedAt    *time.Time        `gorm:"column:delivery_updated_at"`
	DeliveryUpdatedBy    *int64            `gorm:"column:delivery_updated_by"`
	ActualDeliveryDate   *time.Time        `gorm:"column:actual_delivery_date"`
	DeliveryAttemptCount int               `gorm:"column:delivery_attempt_count;not null;default:0"`
	Rating               *int              `gorm:"column:rating"`
	RatingFeedback       *string           `gorm:"column:rating_feedback"`
	RatedAt              *time.Time        `gorm:"column:rated_at"`
	CreatedAt            time.Time         `gorm:"column:created_at"`
	UpdatedAt            time.Time         `gorm:"column:updated_at"`
	Timeline             []TimelineEntry   `gorm:"foreignKey:TransactionID"`
	Attempts             []DeliveryAttempt `gorm:"foreignKey:TransactionID"`
}

func (Transaction) TableName() string { return "transactions" }

func (t *Transaction) IsApproved() bool {
	return t.PaymentStatus == PaymentApproved && !t.IsRolledBack
}

func (t *Transaction) CurrentDeliveryStatus() string {
	if t.DeliveryStatus == nil {
		return ""
	}
	return *t.DeliveryStatus
}

// Customer is the denormalized buyer copy stored in customer_snapshot.
type Customer struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone,omitempty"`
	Address        string `json:"address,omitempty"`
	DocumentNumber string `json:"document_number,omitempty"`
}

func (t *Transaction) Customer() Customer {
	var c Customer
	if len(t.CustomerSnapshot) > 0 {
		_ = json.Unmarshal(t.CustomerSnapshot, &c)
	}
	return c
}

// NotificationSnapshot is the payload handed to notifiers. It never carries the alias token.
func (t *Transaction) NotificationSnapshot() map[string]interface{} {
	snap := map[string]interface{}{
		"process_id":     t.ProcessID,
		"amount":         t.Amount.StringFixed(2),
		"currency":       t.Currency,
		"payment_status": t.PaymentStatus,
		"description":    t.Description,
		"customer":       json.RawMessage(nonEmptyJSON(t.CustomerSnapshot)),
		"items":          json.RawMessage(nonEmptyJSON(t.Items)),
	}
	if t.DeliveryStatus != nil {
		snap["delivery_status"] = *t.DeliveryStatus
	}
	if t.AuthorizationNumber != nil {
		snap["authorization_number"] = *t.AuthorizationNumber
	}
	if t.TrackingNumber != nil {
		snap["tracking_number"] = *t.TrackingNumber
	}
	if t.CourierCompany != nil {
		snap["courier_company"] = *t.CourierCompany
	}
	return snap
}

func nonEmptyJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}

// TimelineEntry is one row of the append-only delivery timeline.
type TimelineEntry struct {
	ID            int64     `gorm:"primaryKey"`
	TransactionID int64     `gorm:"column:transaction_id;not null;index"`
	Status        string    `gorm:"column:status;not null"`
	Actor         *int64    `gorm:"column:actor"`
	Note          string    `gorm:"column:note"`
	Automatic     bool      `gorm:"column:automatic;not null"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (TimelineEntry) TableName() string { return "delivery_timeline" }

const (
	AttemptSuccessful           = "successful"
	AttemptFailed               = "failed"
	AttemptCustomerNotAvailable = "customer_not_available"
	AttemptAddressIssue         = "address_issue"
)

type DeliveryAttempt struct {
	ID              int64      `gorm:"primaryKey"`
	TransactionID   int64      `gorm:"column:transaction_id;not null;index"`
	Result          string     `gorm:"column:result;not null"`
	Notes           string     `gorm:"column:notes"`
	NextAttemptDate *time.Time `gorm:"column:next_attempt_date"`
	Actor           *int64     `gorm:"column:actor"`
	AttemptedAt     time.Time  `gorm:"column:attempted_at"`
}

func (DeliveryAttempt) TableName() string { return "delivery_attempts" }

const (
	AuditDuplicateConfirmation = "duplicate_confirmation"
	AuditOutcomeDisagreement   = "outcome_disagreement"
	AuditInconclusive          = "inconclusive_confirmation"
	AuditTokenMismatch         = "token_mismatch"
	AuditRollbackConflict      = "rollback_conflict"
	AuditManualReconciliation  = "manual_reconciliation"
)

// AuditEntry records reconciliation events that must not change state.
type AuditEntry struct {
	ID            int64     `gorm:"primaryKey"`
	TransactionID int64     `gorm:"column:transaction_id;not null;index"`
	Kind          string    `gorm:"column:kind;not null"`
	Note          string    `gorm:"column:note"`
	Actor         *int64    `gorm:"column:actor"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (AuditEntry) TableName() string { return "transaction_audit" }
