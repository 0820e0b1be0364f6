package transaction

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	errors "github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/bancard"
	"github.com/frahmantamala/zenn-checkout/internal/core/common/validation"
	transactionDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/transaction"
)

const (
	CurrencyPYG = "PYG"
	CurrencyUSD = "USD"

	gatewayDescriptionLimit = 20
)

var promotionCodePattern = regexp.MustCompile(`^\d{3}[A-Z]{2}\s[A-Z]{3}\d{6}$`)

type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CreateChargeDTO struct {
	ProcessID     *int64          `json:"process_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
	PaymentMethod string          `json:"payment_method"`
	AliasToken    string          `json:"alias_token,omitempty"`
	PromotionCode string          `json:"promotion_code,omitempty"`
	Customer      Customer        `json:"customer"`
	Items         []Item          `json:"items"`
}

func (dto *CreateChargeDTO) Validate() error {
	if dto.Currency == "" {
		dto.Currency = CurrencyPYG
	}
	dto.Currency = strings.ToUpper(strings.TrimSpace(dto.Currency))
	if dto.PaymentMethod == "" {
		dto.PaymentMethod = transactionDatamodel.MethodNewCard
	}

	v := validation.NewValidator()
	v.Field("amount", dto.Amount).PositiveAmount()
	v.Field("currency", dto.Currency).Required().OneOf(errors.ErrCodeInvalidCurrency, CurrencyPYG, CurrencyUSD)
	v.Field("payment_method", dto.PaymentMethod).OneOf(errors.ErrCodeValidationFailed, transactionDatamodel.MethodNewCard, transactionDatamodel.MethodSavedCard)
	v.Field("customer.name", dto.Customer.Name).Required().MaxLength(200)
	v.Field("customer.email", dto.Customer.Email).Required().Email()
	if dto.PaymentMethod == transactionDatamodel.MethodNewCard {
		v.Field("description", dto.Description).Required().MaxLength(500)
	} else {
		v.Field("alias_token", dto.AliasToken).Required()
	}
	if dto.ProcessID != nil {
		v.Field("process_id", *dto.ProcessID).MinInt(1, errors.ErrCodeValidationFailed)
	}
	for _, item := range dto.Items {
		v.Field("items.quantity", item.Quantity).IntRange(1, 10000, errors.ErrCodeValidationFailed)
	}

	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

// promotionCode returns the code only when it matches the card-issuer promotion format.
// Malformed codes are dropped rather than rejected.
func (dto *CreateChargeDTO) promotionCode() string {
	code := strings.TrimSpace(dto.PromotionCode)
	if promotionCodePattern.MatchString(code) {
		return code
	}
	return ""
}

func gatewayDescription(description string) string {
	runes := []rune(strings.TrimSpace(description))
	if len(runes) > gatewayDescriptionLimit {
		runes = runes[:gatewayDescriptionLimit]
	}
	return string(runes)
}

const (
	RequiresActionIframe   = "iframe"
	RequiresActionRedirect = "redirect"
)

type RequiresAction struct {
	Type             string `json:"type"`
	GatewayProcessID string `json:"gateway_process_id"`
	ScriptURL        string `json:"script_url,omitempty"`
	RedirectURL      string `json:"redirect_url,omitempty"`
}

type ChargeResponse struct {
	Success        bool            `json:"success"`
	ProcessID      int64           `json:"process_id"`
	PaymentStatus  string          `json:"payment_status"`
	RequiresAction *RequiresAction `json:"requires_action,omitempty"`
}

type RollbackDTO struct {
	Reason string `json:"reason"`
}

func (dto RollbackDTO) Validate() error {
	v := validation.NewValidator()
	v.Field("reason", dto.Reason).Required().MaxLength(500)
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

// ConfirmationDTO is the confirmation payload the gateway posts after a checkout. All values
// stay strings as received; the decision is derived from Response and ResponseCode.
type ConfirmationDTO struct {
	Token                       string          `json:"token"`
	ShopProcessID               string          `json:"shop_process_id"`
	GatewayProcessID            string          `json:"process_id"`
	Response                    string          `json:"response"`
	ResponseDetails             string          `json:"response_details"`
	Amount                      string          `json:"amount"`
	Currency                    string          `json:"currency"`
	AuthorizationNumber         string          `json:"authorization_number"`
	TicketNumber                string          `json:"ticket_number"`
	ResponseCode                string          `json:"response_code"`
	ResponseDescription         string          `json:"response_description"`
	ExtendedResponseDescription string          `json:"extended_response_description"`
	SecurityInformation         json.RawMessage `json:"security_information,omitempty"`
}

// ParseConfirmation reads the {"operation":{...}} body and falls back to query parameters for
// every field the body does not carry.
func ParseConfirmation(body []byte, query url.Values) (ConfirmationDTO, error) {
	var payload struct {
		Operation *bancard.Operation `json:"operation"`
	}
	var decodeErr error
	if len(strings.TrimSpace(string(body))) > 0 {
		decodeErr = json.Unmarshal(body, &payload)
	}

	op := bancard.Operation{}
	if payload.Operation != nil {
		op = *payload.Operation
	}

	pick := func(v, key string) string {
		if v != "" {
			return v
		}
		return query.Get(key)
	}

	dto := ConfirmationDTO{
		Token:                       pick(op.Token, "token"),
		ShopProcessID:               pick(op.ShopProcessID.String(), "shop_process_id"),
		GatewayProcessID:            pick(op.ProcessID.String(), "process_id"),
		Response:                    pick(op.Response, "response"),
		ResponseDetails:             pick(op.ResponseDetails, "response_details"),
		Amount:                      pick(op.Amount.String(), "amount"),
		Currency:                    pick(op.Currency, "currency"),
		AuthorizationNumber:         pick(op.AuthorizationNumber.String(), "authorization_number"),
		TicketNumber:                pick(op.TicketNumber.String(), "ticket_number"),
		ResponseCode:                pick(op.ResponseCode.String(), "response_code"),
		ResponseDescription:         pick(op.ResponseDescription, "response_description"),
		ExtendedResponseDescription: pick(op.ExtendedResponseDescription, "extended_response_description"),
	}
	if op.SecurityInformation != nil {
		if raw, err := json.Marshal(op.SecurityInformation); err == nil {
			dto.SecurityInformation = raw
		}
	}
	if dto.ShopProcessID == "" && decodeErr != nil {
		return dto, decodeErr
	}
	return dto, nil
}

func (dto ConfirmationDTO) operation() bancard.Operation {
	op := bancard.Operation{
		Token:                       dto.Token,
		ShopProcessID:               bancard.FlexString(dto.ShopProcessID),
		ProcessID:                   bancard.FlexString(dto.GatewayProcessID),
		Response:                    dto.Response,
		ResponseDetails:             dto.ResponseDetails,
		Amount:                      bancard.FlexString(dto.Amount),
		Currency:                    dto.Currency,
		AuthorizationNumber:         bancard.FlexString(dto.AuthorizationNumber),
		TicketNumber:                bancard.FlexString(dto.TicketNumber),
		ResponseCode:                bancard.FlexString(dto.ResponseCode),
		ResponseDescription:         dto.ResponseDescription,
		ExtendedResponseDescription: dto.ExtendedResponseDescription,
	}
	if len(dto.SecurityInformation) > 0 {
		var si bancard.SecurityInformation
		if err := json.Unmarshal(dto.SecurityInformation, &si); err == nil {
			op.SecurityInformation = &si
		}
	}
	return op
}

type QueryResult struct {
	ProcessID     int64            `json:"process_id"`
	Found         bool             `json:"found"`
	Decision      bancard.Decision `json:"decision,omitempty"`
	PaymentStatus string           `json:"payment_status"`
	Applied       bool             `json:"applied"`
	Messages      string           `json:"messages,omitempty"`
}

type TimelineView struct {
	Status    string    `json:"status"`
	Actor     *int64    `json:"actor,omitempty"`
	Note      string    `json:"note,omitempty"`
	Automatic bool      `json:"automatic"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditView struct {
	Kind      string    `json:"kind"`
	Note      string    `json:"note"`
	Actor     *int64    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// View is the API shape of a transaction. The alias token never leaves the service.
type View struct {
	ProcessID            int64           `json:"process_id"`
	GatewayReference     *string         `json:"gateway_reference,omitempty"`
	Amount               string          `json:"amount"`
	Currency             string          `json:"currency"`
	Description          string          `json:"description"`
	PaymentMethod        string          `json:"payment_method"`
	PaymentStatus        string          `json:"payment_status"`
	ResponseCode         *string         `json:"response_code,omitempty"`
	ResponseDescription  *string         `json:"response_description,omitempty"`
	AuthorizationNumber  *string         `json:"authorization_number,omitempty"`
	TicketNumber         *string         `json:"ticket_number,omitempty"`
	ConfirmedByWebhook   bool            `json:"confirmed_by_webhook"`
	IsRolledBack         bool            `json:"is_rolled_back"`
	RollbackReason       *string         `json:"rollback_reason,omitempty"`
	FailureReason        *string         `json:"failure_reason,omitempty"`
	DeliveryStatus       *string         `json:"delivery_status,omitempty"`
	TrackingNumber       *string         `json:"tracking_number,omitempty"`
	CourierCompany       *string         `json:"courier_company,omitempty"`
	ActualDeliveryDate   *time.Time      `json:"actual_delivery_date,omitempty"`
	Rating               *int            `json:"rating,omitempty"`
	Customer             json.RawMessage `json:"customer,omitempty"`
	Items                json.RawMessage `json:"items,omitempty"`
	CreatedBy            *int64          `json:"created_by,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	ConfirmationDate     *time.Time      `json:"confirmation_date,omitempty"`
	DeliveryAttemptCount int             `json:"delivery_attempt_count"`
	Timeline             []TimelineView  `json:"timeline,omitempty"`
	Audit                []AuditView     `json:"audit,omitempty"`
}

func NewView(t *Transaction) *View {
	v := &View{
		ProcessID:            t.ProcessID,
		GatewayReference:     t.GatewayReference,
		Amount:               t.Amount.StringFixed(2),
		Currency:             t.Currency,
		Description:          t.Description,
		PaymentMethod:        t.PaymentMethod,
		PaymentStatus:        t.PaymentStatus,
		ResponseCode:         t.GatewayResponseCode,
		ResponseDescription:  t.GatewayResponseText,
		AuthorizationNumber:  t.AuthorizationNumber,
		TicketNumber:         t.TicketNumber,
		ConfirmedByWebhook:   t.ConfirmedByWebhook,
		IsRolledBack:         t.IsRolledBack,
		RollbackReason:       t.RollbackReason,
		FailureReason:        t.FailureReason,
		DeliveryStatus:       t.DeliveryStatus,
		TrackingNumber:       t.TrackingNumber,
		CourierCompany:       t.CourierCompany,
		ActualDeliveryDate:   t.ActualDeliveryDate,
		Rating:               t.Rating,
		CreatedBy:            t.CreatedBy,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
		ConfirmationDate:     t.ConfirmationDate,
		DeliveryAttemptCount: t.DeliveryAttemptCount,
	}
	if len(t.CustomerSnapshot) > 0 {
		v.Customer = json.RawMessage(t.CustomerSnapshot)
	}
	if len(t.Items) > 0 {
		v.Items = json.RawMessage(t.Items)
	}
	for _, e := range t.Timeline {
		v.Timeline = append(v.Timeline, TimelineView{
			Status:    e.Status,
			Actor:     e.Actor,
			Note:      e.Note,
			Automatic: e.Automatic,
			CreatedAt: e.CreatedAt,
		})
	}
	return v
}

type ListResponse struct {
	Transactions []*View `json:"transactions"`
	Total        int64   `json:"total"`
	Limit        int     `json:"limit"`
	Offset       int     `json:"offset"`
}
