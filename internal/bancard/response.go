package bancard

import (
	"bytes"
	"encoding/json"
	"strings"
)

type Decision string

const (
	DecisionApproved       Decision = "approved"
	DecisionRejected       Decision = "rejected"
	DecisionRequiresAction Decision = "requires_action"
)

const (
	responseApproved     = "S"
	responseRejected     = "N"
	responseCodeApproved = "00"

	statusSuccess = "success"
	statusError   = "error"

	MessageKeyAlreadyConfirmed = "TransactionAlreadyConfirmed"
)

// Decide is the single approval rule used by the charge response, the confirmation webhook
// and the status query. Only flag S together with code 00 approves. An explicit N rejects.
// Everything else, including an authorization number without a flag, is inconclusive.
func Decide(flag, code string) Decision {
	flag = strings.ToUpper(strings.TrimSpace(flag))
	code = strings.TrimSpace(code)
	switch {
	case flag == responseApproved && code == responseCodeApproved:
		return DecisionApproved
	case flag == responseRejected:
		return DecisionRejected
	default:
		return DecisionRequiresAction
	}
}

// FlexString accepts both JSON strings and numbers. The gateway is not consistent about
// quoting ids and amounts.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

type Message struct {
	Key   string `json:"key"`
	Level string `json:"level"`
	Dsc   string `json:"dsc"`
}

type Messages []Message

func (m Messages) Has(key string) bool {
	for _, msg := range m {
		if msg.Key == key {
			return true
		}
	}
	return false
}

func (m Messages) String() string {
	parts := make([]string, 0, len(m))
	for _, msg := range m {
		if msg.Dsc != "" {
			parts = append(parts, msg.Key+": "+msg.Dsc)
		} else {
			parts = append(parts, msg.Key)
		}
	}
	return strings.Join(parts, "; ")
}

type SecurityInformation struct {
	CustomerIP  string     `json:"customer_ip,omitempty"`
	CardSource  string     `json:"card_source,omitempty"`
	CardCountry string     `json:"card_country,omitempty"`
	Version     FlexString `json:"version,omitempty"`
	RiskIndex   FlexString `json:"risk_index,omitempty"`
}

// Operation is the result block shared by charge responses, confirmation webhooks and
// status queries.
type Operation struct {
	Token                       string               `json:"token,omitempty"`
	ShopProcessID               FlexString           `json:"shop_process_id,omitempty"`
	ProcessID                   FlexString           `json:"process_id,omitempty"`
	Response                    string               `json:"response,omitempty"`
	ResponseDetails             string               `json:"response_details,omitempty"`
	Amount                      FlexString           `json:"amount,omitempty"`
	Currency                    string               `json:"currency,omitempty"`
	AuthorizationNumber         FlexString           `json:"authorization_number,omitempty"`
	TicketNumber                FlexString           `json:"ticket_number,omitempty"`
	ResponseCode                FlexString           `json:"response_code,omitempty"`
	ResponseDescription         string               `json:"response_description,omitempty"`
	ExtendedResponseDescription string               `json:"extended_response_description,omitempty"`
	SecurityInformation         *SecurityInformation `json:"security_information,omitempty"`
}

func (o Operation) Decision() Decision {
	return Decide(o.Response, o.ResponseCode.String())
}

// SingleBuyResult answers a new card charge. An accepted request only means the checkout
// iframe can be opened; the outcome arrives through the confirmation webhook.
type SingleBuyResult struct {
	Accepted  bool
	ProcessID string
	Messages  Messages
}

type ChargeResult struct {
	Accepted    bool
	Decision    Decision
	Operation   Operation
	ProcessID   string
	RedirectURL string
	Messages    Messages
}

type RollbackResult struct {
	RolledBack     bool
	AlreadySettled bool
	Messages       Messages
}

type ConfirmationResult struct {
	Found     bool
	Decision  Decision
	Operation Operation
	Messages  Messages
}

type CardEnrollmentResult struct {
	Accepted  bool
	ProcessID string
	IframeURL string
	Messages  Messages
}

type Card struct {
	CardID           FlexString `json:"card_id"`
	CardMaskedNumber string     `json:"card_masked_number"`
	ExpirationDate   string     `json:"expiration_date"`
	CardBrand        string     `json:"card_brand"`
	AliasToken       string     `json:"alias_token"`
	CardType         string     `json:"card_type"`
}

type CardListResult struct {
	Cards    []Card
	Messages Messages
}

type CardDeleteResult struct {
	Deleted  bool
	Messages Messages
}

type envelope struct {
	Status       string     `json:"status"`
	ProcessID    FlexString `json:"process_id"`
	Messages     Messages   `json:"messages"`
	Operation    *Operation `json:"operation"`
	Confirmation *Operation `json:"confirmation"`
	Cards        []Card     `json:"cards"`
}

func parseEnvelope(body []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, err
	}
	return env, nil
}

func (e envelope) success() bool {
	return strings.EqualFold(e.Status, statusSuccess)
}

func parseSingleBuy(body []byte) (*SingleBuyResult, error) {
	env, err := parseEnvelope(body)
	if err != nil {
		return nil, err
	}
	return &SingleBuyResult{
		Accepted:  env.success() && env.ProcessID != "",
		ProcessID: env.ProcessID.String(),
		Messages:  env.Messages,
	}, nil
}

// parseCharge classifies a token charge. A gateway process id without a response flag means
// the issuer asked for 3DS and the customer has to be redirected.
func parseCharge(body []byte, cfg Config) (*ChargeResult, error) {
	env, err := parseEnvelope(body)
	if err != nil {
		return nil, err
	}

	result := &ChargeResult{
		Accepted: env.success(),
		Messages: env.Messages,
		Decision: DecisionRequiresAction,
	}
	if !result.Accepted {
		return result, nil
	}

	op := env.Operation
	if op == nil {
		op = env.Confirmation
	}
	if op != nil {
		result.Operation = *op
		result.ProcessID = op.ProcessID.String()
	}
	if result.ProcessID == "" {
		result.ProcessID = env.ProcessID.String()
	}

	if op != nil && op.Response != "" {
		result.Decision = op.Decision()
	}
	if result.Decision == DecisionRequiresAction && result.ProcessID != "" {
		result.RedirectURL = cfg.CheckoutURL(result.ProcessID)
	}
	return result, nil
}

func parseRollback(body []byte) (*RollbackResult, error) {
	env, err := parseEnvelope(body)
	if err != nil {
		return nil, err
	}
	return &RollbackResult{
		RolledBack:     env.success(),
		AlreadySettled: env.Messages.Has(MessageKeyAlreadyConfirmed),
		Messages:       env.Messages,
	}, nil
}

func parseConfirmation(body []byte) (*ConfirmationResult, error) {
	env, err := parseEnvelope(body)
	if err != nil {
		return nil, err
	}
	result := &ConfirmationResult{Messages: env.Messages, Decision: DecisionRequiresAction}
	op := env.Confirmation
	if op == nil {
		op = env.Operation
	}
	if env.success() && op != nil {
		result.Found = true
		result.Operation = *op
		result.Decision = op.Decision()
	}
	return result, nil
}

func parseCardEnrollment(body []byte, cfg Config) (*CardEnrollmentResult, error) {
	env, err := parseEnvelope(body)
	if err != nil {
		return nil, err
	}
	result := &CardEnrollmentResult{
		Accepted:  env.success() && env.ProcessID != "",
		ProcessID: env.ProcessID.String(),
		Messages:  env.Messages,
	}
	if result.Accepted {
		result.IframeURL = cfg.CheckoutURL(result.ProcessID)
	}
	return result, nil
}

func parseCardList(body []byte) (*CardListResult, bool, error) {
	env, err := parseEnvelope(body)
	if err != nil {
		return nil, false, err
	}
	return &CardListResult{Cards: env.Cards, Messages: env.Messages}, env.success(), nil
}

func parseCardDelete(body []byte) (*CardDeleteResult, error) {
	env, err := parseEnvelope(body)
	if err != nil {
		return nil, err
	}
	return &CardDeleteResult{Deleted: env.success(), Messages: env.Messages}, nil
}
