package bancard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/zenn-checkout/internal/signature"
)

// TransientFailure is returned when the outcome of a call is unknown: transport error,
// timeout, a 5xx answer or a body that cannot be parsed. It must never be read as
// "not charged".
type TransientFailure struct {
	Operation  string
	StatusCode int
	Cause      error
}

func (e *TransientFailure) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("bancard %s: http %d: %v", e.Operation, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("bancard %s: %v", e.Operation, e.Cause)
}

func (e *TransientFailure) Unwrap() error { return e.Cause }

func IsTransient(err error) bool {
	var tf *TransientFailure
	return errors.As(err, &tf)
}

type SingleBuyRequest struct {
	ProcessID      int64
	Amount         decimal.Decimal
	Currency       string
	Description    string
	AdditionalData string
}

type ChargeRequest struct {
	ProcessID      int64
	Amount         decimal.Decimal
	Currency       string
	AliasToken     string
	Description    string
	AdditionalData string
}

type NewCardRequest struct {
	CardID int64
	UserID int64
	Phone  string
	Email  string
}

// Client talks to the vPOS 0.3 API. Calls have a fixed timeout and are never retried:
// the gateway does not guarantee idempotency, so a retry could charge twice.
type Client struct {
	cfg    Config
	signer *signature.Generator
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, signer *signature.Generator, logger *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		signer: signer,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

func (c *Client) Config() Config { return c.cfg }

func (c *Client) SingleBuy(ctx context.Context, req SingleBuyRequest) (*SingleBuyResult, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"public_key": c.cfg.PublicKey,
		"operation": map[string]interface{}{
			"token":           c.signer.SingleBuy(req.ProcessID, req.Amount, req.Currency),
			"shop_process_id": req.ProcessID,
			"amount":          signature.FormatAmount(req.Amount),
			"currency":        req.Currency,
			"additional_data": req.AdditionalData,
			"description":     req.Description,
			"return_url":      c.cfg.ReturnURL,
			"cancel_url":      c.cfg.CancelURL,
		},
	}

	_, body, err := c.send(ctx, "single_buy", http.MethodPost, "/single_buy", payload)
	if err != nil {
		return nil, err
	}
	result, err := parseSingleBuy(body)
	if err != nil {
		return nil, &TransientFailure{Operation: "single_buy", Cause: fmt.Errorf("decode response: %w", err)}
	}
	c.logger.Info("bancard single_buy answered",
		"shop_process_id", req.ProcessID,
		"accepted", result.Accepted,
		"process_id", result.ProcessID)
	return result, nil
}

func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"public_key": c.cfg.PublicKey,
		"operation": map[string]interface{}{
			"token":              c.signer.Charge(req.ProcessID, req.Amount, req.Currency, req.AliasToken),
			"shop_process_id":    req.ProcessID,
			"amount":             signature.FormatAmount(req.Amount),
			"currency":           req.Currency,
			"number_of_payments": 1,
			"additional_data":    req.AdditionalData,
			"description":        req.Description,
			"alias_token":        req.AliasToken,
			"return_url":         c.cfg.ReturnURL,
		},
	}

	_, body, err := c.send(ctx, "charge", http.MethodPost, "/charge", payload)
	if err != nil {
		return nil, err
	}
	result, err := parseCharge(body, c.cfg)
	if err != nil {
		return nil, &TransientFailure{Operation: "charge", Cause: fmt.Errorf("decode response: %w", err)}
	}
	c.logger.Info("bancard charge answered",
		"shop_process_id", req.ProcessID,
		"accepted", result.Accepted,
		"decision", result.Decision,
		"response_code", result.Operation.ResponseCode)
	return result, nil
}

func (c *Client) Rollback(ctx context.Context, processID int64) (*RollbackResult, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"public_key": c.cfg.PublicKey,
		"operation": map[string]interface{}{
			"token":           c.signer.Rollback(processID),
			"shop_process_id": processID,
		},
	}

	_, body, err := c.send(ctx, "rollback", http.MethodPost, "/single_buy/rollback", payload)
	if err != nil {
		return nil, err
	}
	result, err := parseRollback(body)
	if err != nil {
		return nil, &TransientFailure{Operation: "rollback", Cause: fmt.Errorf("decode response: %w", err)}
	}
	c.logger.Info("bancard rollback answered",
		"shop_process_id", processID,
		"rolled_back", result.RolledBack,
		"already_settled", result.AlreadySettled)
	return result, nil
}

func (c *Client) GetConfirmation(ctx context.Context, processID int64) (*ConfirmationResult, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"public_key": c.cfg.PublicKey,
		"operation": map[string]interface{}{
			"token":           c.signer.GetConfirmation(processID),
			"shop_process_id": processID,
		},
	}

	_, body, err := c.send(ctx, "get_confirmation", http.MethodPost, "/single_buy/confirmations", payload)
	if err != nil {
		return nil, err
	}
	result, err := parseConfirmation(body)
	if err != nil {
		return nil, &TransientFailure{Operation: "get_confirmation", Cause: fmt.Errorf("decode response: %w", err)}
	}
	return result, nil
}

func (c *Client) NewCard(ctx context.Context, req NewCardRequest) (*CardEnrollmentResult, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"public_key": c.cfg.PublicKey,
		"operation": map[string]interface{}{
			"token":           c.signer.NewCard(req.CardID, req.UserID),
			"card_id":         req.CardID,
			"user_id":         req.UserID,
			"user_cell_phone": req.Phone,
			"user_mail":       req.Email,
			"return_url":      c.cfg.CardReturnURL,
		},
	}

	_, body, err := c.send(ctx, "cards_new", http.MethodPost, "/cards/new", payload)
	if err != nil {
		return nil, err
	}
	result, err := parseCardEnrollment(body, c.cfg)
	if err != nil {
		return nil, &TransientFailure{Operation: "cards_new", Cause: fmt.Errorf("decode response: %w", err)}
	}
	return result, nil
}

func (c *Client) ListCards(ctx context.Context, userID int64) (*CardListResult, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"public_key": c.cfg.PublicKey,
		"operation": map[string]interface{}{
			"token": c.signer.UserCards(userID),
		},
	}

	_, body, err := c.send(ctx, "users_cards", http.MethodPost, "/users/"+strconv.FormatInt(userID, 10)+"/cards", payload)
	if err != nil {
		return nil, err
	}
	result, ok, err := parseCardList(body)
	if err != nil {
		return nil, &TransientFailure{Operation: "users_cards", Cause: fmt.Errorf("decode response: %w", err)}
	}
	if !ok {
		return result, fmt.Errorf("bancard users_cards: %s", result.Messages)
	}
	return result, nil
}

func (c *Client) DeleteCard(ctx context.Context, userID int64, aliasToken string) (*CardDeleteResult, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"public_key": c.cfg.PublicKey,
		"operation": map[string]interface{}{
			"token":       c.signer.DeleteCard(userID, aliasToken),
			"alias_token": aliasToken,
		},
	}

	_, body, err := c.send(ctx, "delete_card", http.MethodDelete, "/users/"+strconv.FormatInt(userID, 10)+"/cards", payload)
	if err != nil {
		return nil, err
	}
	result, err := parseCardDelete(body)
	if err != nil {
		return nil, &TransientFailure{Operation: "delete_card", Cause: fmt.Errorf("decode response: %w", err)}
	}
	return result, nil
}

// send posts one signed request. 4xx answers are returned to the caller because the gateway
// reports business errors with them; only transport failures and 5xx are transient.
func (c *Client) send(ctx context.Context, op, method, path string, payload interface{}) (int, []byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("bancard %s: marshal request: %w", op, err)
	}

	url := c.cfg.BaseURL() + apiPrefix + path
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(reqBody))
	if err != nil {
		return 0, nil, fmt.Errorf("bancard %s: create request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)

	c.logger.Debug("sending bancard request", "operation", op, "method", method, "url", url)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Error("bancard request failed", "operation", op, "error", err)
		return 0, nil, &TransientFailure{Operation: op, Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &TransientFailure{Operation: op, StatusCode: resp.StatusCode, Cause: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		c.logger.Error("bancard returned server error",
			"operation", op,
			"status", resp.StatusCode,
			"response", string(respBody))
		return resp.StatusCode, respBody, &TransientFailure{Operation: op, StatusCode: resp.StatusCode, Cause: errors.New(http.StatusText(resp.StatusCode))}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Warn("bancard returned client error",
			"operation", op,
			"status", resp.StatusCode,
			"response", string(respBody))
	}

	return resp.StatusCode, respBody, nil
}
