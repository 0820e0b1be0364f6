package transaction

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/transport"
)

const (
	defaultWebhookTimeout = 30 * time.Second
	maxConfirmationBody   = 1 << 20
)

type Reconciler interface {
	Reconcile(ctx context.Context, dto ConfirmationDTO) error
}

// WebhookHandler receives gateway confirmations. The gateway only needs to know the payload
// arrived, so the answer is sent before the confirmation is applied.
type WebhookHandler struct {
	*transport.BaseHandler
	reconciler Reconciler
	timeout    time.Duration
	inflight   sync.WaitGroup
}

func NewWebhookHandler(reconciler Reconciler, timeout time.Duration, lg *slog.Logger) *WebhookHandler {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookHandler{
		BaseHandler: transport.NewBaseHandler(lg),
		reconciler:  reconciler,
		timeout:     timeout,
	}
}

func (h *WebhookHandler) HandleConfirmation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfirmationBody))
	if err != nil {
		h.Logger.Warn("failed to read confirmation body", "error", err)
	}

	dto, err := ParseConfirmation(body, r.URL.Query())

	h.WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})

	if err != nil {
		h.Logger.Warn("undecodable confirmation acknowledged", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	h.Logger.Info("confirmation received",
		"shop_process_id", dto.ShopProcessID,
		"response", dto.Response,
		"response_code", dto.ResponseCode)

	ctx, cancel := internal.Detached(r.Context(), h.timeout)
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		defer cancel()

		err := h.reconciler.Reconcile(ctx, dto)
		switch {
		case err == nil:
		case internal.IsDuplicateConfirmation(err):
			h.Logger.Info("confirmation already applied", "shop_process_id", dto.ShopProcessID)
		default:
			h.Logger.Error("confirmation reconciliation failed",
				"shop_process_id", dto.ShopProcessID,
				"error", err)
		}
	}()
}

// Probe answers the gateway's reachability check.
func (h *WebhookHandler) Probe(w http.ResponseWriter, r *http.Request) {
	h.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "active",
		"service": "bancard-confirmation",
	})
}

// Wait blocks until every accepted confirmation finished reconciling.
func (h *WebhookHandler) Wait() {
	h.inflight.Wait()
}
