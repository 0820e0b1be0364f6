package transaction

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/auth"
	transactionDatamodel "github.com/frahmantamala/zenn-checkout/internal/core/datamodel/transaction"
	"github.com/frahmantamala/zenn-checkout/internal/transport"
	"github.com/frahmantamala/zenn-checkout/pkg/logger"
)

type ServiceAPI interface {
	CreateCharge(ctx context.Context, dto CreateChargeDTO, actorID int64) (*ChargeResponse, error)
	Rollback(ctx context.Context, processID int64, dto RollbackDTO, actorID int64) (*View, error)
	QueryConfirmation(ctx context.Context, processID int64) (*QueryResult, error)
	Get(ctx context.Context, processID int64) (*View, error)
	GetForCustomer(ctx context.Context, processID, actorID int64, viewAll bool) (*View, error)
	List(ctx context.Context, filter ListFilter) (*ListResponse, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

// CreateCharge starts a new card checkout. Guests are allowed; the caller is recorded when
// authenticated.
func (h *Handler) CreateCharge(w http.ResponseWriter, r *http.Request) {
	var dto CreateChargeDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if dto.PaymentMethod == "" {
		dto.PaymentMethod = transactionDatamodel.MethodNewCard
	}

	h.charge(w, r, dto)
}

// CreateTokenCharge charges a card saved by the authenticated user.
func (h *Handler) CreateTokenCharge(w http.ResponseWriter, r *http.Request) {
	var dto CreateChargeDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	dto.PaymentMethod = transactionDatamodel.MethodSavedCard

	h.charge(w, r, dto)
}

func (h *Handler) charge(w http.ResponseWriter, r *http.Request, dto CreateChargeDTO) {
	actorID := internal.ActorIDFromContext(r.Context())
	resp, err := h.Service.CreateCharge(r.Context(), dto, actorID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("charge accepted",
		"process_id", resp.ProcessID,
		"payment_status", resp.PaymentStatus,
		"requires_action", resp.RequiresAction != nil)
	h.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok || user == nil {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	pid, err := h.ProcessIDParam(r)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	view, err := h.Service.GetForCustomer(r.Context(), pid, user.ID, user.HasPermission(auth.PermViewTransactions))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	limit, offset := h.PageParams(r, defaultListLimit)
	resp, err := h.Service.List(r.Context(), ListFilter{
		PaymentStatus:  r.URL.Query().Get("payment_status"),
		DeliveryStatus: r.URL.Query().Get("delivery_status"),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) AdminGet(w http.ResponseWriter, r *http.Request) {
	pid, err := h.ProcessIDParam(r)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	view, err := h.Service.Get(r.Context(), pid)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) Rollback(w http.ResponseWriter, r *http.Request) {
	pid, err := h.ProcessIDParam(r)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	var dto RollbackDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	actorID := internal.ActorIDFromContext(r.Context())
	view, err := h.Service.Rollback(r.Context(), pid, dto, actorID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("rollback completed", "process_id", pid, "actor_id", actorID)
	h.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) QueryConfirmation(w http.ResponseWriter, r *http.Request) {
	pid, err := h.ProcessIDParam(r)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	result, err := h.Service.QueryConfirmation(r.Context(), pid)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}
