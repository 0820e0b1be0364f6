package delivery

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/auth"
	"github.com/frahmantamala/zenn-checkout/internal/transport"
	"github.com/frahmantamala/zenn-checkout/pkg/logger"
)

type ServiceAPI interface {
	Advance(ctx context.Context, processID int64, dto AdvanceDTO, actorID int64) (*AdvanceResponse, error)
	RecordAttempt(ctx context.Context, processID int64, dto AttemptDTO, actorID int64) (*ProgressView, error)
	Rate(ctx context.Context, processID int64, dto RateDTO, userID int64) (*ProgressView, error)
	Progress(ctx context.Context, processID, userID int64, viewAll bool) (*ProgressView, error)
	Stats(ctx context.Context) (*Stats, error)
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

func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
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

	view, err := h.Service.Progress(r.Context(), pid, user.ID, user.HasPermission(auth.PermViewTransactions))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	pid, err := h.ProcessIDParam(r)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	var dto RateDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	view, err := h.Service.Rate(r.Context(), pid, dto, internal.ActorIDFromContext(r.Context()))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	pid, err := h.ProcessIDParam(r)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	var dto AdvanceDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	resp, err := h.Service.Advance(r.Context(), pid, dto, internal.ActorIDFromContext(r.Context()))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) RecordAttempt(w http.ResponseWriter, r *http.Request) {
	pid, err := h.ProcessIDParam(r)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	var dto AttemptDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	view, err := h.Service.RecordAttempt(r.Context(), pid, dto, internal.ActorIDFromContext(r.Context()))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, view)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.Stats(r.Context())
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, stats)
}
