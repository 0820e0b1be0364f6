package notification

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/transport"
	"github.com/frahmantamala/zenn-checkout/pkg/logger"
)

type ServiceAPI interface {
	Resend(ctx context.Context, processID int64, force bool, actorID int64) (*ResendResponse, error)
	History(ctx context.Context, processID int64) ([]HistoryEntry, error)
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

func (h *Handler) Resend(w http.ResponseWriter, r *http.Request) {
	pid, err := h.ProcessIDParam(r)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	var dto ResendDTO
	if r.ContentLength != 0 {
		if err := h.DecodeJSON(r, &dto); err != nil {
			h.HandleServiceError(w, err)
			return
		}
	}

	resp, err := h.Service.Resend(r.Context(), pid, dto.Force, internal.ActorIDFromContext(r.Context()))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	pid, err := h.ProcessIDParam(r)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	history, err := h.Service.History(r.Context(), pid)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"process_id":    pid,
		"notifications": history,
	})
}
