package card

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/transport"
	"github.com/frahmantamala/zenn-checkout/pkg/logger"
)

type ServiceAPI interface {
	Enroll(ctx context.Context, userID int64, dto EnrollCardDTO) (*EnrollResponse, error)
	List(ctx context.Context, userID int64) ([]Card, error)
	Delete(ctx context.Context, userID int64, dto DeleteCardDTO) error
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

func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var dto EnrollCardDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	resp, err := h.Service.Enroll(r.Context(), internal.ActorIDFromContext(r.Context()), dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	cards, err := h.Service.List(r.Context(), internal.ActorIDFromContext(r.Context()))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"cards": cards})
}

// Delete reads the alias token from the body, or from the alias_token query parameter.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	dto := DeleteCardDTO{AliasToken: r.URL.Query().Get("alias_token")}
	if dto.AliasToken == "" {
		if err := h.DecodeJSON(r, &dto); err != nil {
			h.HandleServiceError(w, err)
			return
		}
	}

	if err := h.Service.Delete(r.Context(), internal.ActorIDFromContext(r.Context()), dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
