package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/zenn-checkout/internal"
	"github.com/frahmantamala/zenn-checkout/internal/transport"
	"github.com/frahmantamala/zenn-checkout/pkg/logger"
)

type ServiceAPI interface {
	Authenticate(ctx context.Context, dto LoginDTO) (AuthTokens, error)
	RefreshTokens(ctx context.Context, refreshToken string) (AuthTokens, error)
	ValidateAccessToken(tokenString string) (*Claims, error)
	GetUserWithPermissions(ctx context.Context, userID int64) (*User, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(svc ServiceAPI) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     svc,
	}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	tokens, err := h.Service.Authenticate(r.Context(), dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, tokens)
}

func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var dto RefreshTokenDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if err := dto.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	tokens, err := h.Service.RefreshTokens(r.Context(), dto.RefreshToken)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, tokens)
}

// AuthMiddleware requires a valid access token and puts the user on the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.ExtractTokenFromHeader(r)
		if token == "" {
			h.WriteError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		u, err := h.authenticate(r.Context(), token)
		if err != nil {
			h.HandleServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), u)))
	})
}

// OptionalAuthMiddleware lets guests through. A valid token identifies the caller; an invalid
// one is rejected.
func (h *Handler) OptionalAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.ExtractTokenFromHeader(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		u, err := h.authenticate(r.Context(), token)
		if err != nil {
			h.HandleServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), u)))
	})
}

func (h *Handler) authenticate(ctx context.Context, token string) (*User, error) {
	claims, err := h.Service.ValidateAccessToken(token)
	if err != nil {
		h.Logger.Warn("token validation failed", "error", err)
		return nil, err
	}

	u, err := h.Service.GetUserWithPermissions(ctx, claims.UserID)
	if err != nil {
		h.Logger.Warn("auth middleware: failed to load user", "user_id", claims.UserID, "error", err)
		return nil, internal.ErrInvalidToken
	}
	return u, nil
}

// RequirePermission rejects users that lack permission. It must run after AuthMiddleware.
func (h *Handler) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := UserFromContext(r.Context())
			if !ok || u == nil {
				h.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !u.HasPermission(permission) {
				h.Logger.Warn("access denied: insufficient permissions",
					"user_id", u.ID,
					"required_permission", permission,
					"user_permissions", u.Permissions)
				h.WriteError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
