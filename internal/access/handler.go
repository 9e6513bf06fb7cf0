package access

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kalendae/meeting-insights/internal"
	"github.com/kalendae/meeting-insights/internal/transport"
	"github.com/kalendae/meeting-insights/pkg/logger"
)

type ServiceAPI interface {
	Resolve(ctx context.Context, email string, skipCache bool) *AccessDetails
	Invalidate(ctx context.Context, email string)
	Register(ctx context.Context, email, name string) (*AccessDetails, error)
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

// Me resolves the caller's access details. A miss is a regular response,
// not an error: the add-on renders its unregistered state from it.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	email := internal.EmailFromContext(r.Context())
	if email == "" {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	skipCache := r.URL.Query().Get("refresh") == "true"
	details := h.Service.Resolve(r.Context(), email, skipCache)

	h.WriteJSON(w, http.StatusOK, ResolveResponse{
		Registered: details != nil,
		Access:     details,
	})
}

// Refresh drops the caller's cached access entry, for the UI refresh
// action after a permission change.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	email := internal.EmailFromContext(r.Context())
	if email == "" {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	h.Service.Invalidate(r.Context(), email)
	h.WriteJSON(w, http.StatusOK, RefreshResponse{Invalidated: true})
}

// Register attaches the caller to the company matching their email
// domain.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	email := internal.EmailFromContext(r.Context())
	if email == "" {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var dto RegisterDTO
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil && err.Error() != "EOF" {
			h.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if err := dto.Validate(); err != nil {
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	details, err := h.Service.Register(r.Context(), email, dto.Name)
	if err != nil {
		h.Logger.Error("Register: service error", "error", err, "email", email)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusCreated, ResolveResponse{Registered: true, Access: details})
}
