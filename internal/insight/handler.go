package insight

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/kalendae/meeting-insights/internal"
	"github.com/kalendae/meeting-insights/internal/event"
	"github.com/kalendae/meeting-insights/internal/transport"
	"github.com/kalendae/meeting-insights/pkg/logger"
)

type ServiceAPI interface {
	GenerateForEvent(ctx context.Context, email string, ev event.Event, refresh bool) (*Insight, error)
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

// Generate produces the insight for the posted event context. Failures
// come back as error cards with a retry action, never as stack traces.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	email := internal.EmailFromContext(r.Context())
	if email == "" {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var dto GenerateDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("Generate: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	refresh := r.URL.Query().Get("refresh") == "true"

	result, err := h.Service.GenerateForEvent(r.Context(), email, dto.Event, refresh)
	if err != nil {
		h.Logger.Error("Generate: service error", "error", err, "event_id", dto.Event.EventID, "email", email)
		h.writeErrorCard(w, dto.Event, err)
		return
	}

	h.Logger.Info("Generate: insight served",
		"event_id", dto.Event.EventID,
		"email", email,
		"cached", result.Cached)

	h.WriteJSON(w, http.StatusOK, GenerateResponse{
		Insight: result,
		Card:    event.InsightCard(dto.Event, result.Text),
	})
}

func (h *Handler) writeErrorCard(w http.ResponseWriter, ev event.Event, err error) {
	status := http.StatusInternalServerError
	code := ""
	message := "Something went wrong while generating the insight."

	if appErr, ok := internal.IsAppError(err); ok {
		status = appErr.StatusCode
		code = string(appErr.Code)
		message = appErr.Message
	}

	card := event.ErrorCard(ev, message)
	if appErr, ok := internal.IsAppError(err); ok && appErr.Code == internal.ErrCodeUserNotRegistered {
		card = event.UnregisteredCard()
	}

	h.WriteJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
		Card:  card,
	})
}
