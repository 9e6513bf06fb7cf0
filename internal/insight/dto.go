package insight

import (
	"github.com/kalendae/meeting-insights/internal/event"
)

// GenerateDTO is the insight request: the event context as the add-on
// frontend sees it.
type GenerateDTO struct {
	Event event.Event `json:"event"`
}

func (dto GenerateDTO) Validate() error {
	return dto.Event.Validate()
}

// GenerateResponse pairs the insight with a ready-to-render card
// descriptor.
type GenerateResponse struct {
	Insight *Insight   `json:"insight"`
	Card    event.Card `json:"card"`
}

// ErrorResponse is the failure payload: the error plus an error card
// with a retry action.
type ErrorResponse struct {
	Error string     `json:"error"`
	Code  string     `json:"code,omitempty"`
	Card  event.Card `json:"card"`
}
