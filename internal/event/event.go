package event

import (
	"errors"
	"time"
)

// Event is the calendar event context the add-on frontend sends when a
// meeting is opened. The service never reads calendars itself.
type Event struct {
	EventID     string    `json:"event_id"`
	CalendarID  string    `json:"calendar_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	GuestEmails []string  `json:"guest_emails,omitempty"`
}

func (e Event) Validate() error {
	if e.EventID == "" {
		return errors.New("event_id is required")
	}
	if !e.StartTime.IsZero() && !e.EndTime.IsZero() && e.EndTime.Before(e.StartTime) {
		return errors.New("end_time cannot be before start_time")
	}
	return nil
}
