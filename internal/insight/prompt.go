package insight

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalendae/meeting-insights/internal/event"
)

// BuildPrompt turns the event context into the prompt posted onto the
// thread. Only fields the organizer already shared with guests are
// included.
func BuildPrompt(ev event.Event) string {
	var b strings.Builder

	b.WriteString("You are a communication coach preparing a participant for an upcoming meeting.\n")
	b.WriteString("Give concise, practical communication insights: likely dynamics, what to clarify up front, and one suggestion for running the conversation well.\n\n")

	fmt.Fprintf(&b, "Meeting: %s\n", orUntitled(ev.Title))
	if ev.Description != "" {
		fmt.Fprintf(&b, "Agenda/description: %s\n", ev.Description)
	}
	if !ev.StartTime.IsZero() {
		fmt.Fprintf(&b, "Scheduled: %s", ev.StartTime.Format(time.RFC1123))
		if !ev.EndTime.IsZero() {
			fmt.Fprintf(&b, " to %s (%s)", ev.EndTime.Format("15:04 MST"), ev.EndTime.Sub(ev.StartTime))
		}
		b.WriteString("\n")
	}
	if len(ev.GuestEmails) > 0 {
		fmt.Fprintf(&b, "Participants (%d): %s\n", len(ev.GuestEmails), strings.Join(ev.GuestEmails, ", "))
	}

	b.WriteString("\nKeep the response under 150 words, plain text.")
	return b.String()
}

func orUntitled(title string) string {
	if title == "" {
		return "(untitled)"
	}
	return title
}
