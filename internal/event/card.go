package event

// Card is the descriptor the add-on UI renders; this service only ever
// describes cards, it never renders them.
type Card struct {
	Title    string       `json:"title"`
	BodyText string       `json:"body_text"`
	Actions  []CardAction `json:"actions,omitempty"`
}

type CardAction struct {
	Label  string            `json:"label"`
	Action string            `json:"action"`
	Params map[string]string `json:"params,omitempty"`
}

// Action names understood by the add-on frontend.
const (
	ActionGenerateInsight = "generate_insight"
	ActionRefreshAccess   = "refresh_access"
	ActionRegister        = "register"
)

// InsightCard wraps a generated insight for display.
func InsightCard(ev Event, text string) Card {
	title := ev.Title
	if title == "" {
		title = "Meeting insight"
	}
	return Card{
		Title:    title,
		BodyText: text,
		Actions: []CardAction{
			{
				Label:  "Regenerate",
				Action: ActionGenerateInsight,
				Params: map[string]string{"event_id": ev.EventID, "refresh": "true"},
			},
		},
	}
}

// UnregisteredCard tells an unknown user how to get started.
func UnregisteredCard() Card {
	return Card{
		Title:    "Not registered",
		BodyText: "Your account is not registered for meeting insights. Register to link your company, or refresh if access was just granted.",
		Actions: []CardAction{
			{Label: "Register", Action: ActionRegister},
			{Label: "Refresh", Action: ActionRefreshAccess},
		},
	}
}

// ErrorCard carries a user-visible failure with a retry that re-invokes
// the same operation with the same parameters.
func ErrorCard(ev Event, message string) Card {
	return Card{
		Title:    "Insight unavailable",
		BodyText: message,
		Actions: []CardAction{
			{
				Label:  "Retry",
				Action: ActionGenerateInsight,
				Params: map[string]string{"event_id": ev.EventID},
			},
		},
	}
}
