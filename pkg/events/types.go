package events

// Envelope types sent by the Slack Events API.
const (
	TypeURLVerification = "url_verification"
	TypeEventCallback   = "event_callback"
)

// Envelope is the outer body Slack POSTs to the event endpoint.
type Envelope struct {
	Token     string `json:"token,omitempty"`
	Type      string `json:"type"`
	Challenge string `json:"challenge,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Event     *Event `json:"event,omitempty"`
}

// Event is the inner message event.
type Event struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Channel string `json:"channel"`
	User    string `json:"user,omitempty"`
	BotID   string `json:"bot_id,omitempty"`
	Text    string `json:"text"`
	TS      string `json:"ts,omitempty"`
}

// FromBot reports whether the event was produced by a bot, including
// majordomo's own chat messages.
func (e *Event) FromBot() bool {
	return e.BotID != "" || e.Subtype == "bot_message"
}

// ChallengeResponse answers a url_verification envelope.
type ChallengeResponse struct {
	Challenge string `json:"challenge"`
}
