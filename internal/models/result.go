package models

// Result is the JSON object returned to the provider for every processed
// webhook. Shape varies by branch but always includes success and action.
type Result struct {
	Success       bool   `json:"success"`
	Action        string `json:"action"`
	Event         string `json:"event,omitempty"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
	MessageID     int64  `json:"message_id,omitempty"`
	ReactionID    int64  `json:"reaction_id,omitempty"`
	ContactID     int64  `json:"contact_id,omitempty"`
	Contacts      int    `json:"contacts,omitempty"`
	EditedMessage bool   `json:"edited_message,omitempty"`

	// Challenge responses are written back as a raw body instead of JSON.
	Challenge  string `json:"-"`
	StatusCode int    `json:"-"`
}

// Ok builds a success result for an action/event pair.
func Ok(action, event string) Result {
	return Result{Success: true, Action: action, Event: event}
}

// Fail builds a failed-but-handled result. Not-found and policy conditions
// are reported this way; providers retry on non-2xx, so these still map to
// an HTTP 200.
func Fail(action, event, reason string) Result {
	return Result{Success: false, Action: action, Event: event, Error: reason}
}
