package model

import "time"

// TurnResultOK is recorded for turns whose task operation succeeded.
const TurnResultOK = "ok"

// Turn is one handled voice request, kept in the local journal for
// troubleshooting. It never carries the user's access token.
type Turn struct {
	// ID is the unique identifier of the journal entry.
	ID string `json:"id"`

	// RequestID is the voice platform's request id, if any.
	RequestID string `json:"request_id"`

	// Intent is the request type or intent name that was handled.
	Intent string `json:"intent"`

	// Locale is the normalized locale the response was rendered in.
	Locale string `json:"locale"`

	// Result is TurnResultOK or the failure kind of the task operation.
	Result string `json:"result"`

	// IssueKey is the key of a created issue, if any.
	IssueKey string `json:"issue_key,omitempty"`

	// Duration is how long the turn took to handle.
	Duration time.Duration `json:"duration"`

	// CreatedAt is when the turn was handled.
	CreatedAt time.Time `json:"created_at"`
}

// Failed reports whether the turn's task operation failed.
func (t Turn) Failed() bool {
	return t.Result != "" && t.Result != TurnResultOK
}
