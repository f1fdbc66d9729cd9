package upstream

import "fmt"

// Item is the subset of a Stack Exchange question the pipeline reads.
type Item struct {
	QuestionID int64  `json:"question_id"`
	IsAnswered bool   `json:"is_answered"`
	Title      string `json:"title"`
}

// Page matches the common Stack Exchange response wrapper.
type Page struct {
	Items          []Item `json:"items"`
	HasMore        bool   `json:"has_more"`
	QuotaMax       int    `json:"quota_max"`
	QuotaRemaining int    `json:"quota_remaining"`
	// Backoff is the number of seconds the API asks clients to wait. It is
	// logged, not honoured.
	Backoff int `json:"backoff,omitempty"`
}

// APIError is returned for non-2xx responses. The fields come from the error
// wrapper when the body carries one.
type APIError struct {
	StatusCode int    `json:"-"`
	ID         int    `json:"error_id"`
	Name       string `json:"error_name"`
	Message    string `json:"error_message"`
}

func (e *APIError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s (%d): %s", e.StatusCode, e.Name, e.ID, e.Message)
}

// Query selects questions created between From and To (unix seconds),
// optionally restricted to Tags (semicolon separated, as the API expects).
type Query struct {
	From int64
	To   int64
	Tags string
}
