package domain

import "time"

// DeliveryAttempt records a single provider leg of a dispatch. One dispatch
// produces one row per attempted provider: failed legs carry the last
// observed reason, the successful leg (if any) carries the provider response.
type DeliveryAttempt struct {
	ID            string
	MessageID     string
	Provider      string
	AttemptNumber int
	StatusCode    *int
	ResponseBody  *string
	Error         *string
	CreatedAt     time.Time
}
