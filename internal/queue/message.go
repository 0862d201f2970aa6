package queue

import (
	"fmt"
	"strings"

	"github.com/courierhq/courier/internal/domain"
)

// DeliveryJob is the broker payload for message delivery. It carries only
// identifiers; the worker re-reads the message row before dispatching so a
// cancel issued while the job sat in the queue still wins.
type DeliveryJob struct {
	MessageID     string          `json:"messageId"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Channel       domain.Channel  `json:"channel"`
	Priority      domain.Priority `json:"priority"`
}

func (j DeliveryJob) Validate() error {
	if strings.TrimSpace(j.MessageID) == "" {
		return fmt.Errorf("messageId is required")
	}
	if !j.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", j.Channel)
	}
	if !j.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", j.Priority)
	}
	return nil
}
