package domain

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

// Status represents the lifecycle state of a message.
type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusQueued   Status = "QUEUED"
	StatusSending  Status = "SENDING"
	StatusSent     Status = "SENT"
	StatusDeferred Status = "DEFERRED"
	StatusFailed   Status = "FAILED"
	StatusCanceled Status = "CANCELED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusAccepted, StatusQueued, StatusSending, StatusSent, StatusDeferred, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Channel represents the delivery channel.
type Channel string

const (
	ChannelSMS      Channel = "SMS"
	ChannelEmail    Channel = "EMAIL"
	ChannelPush     Channel = "PUSH"
	ChannelWhatsApp Channel = "WHATSAPP"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelPush, ChannelWhatsApp:
		return true
	}
	return false
}

// Channels lists every supported delivery channel in a stable order.
func Channels() []Channel {
	return []Channel{ChannelSMS, ChannelEmail, ChannelPush, ChannelWhatsApp}
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToUpper(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: invalid channel %q", ErrValidation, s)
	}
	return ch, nil
}

// Priority represents the message priority level.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// Content limits per channel (in characters).
const (
	MaxSMSContent      = 160
	MaxPushContent     = 240
	MaxWhatsAppContent = 4096
	MaxEmailContent    = 10000
	MaxEmailSubject    = 998
	MinPushToken       = 8
)

// phoneNumberPattern is a permissive E.164 check: leading +, then 8-15 digits.
var phoneNumberPattern = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// Message is the core domain entity representing one outbound message.
type Message struct {
	ID                string
	CorrelationID     string
	IdempotencyKey    *string
	BatchID           *string
	Channel           Channel
	Priority          Priority
	Recipient         string
	Subject           string
	Content           string
	Metadata          map[string]string
	Status            Status
	DeliveredBy       *string
	ProviderMessageID *string
	DispatchCount     int
	MaxDispatches     int
	SkipValidation    bool
	ScheduledAt       *time.Time
	NextDispatchAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Validate runs the structural checks for the message's channel. It never
// touches a provider: a failure here means the request itself is malformed.
func (m *Message) Validate() error {
	if m.Recipient == "" {
		return NewValidationError("recipient", "recipient is required")
	}
	if m.Content == "" {
		return NewValidationError("content", "content is required")
	}
	if !m.Channel.IsValid() {
		return NewValidationError("channel", fmt.Sprintf("invalid channel %q", m.Channel))
	}
	if !m.Priority.IsValid() {
		return NewValidationError("priority", fmt.Sprintf("invalid priority %q", m.Priority))
	}

	if err := m.validateRecipient(); err != nil {
		return err
	}
	return m.validateContent()
}

func (m *Message) validateRecipient() error {
	switch m.Channel {
	case ChannelSMS, ChannelWhatsApp:
		if !phoneNumberPattern.MatchString(m.Recipient) {
			return NewValidationError("recipient", fmt.Sprintf("%q is not an E.164 phone number", m.Recipient))
		}
	case ChannelEmail:
		if _, err := mail.ParseAddress(m.Recipient); err != nil {
			return NewValidationError("recipient", fmt.Sprintf("%q is not a valid email address", m.Recipient))
		}
	case ChannelPush:
		token := strings.TrimSpace(m.Recipient)
		if len(token) < MinPushToken || strings.ContainsAny(token, " \t\n") {
			return NewValidationError("recipient", "device token is malformed")
		}
	}
	return nil
}

func (m *Message) validateContent() error {
	contentLen := len([]rune(m.Content))
	switch m.Channel {
	case ChannelSMS:
		if contentLen > MaxSMSContent {
			return NewValidationError("content", fmt.Sprintf("SMS content exceeds %d characters (got %d)", MaxSMSContent, contentLen))
		}
	case ChannelWhatsApp:
		if contentLen > MaxWhatsAppContent {
			return NewValidationError("content", fmt.Sprintf("WhatsApp content exceeds %d characters (got %d)", MaxWhatsAppContent, contentLen))
		}
	case ChannelPush:
		if contentLen > MaxPushContent {
			return NewValidationError("content", fmt.Sprintf("push content exceeds %d characters (got %d)", MaxPushContent, contentLen))
		}
	case ChannelEmail:
		if contentLen > MaxEmailContent {
			return NewValidationError("content", fmt.Sprintf("email content exceeds %d characters (got %d)", MaxEmailContent, contentLen))
		}
		if len([]rune(m.Subject)) > MaxEmailSubject {
			return NewValidationError("subject", fmt.Sprintf("email subject exceeds %d characters", MaxEmailSubject))
		}
	}
	return nil
}
