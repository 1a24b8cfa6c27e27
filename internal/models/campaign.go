package models

import (
	"fmt"
	"strings"
	"time"
)

// NameMarker is replaced with the recipient's display name when a message is rendered.
const NameMarker = "{name}"

// DefaultDisplayName is used when a recipient has no known display name.
const DefaultDisplayName = "User"

// MinInterval is the smallest allowed spacing between two sends.
const MinInterval = 100 * time.Millisecond

// CampaignState is the lifecycle position of a campaign.
type CampaignState int

const (
	CampaignNotStarted CampaignState = iota
	CampaignRunning
	CampaignCompleted
	CampaignCancelled
)

func (s CampaignState) String() string {
	switch s {
	case CampaignNotStarted:
		return "not_started"
	case CampaignRunning:
		return "running"
	case CampaignCompleted:
		return "completed"
	case CampaignCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Recipient is a campaign target.
type Recipient struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// DisplayName returns the recipient's name or [DefaultDisplayName].
func (r Recipient) DisplayName() string {
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	return DefaultDisplayName
}

// Campaign is one bulk dispatch run owned by a session.
type Campaign struct {
	ID                   string        `json:"id"`
	SessionKey           string        `json:"session_key"`
	Sequence             int           `json:"sequence"`
	Recipients           []Recipient   `json:"recipients"`
	Message              string        `json:"message"`
	MessagesPerRecipient int           `json:"messages_per_recipient"`
	Interval             time.Duration `json:"interval"`
	SentCount            int           `json:"sent_count"`
	TotalCount           int           `json:"total_count"`
	NextSendAt           time.Time     `json:"next_send_at"`
	IsComplete           bool          `json:"is_complete"`
	AuthFailures         int           `json:"auth_failures"`
	LastError            string        `json:"last_error,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// NewCampaign builds a campaign that has not sent anything yet.
func NewCampaign(id, sessionKey string, recipients []Recipient, message string, perRecipient int, interval time.Duration, now time.Time) *Campaign {
	rs := make([]Recipient, len(recipients))
	copy(rs, recipients)
	return &Campaign{
		ID:                   id,
		SessionKey:           sessionKey,
		Recipients:           rs,
		Message:              message,
		MessagesPerRecipient: perRecipient,
		Interval:             interval,
		TotalCount:           perRecipient * len(rs),
		NextSendAt:           now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func (c *Campaign) Key() string { return c.SessionKey }

// Validate checks the campaign's counters and parameters.
func (c *Campaign) Validate() error {
	if c.SessionKey == "" {
		return fmt.Errorf("session key is required")
	}
	if len(c.Recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	if c.MessagesPerRecipient < 1 {
		return fmt.Errorf("messages per recipient must be at least 1")
	}
	if c.Interval < MinInterval {
		return fmt.Errorf("interval must be at least %v", MinInterval)
	}
	if c.TotalCount != c.MessagesPerRecipient*len(c.Recipients) {
		return fmt.Errorf("total count %d does not match %d x %d", c.TotalCount, c.MessagesPerRecipient, len(c.Recipients))
	}
	if c.SentCount < 0 || c.SentCount > c.TotalCount {
		return fmt.Errorf("sent count %d out of range [0, %d]", c.SentCount, c.TotalCount)
	}
	if c.IsComplete != (c.SentCount == c.TotalCount) {
		return fmt.Errorf("completion flag does not match counters")
	}
	return nil
}

// State reports the campaign's lifecycle state.
func (c *Campaign) State() CampaignState {
	if c.IsComplete {
		return CampaignCompleted
	}
	return CampaignRunning
}

// Next returns the recipient index and 1-based message number of the next send.
func (c *Campaign) Next() (recipientIndex, messageNumber int) {
	return c.SentCount / c.MessagesPerRecipient, c.SentCount%c.MessagesPerRecipient + 1
}

// NextRecipient returns the recipient of the next send.
func (c *Campaign) NextRecipient() Recipient {
	idx, _ := c.Next()
	return c.Recipients[idx]
}

// Render expands the message template for r.
func (c *Campaign) Render(r Recipient) string {
	return strings.ReplaceAll(c.Message, NameMarker, r.DisplayName())
}

// Due reports whether the next send may happen at now.
func (c *Campaign) Due(now time.Time) bool {
	return !now.Before(c.NextSendAt)
}

// RecordSend advances the counters after a successful send at now.
func (c *Campaign) RecordSend(now time.Time) {
	c.SentCount++
	c.NextSendAt = now.Add(c.Interval)
	c.IsComplete = c.SentCount >= c.TotalCount
	c.AuthFailures = 0
	c.LastError = ""
	c.UpdatedAt = now
}

// RecordFailure notes a failed send without advancing progress.
func (c *Campaign) RecordFailure(err error, authFailure bool, now time.Time) {
	if authFailure {
		c.AuthFailures++
	} else {
		c.AuthFailures = 0
	}
	c.LastError = err.Error()
	c.UpdatedAt = now
}

// Snapshot renders the progress view at now.
func (c *Campaign) Snapshot(now time.Time) Snapshot {
	wait := c.NextSendAt.Sub(now).Seconds()
	if wait < 0 || c.IsComplete {
		wait = 0
	}

	s := Snapshot{
		ID:          c.ID,
		State:       c.State().String(),
		Sent:        c.SentCount,
		Total:       c.TotalCount,
		NextSendAt:  float64(c.NextSendAt.UnixMilli()) / 1000,
		WaitSeconds: wait,
		IsComplete:  c.IsComplete,
		Recipients:  len(c.Recipients),
		LastError:   c.LastError,
	}
	if c.TotalCount > 0 {
		s.Progress = float64(c.SentCount) / float64(c.TotalCount) * 100
	}

	if c.IsComplete {
		s.Message = fmt.Sprintf("Completed: sent %d of %d messages", c.SentCount, c.TotalCount)
	} else {
		s.Message = fmt.Sprintf("Sent %d of %d messages", c.SentCount, c.TotalCount)
	}
	return s
}

// Cancelled renders the final view of a campaign discarded at now.
func (c *Campaign) Cancelled(now time.Time) Snapshot {
	s := c.Snapshot(now)
	s.State = CampaignCancelled.String()
	s.WaitSeconds = 0
	s.Message = fmt.Sprintf("Cancelled after sending %d of %d messages", c.SentCount, c.TotalCount)
	return s
}

// Snapshot is the progress view returned by every campaign operation.
type Snapshot struct {
	ID          string  `json:"id"`
	State       string  `json:"state"`
	Sent        int     `json:"sent"`
	Total       int     `json:"total"`
	Progress    float64 `json:"progress"`
	NextSendAt  float64 `json:"next_send_at"`
	WaitSeconds float64 `json:"wait_seconds"`
	IsComplete  bool    `json:"is_complete"`
	Recipients  int     `json:"recipients"`
	LastError   string  `json:"last_error,omitempty"`
	Message     string  `json:"message"`
}
