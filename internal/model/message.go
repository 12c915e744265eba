package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	Pending   Status = "pending"
	Sent      Status = "sent"
	Failed    Status = "failed"
	Cancelled Status = "cancelled"
)

const (
	// MaxRetries is the number of failed relay attempts after which a message is failed.
	MaxRetries = 3
	// MaxBatchSize caps a single queue poll.
	MaxBatchSize = 50
)

func (s Status) Terminal() bool {
	switch s {
	case Sent, Failed, Cancelled:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	return s == Pending || s.Terminal()
}

// QueuedMessage is one row of the outbound message queue.
type QueuedMessage struct {
	ID                uuid.UUID       `json:"id"`
	ElderlyProfileID  uuid.UUID       `json:"elderly_profile_id"`
	MessageType       string          `json:"message_type"`
	MessageContent    string          `json:"message_content"`
	ScheduledFor      time.Time       `json:"scheduled_for"`
	Status            Status          `json:"status"`
	RetryCount        int             `json:"retry_count"`
	DeliveryError     *string         `json:"delivery_error,omitempty"`
	SentAt            *time.Time      `json:"sent_at,omitempty"`
	RelatedEntityType *string         `json:"related_entity_type,omitempty"`
	RelatedEntityID   *uuid.UUID      `json:"related_entity_id,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// StatusUpdate is the write applied to a pending queue row.
type StatusUpdate struct {
	Status        Status
	RetryCount    int
	DeliveryError *string
	SentAt        *time.Time
}
