package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

type Sentiment string

const (
	SentimentNeutral  Sentiment = "neutral"
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentConfused Sentiment = "confused"
)

const (
	TypeUserMessage      = "user_message"
	TypeAIResponse       = "ai_response"
	TypeMedicineReminder = "medicine_reminder"

	EntityMedication = "medication"
)

// DeliveryLogEntry is an append-only audit record of one sent or received message.
type DeliveryLogEntry struct {
	ID                uuid.UUID       `json:"id"`
	ElderlyProfileID  uuid.UUID       `json:"elderly_profile_id"`
	Direction         Direction       `json:"message_direction"`
	MessageType       string          `json:"message_type"`
	MessageText       string          `json:"message_text"`
	RelatedEntityType *string         `json:"related_entity_type,omitempty"`
	RelatedEntityID   *uuid.UUID      `json:"related_entity_id,omitempty"`
	RemoteMessageID   *string         `json:"telegram_message_id,omitempty"`
	AIReply           bool            `json:"ai_reply"`
	UserAcknowledged  bool            `json:"user_acknowledged"`
	Sentiment         *Sentiment      `json:"sentiment,omitempty"`
	SentAt            time.Time       `json:"sent_at"`
	DeliveredAt       *time.Time      `json:"delivered_at,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
}
