package model

import (
	"time"

	"github.com/google/uuid"
)

type ElderlyProfile struct {
	ID               uuid.UUID `json:"id"`
	FirstName        string    `json:"first_name"`
	Language         string    `json:"language"`
	TelegramChatID   string    `json:"telegram_chat_id"`
	TelegramUsername string    `json:"telegram_username"`
	TelegramEnabled  bool      `json:"telegram_enabled"`
}

// RecipientChannel is the addressing info a message is routed with.
type RecipientChannel struct {
	ChatID    string
	Enabled   bool
	FirstName string
}

func (p ElderlyProfile) Channel() RecipientChannel {
	return RecipientChannel{
		ChatID:    p.TelegramChatID,
		Enabled:   p.TelegramEnabled,
		FirstName: p.FirstName,
	}
}

// Usable reports whether a message can be routed over the channel.
func (c RecipientChannel) Usable() bool {
	return c.Enabled && c.ChatID != ""
}

type Call struct {
	ID               uuid.UUID  `json:"id"`
	ElderlyProfileID *uuid.UUID `json:"elderly_profile_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
