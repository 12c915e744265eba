package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aasha-care/aasha-relay/internal/client"
	"github.com/aasha-care/aasha-relay/internal/model"
	"github.com/aasha-care/aasha-relay/internal/repo"
)

// InboundMessage accepts both the flat workflow form and a raw Telegram update.
type InboundMessage struct {
	ChatID    client.FlexibleID `json:"chat_id"`
	Text      string            `json:"text"`
	MessageID client.FlexibleID `json:"message_id"`
	Username  string            `json:"username"`
	Message   *struct {
		Chat struct {
			ID client.FlexibleID `json:"id"`
		} `json:"chat"`
		Text      string            `json:"text"`
		MessageID client.FlexibleID `json:"message_id"`
		From      struct {
			Username string `json:"username"`
		} `json:"from"`
	} `json:"message"`
}

func (m InboundMessage) chatID() string {
	if m.ChatID != "" || m.Message == nil {
		return string(m.ChatID)
	}
	return string(m.Message.Chat.ID)
}

func (m InboundMessage) text() string {
	if m.Text != "" || m.Message == nil {
		return m.Text
	}
	return m.Message.Text
}

func (m InboundMessage) messageID() string {
	if m.MessageID != "" || m.Message == nil {
		return string(m.MessageID)
	}
	return string(m.Message.MessageID)
}

func (m InboundMessage) username() string {
	if m.Username != "" || m.Message == nil {
		return m.Username
	}
	return m.Message.From.Username
}

type inboundMetadata struct {
	Username   string          `json:"username,omitempty"`
	RawPayload json.RawMessage `json:"raw_payload"`
}

type InboundResult struct {
	AIResponse *string `json:"ai_response"`
}

// Inbound records messages elderly users send back and answers the simple cases.
type Inbound struct {
	profiles repo.ProfileRepository
	logs     repo.LogRepository
	client   SendClient
	now      func() time.Time
}

func NewInbound(profiles repo.ProfileRepository, logs repo.LogRepository, c SendClient) *Inbound {
	return &Inbound{profiles: profiles, logs: logs, client: c, now: time.Now}
}

func (in *Inbound) Receive(ctx context.Context, raw json.RawMessage) (InboundResult, error) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return InboundResult{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	chatID, text := msg.chatID(), msg.text()
	if chatID == "" || text == "" {
		return InboundResult{}, fmt.Errorf("%w: missing required Telegram data: chat_id or message text", ErrInvalidRequest)
	}

	profile, err := in.profiles.FindEnabledByChatID(ctx, chatID)
	if errors.Is(err, repo.ErrNotFound) {
		slog.Warn("profile not found for chat", "chat_id", chatID)
		return InboundResult{}, fmt.Errorf("%w or Telegram not enabled", ErrProfileNotFound)
	}
	if err != nil {
		return InboundResult{}, fmt.Errorf("load profile: %w", err)
	}

	c := Classify(text)

	entry := model.DeliveryLogEntry{
		ElderlyProfileID: profile.ID,
		Direction:        model.DirectionReceived,
		MessageType:      model.TypeUserMessage,
		MessageText:      text,
		RemoteMessageID:  optional(msg.messageID()),
		UserAcknowledged: c.Acknowledged,
		Sentiment:        &c.Sentiment,
		SentAt:           in.now().UTC(),
	}
	if c.Acknowledged {
		in.linkReminder(ctx, &entry)
	}
	if md, err := json.Marshal(inboundMetadata{Username: msg.username(), RawPayload: raw}); err == nil {
		entry.Metadata = md
	}
	if err := in.logs.InsertLog(ctx, &entry); err != nil {
		return InboundResult{}, fmt.Errorf("log received message: %w", err)
	}

	reply := AutoReply(c, profile.FirstName, profile.Language)
	if reply == "" {
		return InboundResult{}, nil
	}
	in.sendReply(ctx, profile, chatID, reply)
	return InboundResult{AIResponse: &reply}, nil
}

// linkReminder ties an acknowledgement to the latest medicine reminder sent to the profile.
func (in *Inbound) linkReminder(ctx context.Context, e *model.DeliveryLogEntry) {
	reminder, err := in.logs.LatestSent(ctx, e.ElderlyProfileID, model.TypeMedicineReminder, model.EntityMedication)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			slog.Warn("reminder lookup failed", "profile_id", e.ElderlyProfileID, "error", err)
		}
		return
	}
	if reminder.RelatedEntityID == nil {
		return
	}
	entityType := model.EntityMedication
	e.RelatedEntityType = &entityType
	e.RelatedEntityID = reminder.RelatedEntityID
}

func (in *Inbound) sendReply(ctx context.Context, profile model.ElderlyProfile, chatID, reply string) {
	e := model.DeliveryLogEntry{
		ElderlyProfileID: profile.ID,
		Direction:        model.DirectionSent,
		MessageType:      model.TypeAIResponse,
		MessageText:      reply,
		AIReply:          true,
		SentAt:           in.now().UTC(),
	}
	if err := in.logs.InsertLog(ctx, &e); err != nil {
		slog.Error("failed to log auto-reply, not sending", "profile_id", profile.ID, "error", err)
		return
	}

	_, err := in.client.Relay(ctx, client.RelayRequest{
		ChatID:           chatID,
		Message:          reply,
		ElderlyProfileID: profile.ID,
		MessageType:      model.TypeAIResponse,
	})
	if err != nil {
		slog.Error("failed to send auto-reply", "profile_id", profile.ID, "error", err)
	}
}
