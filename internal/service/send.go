package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aasha-care/aasha-relay/internal/client"
	"github.com/aasha-care/aasha-relay/internal/model"
	"github.com/aasha-care/aasha-relay/internal/reconcile"
	"github.com/aasha-care/aasha-relay/internal/repo"
)

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrChannelUnavailable = errors.New("telegram not enabled for this profile or chat_id missing")
)

type SendRequest struct {
	MessageQueueID    *uuid.UUID `json:"messageQueueId,omitempty"`
	ElderlyProfileID  uuid.UUID  `json:"elderlyProfileId"`
	MessageContent    string     `json:"messageContent"`
	MessageType       string     `json:"messageType,omitempty"`
	RelatedEntityType *string    `json:"relatedEntityType,omitempty"`
	RelatedEntityID   *uuid.UUID `json:"relatedEntityId,omitempty"`
}

// SendNow relays a single message outside the poll cycle. When the request names a
// queue row, that row is reconciled with the outcome.
func (r *Relay) SendNow(ctx context.Context, req SendRequest) (client.Receipt, error) {
	if req.ElderlyProfileID == uuid.Nil || req.MessageContent == "" {
		return client.Receipt{}, fmt.Errorf("%w: missing required fields: elderlyProfileId and messageContent", ErrInvalidRequest)
	}

	profile, err := r.profiles.GetProfile(ctx, req.ElderlyProfileID)
	if errors.Is(err, repo.ErrNotFound) {
		return client.Receipt{}, ErrProfileNotFound
	}
	if err != nil {
		return client.Receipt{}, fmt.Errorf("load profile: %w", err)
	}

	ch := profile.Channel()
	if !ch.Usable() {
		return client.Receipt{}, ErrChannelUnavailable
	}

	receipt, err := r.client.Relay(ctx, client.RelayRequest{
		ChatID:           ch.ChatID,
		Message:          req.MessageContent,
		ElderlyProfileID: req.ElderlyProfileID,
		MessageType:      req.MessageType,
		FirstName:        ch.FirstName,
	})
	if err != nil {
		slog.Warn("direct send failed", "profile_id", req.ElderlyProfileID, "error", err)
		r.reconcileQueued(ctx, req.MessageQueueID, reconcile.DeliveryFailed, errText(err))
		return client.Receipt{}, err
	}

	messageType := req.MessageType
	if messageType == "" {
		messageType = model.TypeUserMessage
	}
	sentAt := r.now().UTC()
	r.writeLog(ctx, &model.DeliveryLogEntry{
		ElderlyProfileID:  req.ElderlyProfileID,
		Direction:         model.DirectionSent,
		MessageType:       messageType,
		MessageText:       req.MessageContent,
		RelatedEntityType: req.RelatedEntityType,
		RelatedEntityID:   req.RelatedEntityID,
		RemoteMessageID:   optional(receipt.RemoteMessageID),
		SentAt:            sentAt,
		DeliveredAt:       &sentAt,
	})
	r.reconcileQueued(ctx, req.MessageQueueID, reconcile.Delivered, nil)

	return receipt, nil
}

func (r *Relay) reconcileQueued(ctx context.Context, id *uuid.UUID, outcome reconcile.Outcome, deliveryErr *string) {
	if id == nil {
		return
	}
	m, err := r.queue.GetMessage(ctx, *id)
	if err != nil {
		slog.Warn("queue row not reconciled", "message_id", *id, "error", err)
		return
	}
	if m.Status.Terminal() {
		return
	}

	var sentAt *time.Time
	if outcome == reconcile.Delivered {
		now := r.now().UTC()
		sentAt = &now
	}
	r.apply(ctx, m, outcome, deliveryErr, sentAt)
}
