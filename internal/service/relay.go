package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aasha-care/aasha-relay/internal/cache"
	"github.com/aasha-care/aasha-relay/internal/client"
	"github.com/aasha-care/aasha-relay/internal/model"
	"github.com/aasha-care/aasha-relay/internal/reconcile"
	"github.com/aasha-care/aasha-relay/internal/repo"
)

type SendClient interface {
	Relay(ctx context.Context, r client.RelayRequest) (client.Receipt, error)
}

// Relay delivers queue rows to the send workflow and records the outcome.
type Relay struct {
	queue    repo.QueueRepository
	profiles repo.ProfileRepository
	logs     repo.LogRepository
	client   SendClient

	cache cache.DeliveryCache
	now   func() time.Time
}

func NewRelay(queue repo.QueueRepository, profiles repo.ProfileRepository, logs repo.LogRepository, c SendClient) *Relay {
	return &Relay{
		queue:    queue,
		profiles: profiles,
		logs:     logs,
		client:   c,
		now:      time.Now,
	}
}

// WithCache records sent rows in c so a lost status write does not cause a second relay.
func (r *Relay) WithCache(c cache.DeliveryCache) *Relay {
	r.cache = c
	return r
}

// Deliver relays one pending message. Per-message failures are absorbed into the
// row's retry counter and never returned.
func (r *Relay) Deliver(ctx context.Context, m model.QueuedMessage) reconcile.Outcome {
	if r.alreadyDelivered(ctx, m) {
		return reconcile.Delivered
	}

	profile, err := r.profiles.GetProfile(ctx, m.ElderlyProfileID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		r.apply(ctx, m, reconcile.ChannelUnavailable, nil, nil)
		return reconcile.ChannelUnavailable
	case err != nil:
		r.apply(ctx, m, reconcile.DeliveryFailed, errText(err), nil)
		return reconcile.DeliveryFailed
	}

	ch := profile.Channel()
	if !ch.Usable() {
		slog.Info("channel unavailable, cancelling message", "message_id", m.ID, "profile_id", m.ElderlyProfileID)
		r.apply(ctx, m, reconcile.ChannelUnavailable, nil, nil)
		return reconcile.ChannelUnavailable
	}

	receipt, err := r.client.Relay(ctx, client.RelayRequest{
		ChatID:           ch.ChatID,
		Message:          m.MessageContent,
		ElderlyProfileID: m.ElderlyProfileID,
		MessageType:      m.MessageType,
		FirstName:        ch.FirstName,
	})
	if err != nil {
		slog.Warn("relay failed", "message_id", m.ID, "retry_count", m.RetryCount, "error", err)
		r.apply(ctx, m, reconcile.DeliveryFailed, errText(err), nil)
		return reconcile.DeliveryFailed
	}

	sentAt := r.now().UTC()
	r.writeLog(ctx, &model.DeliveryLogEntry{
		ElderlyProfileID:  m.ElderlyProfileID,
		Direction:         model.DirectionSent,
		MessageType:       m.MessageType,
		MessageText:       m.MessageContent,
		RelatedEntityType: m.RelatedEntityType,
		RelatedEntityID:   m.RelatedEntityID,
		RemoteMessageID:   optional(receipt.RemoteMessageID),
		SentAt:            sentAt,
		DeliveredAt:       &sentAt,
		Metadata:          m.Metadata,
	})
	if r.cache != nil {
		if err := r.cache.StoreSent(ctx, m.ID, receipt.RemoteMessageID, sentAt); err != nil {
			slog.Warn("failed to cache delivery", "message_id", m.ID, "error", err)
		}
	}
	r.apply(ctx, m, reconcile.Delivered, nil, &sentAt)
	return reconcile.Delivered
}

// alreadyDelivered reports whether m was relayed by an earlier pass whose status write
// was lost. Such rows are marked sent without a second relay.
func (r *Relay) alreadyDelivered(ctx context.Context, m model.QueuedMessage) bool {
	if r.cache == nil {
		return false
	}
	_, sentAt, ok, err := r.cache.LookupSent(ctx, m.ID)
	if err != nil {
		slog.Warn("delivery cache lookup failed", "message_id", m.ID, "error", err)
		return false
	}
	if !ok {
		return false
	}
	slog.Info("message already relayed, recording sent status", "message_id", m.ID)
	r.apply(ctx, m, reconcile.Delivered, nil, &sentAt)
	return true
}

// apply runs the reconciler and persists its transition. Write failures are logged only:
// the row stays pending and may be relayed again on a later pass.
func (r *Relay) apply(ctx context.Context, m model.QueuedMessage, outcome reconcile.Outcome, deliveryErr *string, sentAt *time.Time) {
	tr, err := reconcile.Next(m.Status, m.RetryCount, outcome)
	if err != nil {
		slog.Error("invalid queue transition", "message_id", m.ID, "status", m.Status, "outcome", outcome.String(), "error", err)
		return
	}

	err = r.queue.UpdateStatus(ctx, m.ID, model.StatusUpdate{
		Status:        tr.Status,
		RetryCount:    tr.RetryCount,
		DeliveryError: deliveryErr,
		SentAt:        sentAt,
	})
	if err != nil {
		slog.Error("failed to update queue status", "message_id", m.ID, "status", tr.Status, "error", err)
	}
}

func (r *Relay) writeLog(ctx context.Context, e *model.DeliveryLogEntry) {
	if err := r.logs.InsertLog(ctx, e); err != nil {
		slog.Error("failed to write delivery log", "profile_id", e.ElderlyProfileID, "type", e.MessageType, "error", err)
	}
}

func errText(err error) *string {
	s := err.Error()
	return &s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
