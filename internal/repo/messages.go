package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aasha-care/aasha-relay/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrStale is returned when a status write targets a row that already left pending.
	ErrStale = errors.New("queue row is no longer pending")
)

type QueueRepository interface {
	// FetchDue returns pending rows scheduled at or before now with retry_count below the limit,
	// oldest first.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]model.QueuedMessage, error)
	GetMessage(ctx context.Context, id uuid.UUID) (model.QueuedMessage, error)
	// UpdateStatus applies u only while the row is still pending.
	UpdateStatus(ctx context.Context, id uuid.UUID, u model.StatusUpdate) error
}

type ProfileRepository interface {
	GetProfile(ctx context.Context, id uuid.UUID) (model.ElderlyProfile, error)
	// FindEnabledByChatID only matches profiles with Telegram enabled.
	FindEnabledByChatID(ctx context.Context, chatID string) (model.ElderlyProfile, error)
}

type LogRepository interface {
	InsertLog(ctx context.Context, e *model.DeliveryLogEntry) error
	LatestSent(ctx context.Context, profileID uuid.UUID, messageType, entityType string) (model.DeliveryLogEntry, error)
	ListSent(ctx context.Context, limit, offset int) ([]model.DeliveryLogEntry, error)
}

type CallRepository interface {
	ListOrphaned(ctx context.Context) ([]model.Call, error)
	// DeleteCall removes the call and its transcripts, analysis and cost rows.
	DeleteCall(ctx context.Context, id uuid.UUID) error
}

// Store bundles every repository the relay needs.
type Store interface {
	QueueRepository
	ProfileRepository
	LogRepository
	CallRepository
}
