package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DeliveryCache remembers the workflow's message id for recently sent queue rows.
type DeliveryCache interface {
	StoreSent(ctx context.Context, messageID uuid.UUID, remoteMessageID string, sentAt time.Time) error
	LookupSent(ctx context.Context, messageID uuid.UUID) (remoteMessageID string, sentAt time.Time, ok bool, err error)
}

// Locker guards a named section across processes.
type Locker interface {
	// TryLock returns a release func when the lock was taken, or ok=false when another holder has it.
	TryLock(ctx context.Context, name string) (release func(context.Context) error, ok bool, err error)
}
