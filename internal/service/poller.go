package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aasha-care/aasha-relay/internal/model"
	"github.com/aasha-care/aasha-relay/internal/repo"
)

type Poller struct {
	queue     repo.QueueRepository
	batchSize int
	now       func() time.Time
}

// NewPoller clamps batchSize to 1..model.MaxBatchSize.
func NewPoller(queue repo.QueueRepository, batchSize int) *Poller {
	if batchSize <= 0 || batchSize > model.MaxBatchSize {
		batchSize = model.MaxBatchSize
	}
	return &Poller{
		queue:     queue,
		batchSize: batchSize,
		now:       time.Now,
	}
}

func (p *Poller) FetchDue(ctx context.Context) ([]model.QueuedMessage, error) {
	msgs, err := p.queue.FetchDue(ctx, p.now().UTC(), p.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending messages: %w", err)
	}
	return msgs, nil
}
