package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aasha-care/aasha-relay/internal/cache"
	"github.com/aasha-care/aasha-relay/internal/reconcile"
)

const runLockName = "queue-run"

var ErrRunInProgress = errors.New("queue run already in progress")

type Results struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Processor runs one queue invocation at a time. Concurrent callers in the same
// process share the in-flight run; an optional Locker extends that across processes.
type Processor struct {
	poller *Poller
	relay  *Relay
	locker cache.Locker

	runs singleflight.Group
}

func NewProcessor(p *Poller, r *Relay) *Processor {
	return &Processor{poller: p, relay: r}
}

func (p *Processor) WithLocker(l cache.Locker) *Processor {
	p.locker = l
	return p
}

// Run processes one batch. Once started the batch runs to completion even if ctx is
// canceled, so a delivered message is never left recorded as a failure.
func (p *Processor) Run(ctx context.Context) (Results, error) {
	v, err, shared := p.runs.Do(runLockName, func() (any, error) {
		return p.runOnce(context.WithoutCancel(ctx))
	})
	if shared {
		slog.Debug("joined in-flight queue run")
	}
	res, _ := v.(Results)
	return res, err
}

func (p *Processor) runOnce(ctx context.Context) (Results, error) {
	var res Results

	if p.locker != nil {
		release, ok, err := p.locker.TryLock(ctx, runLockName)
		if err != nil {
			return res, fmt.Errorf("acquire run lock: %w", err)
		}
		if !ok {
			return res, ErrRunInProgress
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				slog.Warn("failed to release run lock", "error", err)
			}
		}()
	}

	start := time.Now()
	msgs, err := p.poller.FetchDue(ctx)
	if err != nil {
		return res, err
	}

	for _, m := range msgs {
		res.Processed++
		switch p.relay.Deliver(ctx, m) {
		case reconcile.Delivered:
			res.Sent++
		case reconcile.DeliveryFailed:
			res.Failed++
		case reconcile.ChannelUnavailable:
			res.Skipped++
		}
	}

	if res.Processed > 0 {
		slog.Info("queue run completed",
			"processed", res.Processed,
			"sent", res.Sent,
			"failed", res.Failed,
			"skipped", res.Skipped,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return res, nil
}
