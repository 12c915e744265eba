package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aasha-care/aasha-relay/internal/repo"
)

type CleanupResult struct {
	TotalOrphaned int      `json:"total_orphaned"`
	Deleted       int      `json:"deleted"`
	ErrorCount    int      `json:"error_count"`
	Errors        []string `json:"errors"`
}

// CallCleaner removes calls that were never attached to an elderly profile.
type CallCleaner struct {
	calls repo.CallRepository
}

func NewCallCleaner(calls repo.CallRepository) *CallCleaner {
	return &CallCleaner{calls: calls}
}

func (c *CallCleaner) Cleanup(ctx context.Context) (CleanupResult, error) {
	res := CleanupResult{Errors: []string{}}

	orphans, err := c.calls.ListOrphaned(ctx)
	if err != nil {
		return res, fmt.Errorf("list orphaned calls: %w", err)
	}
	res.TotalOrphaned = len(orphans)

	for _, call := range orphans {
		if err := c.calls.DeleteCall(ctx, call.ID); err != nil {
			res.ErrorCount++
			res.Errors = append(res.Errors, fmt.Sprintf("Failed to delete call %s: %v", call.ID, err))
			continue
		}
		res.Deleted++
	}

	slog.Info("orphaned call cleanup completed", "total", res.TotalOrphaned, "deleted", res.Deleted, "errors", res.ErrorCount)
	return res, nil
}
