// Package statusstore keeps the last known PipelineRun per buddy request so
// any caller can poll progress while a run is executing elsewhere.
package statusstore

import (
	"context"

	"github.com/gdugdh24/gowith-backend/internal/domain"
)

type Store interface {
	// Save records run unless a newer snapshot of the same run is already stored.
	Save(ctx context.Context, run domain.PipelineRun) error
	// Get returns the latest snapshot and whether one exists.
	Get(ctx context.Context, requestID int64) (domain.PipelineRun, bool, error)
}

// supersedes reports whether next should replace current. Snapshots of the
// same run only move forward; a different run replaces the record when it
// started no earlier than the stored one.
func supersedes(current, next domain.PipelineRun) bool {
	if current.RunID == next.RunID {
		return next.Version > current.Version
	}
	return !next.StartedAt.Before(current.StartedAt)
}
