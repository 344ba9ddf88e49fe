package statusstore

import (
	"context"
	"sync"

	"github.com/gdugdh24/gowith-backend/internal/domain"
)

// MemoryStore publishes immutable snapshots through a sync.Map, so readers
// never wait on the run that is writing.
type MemoryStore struct {
	runs sync.Map // int64 -> *domain.PipelineRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(ctx context.Context, run domain.PipelineRun) error {
	next := &run
	for {
		prev, loaded := s.runs.LoadOrStore(run.RequestID, next)
		if !loaded {
			return nil
		}
		current := prev.(*domain.PipelineRun)
		if !supersedes(*current, run) {
			return nil
		}
		if s.runs.CompareAndSwap(run.RequestID, current, next) {
			return nil
		}
	}
}

func (s *MemoryStore) Get(ctx context.Context, requestID int64) (domain.PipelineRun, bool, error) {
	v, ok := s.runs.Load(requestID)
	if !ok {
		return domain.PipelineRun{}, false, nil
	}
	return *v.(*domain.PipelineRun), true, nil
}
