package statusstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gdugdh24/gowith-backend/internal/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "gowith:pipeline:run:"

// maxSaveAttempts bounds optimistic retries when writers race on one key.
const maxSaveAttempts = 5

// RedisStore shares run status between processes. Records expire after ttl.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func key(requestID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, requestID)
}

func (s *RedisStore) Save(ctx context.Context, run domain.PipelineRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode pipeline run: %w", err)
	}
	k := key(run.RequestID)

	txf := func(tx *redis.Tx) error {
		current, found, err := decode(tx.Get(ctx, k))
		if err != nil {
			return err
		}
		if found && !supersedes(current, run) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, payload, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxSaveAttempts; i++ {
		err := s.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to save pipeline run: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to save pipeline run: %w", redis.TxFailedErr)
}

func (s *RedisStore) Get(ctx context.Context, requestID int64) (domain.PipelineRun, bool, error) {
	run, found, err := decode(s.client.Get(ctx, key(requestID)))
	if err != nil {
		return domain.PipelineRun{}, false, fmt.Errorf("failed to load pipeline run: %w", err)
	}
	return run, found, nil
}

func decode(cmd *redis.StringCmd) (domain.PipelineRun, bool, error) {
	raw, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PipelineRun{}, false, nil
	}
	if err != nil {
		return domain.PipelineRun{}, false, err
	}
	var run domain.PipelineRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return domain.PipelineRun{}, false, err
	}
	return run, true, nil
}
