package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/segyhp/settlement-engine/internal/domain"
	customError "github.com/segyhp/settlement-engine/pkg/errors"
)

const checkpointKeyPrefix = "settlement:checkpoint:"

type checkpointRepository struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCheckpointRepository stores checkpoints as JSON values in Redis. A zero
// ttl keeps them until deleted.
func NewCheckpointRepository(client *redis.Client, ttl time.Duration) CheckpointRepository {
	return &checkpointRepository{redis: client, ttl: ttl}
}

func checkpointKey(linearID string) string {
	return checkpointKeyPrefix + linearID
}

func (r *checkpointRepository) Save(ctx context.Context, checkpoint domain.Checkpoint) error {
	if checkpoint.LinearID == "" {
		return fmt.Errorf("checkpoint needs a linear ID")
	}
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := r.redis.Set(ctx, checkpointKey(checkpoint.LinearID), data, r.ttl).Err(); err != nil {
		return customError.WrapCacheError(err)
	}
	return nil
}

func (r *checkpointRepository) Load(ctx context.Context, linearID string) (*domain.Checkpoint, error) {
	data, err := r.redis.Get(ctx, checkpointKey(linearID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, customError.WrapCacheError(err)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", linearID, err)
	}
	return &cp, nil
}

func (r *checkpointRepository) Delete(ctx context.Context, linearID string) error {
	if err := r.redis.Del(ctx, checkpointKey(linearID)).Err(); err != nil {
		return customError.WrapCacheError(err)
	}
	return nil
}
