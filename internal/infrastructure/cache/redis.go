package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
)

const (
	// progressKeyPrefix is the prefix for progress snapshot keys in Redis.
	progressKeyPrefix = "progress:"
)

// snapshotJSON is the JSON representation of a ProgressSnapshot for caching.
type snapshotJSON struct {
	JobID     string  `json:"job_id"`
	Status    string  `json:"status"`
	Stage     string  `json:"stage"`
	Progress  float64 `json:"progress"`
	Rendition string  `json:"rendition,omitempty"`
	Message   string  `json:"message,omitempty"`
	UpdatedAt string  `json:"updated_at"`
}

// RedisProgressCache implements ProgressCache using Redis as the backing store.
type RedisProgressCache struct {
	client *redis.Client
}

// NewRedisProgressCache creates a new Redis-backed progress cache.
func NewRedisProgressCache(client *redis.Client) *RedisProgressCache {
	return &RedisProgressCache{
		client: client,
	}
}

// Get retrieves a snapshot from Redis.
// Returns nil, nil on cache miss.
func (c *RedisProgressCache) Get(ctx context.Context, jobID uuid.UUID) (*ProgressSnapshot, error) {
	data, err := c.client.Get(ctx, c.buildKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	snapshot, err := c.deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("deserialize snapshot: %w", err)
	}

	return snapshot, nil
}

// Set stores a snapshot with the specified TTL.
func (c *RedisProgressCache) Set(ctx context.Context, snapshot *ProgressSnapshot, ttl time.Duration) error {
	data, err := c.serialize(snapshot)
	if err != nil {
		return fmt.Errorf("serialize snapshot: %w", err)
	}

	if err := c.client.Set(ctx, c.buildKey(snapshot.JobID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a snapshot from Redis.
func (c *RedisProgressCache) Delete(ctx context.Context, jobID uuid.UUID) error {
	if err := c.client.Del(ctx, c.buildKey(jobID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

func (c *RedisProgressCache) buildKey(jobID uuid.UUID) string {
	return progressKeyPrefix + jobID.String()
}

func (c *RedisProgressCache) serialize(s *ProgressSnapshot) ([]byte, error) {
	v := snapshotJSON{
		JobID:     s.JobID.String(),
		Status:    string(s.Status),
		Stage:     s.Stage,
		Progress:  s.Progress,
		Rendition: s.Rendition,
		Message:   s.Message,
		UpdatedAt: s.UpdatedAt.Format(time.RFC3339Nano),
	}
	return json.Marshal(v)
}

func (c *RedisProgressCache) deserialize(data []byte) (*ProgressSnapshot, error) {
	var v snapshotJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(v.JobID)
	if err != nil {
		return nil, fmt.Errorf("parse job ID: %w", err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, v.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &ProgressSnapshot{
		JobID:     id,
		Status:    model.Status(v.Status),
		Stage:     v.Stage,
		Progress:  v.Progress,
		Rendition: v.Rendition,
		Message:   v.Message,
		UpdatedAt: updatedAt,
	}, nil
}
