package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	eventsChannelPrefix = "events:"
	cancelChannel       = "cancel"
)

// RedisEventBus implements EventBus with Redis pub/sub.
type RedisEventBus struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisEventBus creates a new Redis-backed event bus.
func NewRedisEventBus(client *redis.Client, logger *slog.Logger) *RedisEventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisEventBus{client: client, logger: logger}
}

// Publish sends msg to the subscribers of msg.JobID.
func (b *RedisEventBus) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := b.client.Publish(ctx, eventsChannel(msg.JobID), data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe delivers the messages published for jobID.
func (b *RedisEventBus) Subscribe(ctx context.Context, jobID uuid.UUID) (<-chan Message, func() error, error) {
	ps, err := b.subscribe(ctx, eventsChannel(jobID))
	if err != nil {
		return nil, nil, err
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		for raw := range ps.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				b.logger.Warn("dropping malformed progress message",
					slog.String("job_id", jobID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, closeOnDone(ctx, ps), nil
}

// PublishCancel requests cancellation of jobID on whichever worker runs it.
func (b *RedisEventBus) PublishCancel(ctx context.Context, jobID uuid.UUID) error {
	if err := b.client.Publish(ctx, cancelChannel, jobID.String()).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// SubscribeCancel delivers cancelled job IDs.
func (b *RedisEventBus) SubscribeCancel(ctx context.Context) (<-chan uuid.UUID, func() error, error) {
	ps, err := b.subscribe(ctx, cancelChannel)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan uuid.UUID)
	go func() {
		defer close(out)
		for raw := range ps.Channel() {
			id, err := uuid.Parse(raw.Payload)
			if err != nil {
				b.logger.Warn("dropping malformed cancel request", slog.String("payload", raw.Payload))
				continue
			}
			select {
			case out <- id:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, closeOnDone(ctx, ps), nil
}

// subscribe waits for the subscription to be confirmed so no message
// published afterwards is missed.
func (b *RedisEventBus) subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	ps := b.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	return ps, nil
}

// closeOnDone closes ps when ctx ends and returns an explicit close function.
func closeOnDone(ctx context.Context, ps *redis.PubSub) func() error {
	stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
	return func() error {
		if !stop() {
			return nil
		}
		return ps.Close()
	}
}

func eventsChannel(jobID uuid.UUID) string {
	return eventsChannelPrefix + jobID.String()
}
