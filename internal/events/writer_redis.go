package events

import (
	"context"
	"encoding/json"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/go-redis/redis/v8"
)

// RedisWriter pushes structured cloudevents onto a redis list named after the
// topic. Consumers pop from the other end.
type RedisWriter struct {
	client redis.UniversalClient
}

func NewRedisWriter(client redis.UniversalClient) *RedisWriter {
	return &RedisWriter{client: client}
}

func (r *RedisWriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", e.ID(), err)
	}
	if err := r.client.LPush(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("failed to push event %s: %w", e.ID(), err)
	}
	return nil
}

func (r *RedisWriter) Close(_ context.Context) error {
	return r.client.Close()
}
