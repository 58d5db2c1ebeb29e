package events

import (
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/gradebook/records-api/internal/config"
)

type ProducerOptions func(e *EventProducer)

func WithOutputTopic(topic string) ProducerOptions {
	return func(e *EventProducer) {
		if topic != "" {
			e.topic = topic
		}
	}
}

// NewWriter builds the sink selected by the configuration.
func NewWriter(cfg *config.Config) (Writer, error) {
	switch cfg.Events.Writer {
	case "stdout":
		return &StdoutWriter{}, nil
	case "redis":
		return NewRedisWriter(redis.NewClient(&redis.Options{
			Addr: cfg.Events.RedisAddr,
			DB:   cfg.Events.RedisDB,
		})), nil
	case "none", "":
		return NoopWriter{}, nil
	default:
		return nil, fmt.Errorf("unknown events writer %q", cfg.Events.Writer)
	}
}
