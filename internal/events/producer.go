package events

import (
	"context"
	"encoding/json"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	JobCreatedKind     string = "records.ingestion.job.created"
	JobProcessingKind  string = "records.ingestion.job.processing"
	JobCompletedKind   string = "records.ingestion.job.completed"
	JobFailedKind      string = "records.ingestion.job.failed"
	JobFileDeletedKind string = "records.ingestion.job.file_deleted"
	defaultTopic       string = "records.ingestion.events"
	eventSource        string = "records-api"
)

// Writer is implemented by the event sinks.
type Writer interface {
	Write(ctx context.Context, topic string, e cloudevents.Event) error
	Close(ctx context.Context) error
}

// EventProducer queues events in memory and hands them to the writer from its
// own goroutine, so a slow sink never blocks the caller.
type EventProducer struct {
	buffer *buffer
	wakeCh chan struct{}
	doneCh chan struct{}
	exitCh chan struct{}
	writer Writer
	topic  string
}

func NewEventProducer(w Writer, opts ...ProducerOptions) *EventProducer {
	ep := &EventProducer{
		buffer: newBuffer(),
		wakeCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
		exitCh: make(chan struct{}),
		writer: w,
		topic:  defaultTopic,
	}

	for _, o := range opts {
		o(ep)
	}

	go ep.run()
	return ep
}

// Write queues one event of the given kind with payload encoded as JSON.
func (ep *EventProducer) Write(_ context.Context, kind string, payload any) error {
	d, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if err := ep.buffer.PushBack(&message{Kind: kind, Data: d}); err != nil {
		return err
	}

	select {
	case ep.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// Close flushes the queued events and closes the writer.
func (ep *EventProducer) Close() error {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(closeCtx)
	g.Go(func() error {
		close(ep.doneCh)
		select {
		case <-ep.exitCh:
		case <-ctx.Done():
		}
		return ep.writer.Close(ctx)
	})
	if err := g.Wait(); err != nil {
		zap.S().Named("event_producer").Errorf("event producer closed with error: %s", err)
		return err
	}

	zap.S().Named("event_producer").Info("event producer closed")
	return nil
}

func (ep *EventProducer) run() {
	defer close(ep.exitCh)
	for {
		for msg := ep.buffer.Pop(); msg != nil; msg = ep.buffer.Pop() {
			ep.send(msg)
		}

		select {
		case <-ep.wakeCh:
		case <-ep.doneCh:
			for msg := ep.buffer.Pop(); msg != nil; msg = ep.buffer.Pop() {
				ep.send(msg)
			}
			return
		}
	}
}

func (ep *EventProducer) send(msg *message) {
	e := cloudevents.NewEvent()
	e.SetID(uuid.NewString())
	e.SetSource(eventSource)
	e.SetType(msg.Kind)
	e.SetTime(time.Now())
	_ = e.SetData(*cloudevents.StringOfApplicationJSON(), msg.Data)

	if err := ep.writer.Write(context.TODO(), ep.topic, e); err != nil {
		zap.S().Named("event_producer").Errorw("failed to send event", "error", err, "event", e)
	}
}
