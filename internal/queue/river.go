package queue

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"
)

const (
	DeliveryQueue = "deliveries"
	DeliveryKind  = "records_delivery"
)

type DeliveryArgs struct {
	Message
}

func (DeliveryArgs) Kind() string {
	return DeliveryKind
}

func (DeliveryArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       DeliveryQueue,
		MaxAttempts: 1,
	}
}

// DeliveryWorker performs one delivery attempt per river attempt, so river's
// attempt count is the retry bound.
type DeliveryWorker struct {
	river.WorkerDefaults[DeliveryArgs]
	deliverer *Deliverer
	timeout   time.Duration
}

func NewDeliveryWorker(deliverer *Deliverer, timeout time.Duration) *DeliveryWorker {
	return &DeliveryWorker{deliverer: deliverer, timeout: timeout}
}

func (w *DeliveryWorker) Timeout(*river.Job[DeliveryArgs]) time.Duration {
	return w.timeout
}

func (w *DeliveryWorker) Work(ctx context.Context, job *river.Job[DeliveryArgs]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := w.deliverer.Deliver(ctx, job.Args.Message)
	if err == nil {
		return nil
	}
	zap.S().Named("river_queue").Warnw("delivery attempt failed",
		"path", job.Args.Path, "attempt", job.Attempt, "max_attempts", job.MaxAttempts, "error", err)
	if IsPermanent(err) {
		return river.JobCancel(err)
	}
	return err
}

type RiverClient struct {
	*river.Client[pgx.Tx]
}

func NewRiverClient(pool *pgxpool.Pool, worker *DeliveryWorker, maxWorkers int) (*RiverClient, error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, worker)

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			DeliveryQueue: {MaxWorkers: maxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, err
	}
	return &RiverClient{Client: client}, nil
}

// RiverPublisher stores messages as river jobs in postgres.
type RiverPublisher struct {
	inserter inserter
}

type inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

func NewRiverPublisher(client inserter) *RiverPublisher {
	return &RiverPublisher{inserter: client}
}

func (p *RiverPublisher) Publish(ctx context.Context, path string, body any, policy RetryPolicy) error {
	msg, err := newMessage(path, body)
	if err != nil {
		return err
	}

	result, err := p.inserter.Insert(ctx, DeliveryArgs{Message: msg}, &river.InsertOpts{
		Queue:       DeliveryQueue,
		MaxAttempts: max(policy.Retries, 0) + 1,
	})
	if err != nil {
		return &PublishError{Path: path, Err: err}
	}
	zap.S().Named("river_queue").Debugw("message enqueued", "path", path, "job_id", result.Job.ID)
	return nil
}
