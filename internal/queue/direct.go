package queue

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var ErrPublisherStopped = errors.New("publisher is stopped")

type delivery struct {
	msg    Message
	policy RetryPolicy
}

// DirectPublisher delivers messages from an in-process worker pool. Messages
// still buffered when the process exits are lost.
type DirectPublisher struct {
	deliverer   *Deliverer
	workerCount int
	deliveries  chan delivery
	wg          sync.WaitGroup
	mu          sync.RWMutex
	stopped     bool
	log         *zap.SugaredLogger
}

func NewDirectPublisher(deliverer *Deliverer, workerCount, bufferSize int) *DirectPublisher {
	if workerCount <= 0 {
		workerCount = 1
	}
	if bufferSize < workerCount {
		bufferSize = workerCount * 2
	}
	return &DirectPublisher{
		deliverer:   deliverer,
		workerCount: workerCount,
		deliveries:  make(chan delivery, bufferSize),
		log:         zap.S().Named("direct_queue"),
	}
}

func (p *DirectPublisher) Start(ctx context.Context) {
	p.log.Infow("starting delivery workers", "worker_count", p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop refuses new messages and waits for the buffered ones to be delivered.
func (p *DirectPublisher) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.deliveries)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("delivery workers stopped")
}

// Publish blocks while the buffer is full.
func (p *DirectPublisher) Publish(ctx context.Context, path string, body any, policy RetryPolicy) error {
	msg, err := newMessage(path, body)
	if err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return &PublishError{Path: path, Err: ErrPublisherStopped}
	}

	select {
	case p.deliveries <- delivery{msg: msg, policy: policy}:
		return nil
	case <-ctx.Done():
		return &PublishError{Path: path, Err: ctx.Err()}
	}
}

func (p *DirectPublisher) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.log.With("worker_id", id)
	log.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug("worker stopping due to context cancellation")
			return
		case d, ok := <-p.deliveries:
			if !ok {
				log.Debug("worker stopping due to closed queue")
				return
			}
			if err := p.deliverer.DeliverWithRetry(ctx, d.msg, d.policy); err != nil {
				log.Errorw("delivery failed", "path", d.msg.Path, "error", err)
			}
		}
	}
}
