package consumer

import (
	"context"
	"sync"
	"time"

	"msgstream/internal/broker"
	"msgstream/pkg/metrics"
)

const poolComponent = "consumer_push"

type queuedDelivery struct {
	ctx      context.Context
	delivery *broker.Delivery
	queuedAt time.Time
}

// workerPool runs handle on a fixed number of goroutines. submit blocks
// while the queue is full, so a fast bus cannot outrun the store.
type workerPool struct {
	workers int
	queue   chan queuedDelivery
	handle  func(ctx context.Context, d *broker.Delivery)
	wg      sync.WaitGroup
}

func newWorkerPool(workers, queueSize int, handle func(ctx context.Context, d *broker.Delivery)) *workerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	return &workerPool{
		workers: workers,
		queue:   make(chan queuedDelivery, queueSize),
		handle:  handle,
	}
}

func (p *workerPool) start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *workerPool) submit(ctx context.Context, d *broker.Delivery) bool {
	select {
	case p.queue <- queuedDelivery{ctx: ctx, delivery: d, queuedAt: time.Now()}:
		metrics.SetMessageQueueSize(poolComponent, len(p.queue))
		return true
	case <-ctx.Done():
		return false
	}
}

// stop closes the queue and waits for workers to drain what was accepted.
func (p *workerPool) stop() {
	close(p.queue)
	p.wg.Wait()
	metrics.SetMessageQueueSize(poolComponent, 0)
}

func (p *workerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-p.queue:
			if !ok {
				return
			}
			metrics.ObserveMessageQueueWaitDuration(poolComponent, time.Since(item.queuedAt))
			p.handle(item.ctx, item.delivery)
		}
	}
}
