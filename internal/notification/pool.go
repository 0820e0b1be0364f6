package notification

import (
	"context"
	"log/slog"
	"sync"
)

type worker struct {
	id         int
	workerPool chan chan *OutboxMessage
	jobChannel chan *OutboxMessage
	logger     *slog.Logger
}

func newWorker(id int, workerPool chan chan *OutboxMessage, logger *slog.Logger) *worker {
	return &worker{
		id:         id,
		workerPool: workerPool,
		jobChannel: make(chan *OutboxMessage),
		logger:     logger,
	}
}

// start registers the worker's job channel with the pool each time it becomes idle.
func (w *worker) start(ctx context.Context, wg *sync.WaitGroup, process func(context.Context, *OutboxMessage), done func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			select {
			case w.workerPool <- w.jobChannel:
			case <-ctx.Done():
				w.logger.Debug("notification worker shutting down", "worker_id", w.id)
				return
			}

			select {
			case job := <-w.jobChannel:
				w.logger.Debug("notification worker processing intent", "worker_id", w.id, "outbox_id", job.ID)
				process(ctx, job)
				done()
			case <-ctx.Done():
				w.logger.Debug("notification worker shutting down", "worker_id", w.id)
				return
			}
		}
	}()
}

// pool fans a batch of claimed intents out over a fixed set of workers.
type pool struct {
	workerPool chan chan *OutboxMessage
	pending    sync.WaitGroup
	workers    sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *slog.Logger
}

func startPool(size int, process func(context.Context, *OutboxMessage), logger *slog.Logger) *pool {
	if size <= 0 {
		size = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &pool{
		workerPool: make(chan chan *OutboxMessage, size),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}
	for i := 0; i < size; i++ {
		newWorker(i, p.workerPool, logger).start(ctx, &p.workers, process, p.pending.Done)
	}
	logger.Info("notification worker pool started", "workers", size)
	return p
}

// submit blocks until a worker is free or ctx ends. It returns false when the job was not
// handed to a worker.
func (p *pool) submit(ctx context.Context, job *OutboxMessage) bool {
	select {
	case jobChannel := <-p.workerPool:
		p.pending.Add(1)
		select {
		case jobChannel <- job:
			return true
		case <-p.ctx.Done():
			p.pending.Done()
			return false
		}
	case <-ctx.Done():
		return false
	case <-p.ctx.Done():
		return false
	}
}

// drain waits for every submitted job to finish.
func (p *pool) drain() {
	p.pending.Wait()
}

func (p *pool) stop() {
	p.cancel()
	p.workers.Wait()
	p.logger.Info("notification worker pool stopped")
}
