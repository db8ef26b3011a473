package queue

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openlabels/scanner/internal/core"
)

// Handler runs the body of one task type. Returning a TRANSIENT error
// nacks the job (retry with backoff); any other error fails it.
type Handler func(ctx context.Context, job *core.QueuedJob) error

// WorkerPool leases jobs and dispatches them to registered handlers.
type WorkerPool struct {
	queue       *Queue
	workerID    string
	concurrency int
	pollEvery   time.Duration
	heartbeat   time.Duration
	logger      *log.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	wg sync.WaitGroup
}

// NewWorkerPool builds a pool. The worker id embeds the hostname so
// leases are attributable in the queue table.
func NewWorkerPool(q *Queue, concurrency int, heartbeat time.Duration) *WorkerPool {
	host, _ := os.Hostname()
	if concurrency <= 0 {
		concurrency = 4
	}
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &WorkerPool{
		queue:       q,
		workerID:    fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		concurrency: concurrency,
		pollEvery:   time.Second,
		heartbeat:   heartbeat,
		logger:      log.New(log.Writer(), "[QUEUE] ", log.LstdFlags),
		handlers:    map[string]Handler{},
	}
}

// Register binds a handler to a task type. Panics on duplicates; wiring
// bugs should fail at startup.
func (p *WorkerPool) Register(taskType string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.handlers[taskType]; dup {
		panic("queue: duplicate handler for " + taskType)
	}
	p.handlers[taskType] = h
}

// WorkerID exposes the pool's lease owner id.
func (p *WorkerPool) WorkerID() string { return p.workerID }

// Run starts the worker loops and blocks until ctx is cancelled. Each
// loop finishes its in-flight job before returning.
func (p *WorkerPool) Run(ctx context.Context) {
	p.logger.Printf("starting %d workers (id=%s)", p.concurrency, p.workerID)
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.loop(ctx)
		}()
	}
	p.wg.Wait()
	p.logger.Printf("all workers stopped")
}

func (p *WorkerPool) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, p.workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Printf("dequeue failed: %v", err)
			sleepCtx(ctx, 5*time.Second)
			continue
		}
		if job == nil {
			sleepCtx(ctx, p.pollEvery)
			continue
		}
		p.execute(ctx, job)
	}
}

func (p *WorkerPool) execute(ctx context.Context, job *core.QueuedJob) {
	p.mu.RLock()
	handler, ok := p.handlers[job.TaskType]
	p.mu.RUnlock()
	if !ok {
		p.logger.Printf("no handler for task_type=%s, failing job %s", job.TaskType, job.ID)
		_ = p.queue.Fail(ctx, job.ID, p.workerID)
		return
	}

	// Heartbeat until the task body returns. If the lease is lost the
	// job context is cancelled so the body stops cleanly.
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		t := time.NewTicker(p.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-t.C:
				ok, err := p.queue.Heartbeat(jobCtx, job.ID, p.workerID)
				if err == nil && !ok {
					p.logger.Printf("lease lost for job %s, abandoning", job.ID)
					cancel()
					return
				}
			}
		}
	}()

	start := time.Now()
	err := runSafely(jobCtx, handler, job)
	cancel()
	<-hbDone

	switch {
	case err == nil:
		if ackErr := p.queue.Ack(ctx, job.ID, p.workerID); ackErr != nil {
			p.logger.Printf("ack failed for job %s: %v", job.ID, ackErr)
		}
	case core.IsTransient(err):
		p.logger.Printf("task %s (%s) transient failure after %s: %v", job.TaskType, job.ID, time.Since(start).Round(time.Millisecond), err)
		_ = p.queue.Nack(ctx, job, p.workerID)
	default:
		p.logger.Printf("task %s (%s) permanent failure: %v", job.TaskType, job.ID, err)
		_ = p.queue.Fail(ctx, job.ID, p.workerID)
	}
}

// runSafely converts handler panics into permanent errors so one bad
// payload cannot take the worker down.
func runSafely(ctx context.Context, h Handler, job *core.QueuedJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = core.Permanent(fmt.Sprintf("task panic: %v", r), nil)
		}
	}()
	return h(ctx, job)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
