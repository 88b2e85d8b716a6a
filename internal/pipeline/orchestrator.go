// Package pipeline queues study-pack jobs and drives them through
// parsing, chunking, selection, summarization, and quiz verification.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/longyee25564126/QuizCraft/internal/config"
	"github.com/longyee25564126/QuizCraft/internal/embedcache"
	"github.com/longyee25564126/QuizCraft/internal/llm"
)

const cleanupInterval = 5 * time.Minute

// Orchestrator owns the job store, the bounded queue and the worker pool.
type Orchestrator struct {
	jobs   *JobStore
	queue  chan *Job
	client llm.Client
	cache  embedcache.Store
	log    *slog.Logger
	cfg    config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewOrchestrator creates the pipeline; call Start to launch workers.
func NewOrchestrator(cfg config.Config, client llm.Client, cache embedcache.Store, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		jobs:   NewJobStore(cfg.JobTTL),
		queue:  make(chan *Job, cfg.MaxQueueSize),
		client: client,
		cache:  cache,
		log:    log,
		cfg:    cfg,
	}
}

// Start launches the worker pool and the expired-job janitor.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)

	for i := range o.cfg.WorkerCount {
		o.wg.Add(1)
		go o.runWorker(ctx, i)
	}
	o.wg.Add(1)
	go o.runJanitor(ctx)
}

func (o *Orchestrator) runWorker(ctx context.Context, id int) {
	defer o.wg.Done()
	w := NewWorker(o.client, o.cache, o.cfg, o.log.With("worker", id))
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-o.queue:
			if !ok {
				return
			}
			w.Process(ctx, job)
		}
	}
}

func (o *Orchestrator) runJanitor(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.jobs.Cleanup()
		}
	}
}

// Stop cancels in-flight work and waits for the pool to drain.
// Submissions arriving after Stop are rejected rather than queued.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// Submit registers the job and queues it, failing fast when the queue is
// full or the pipeline is shutting down.
func (o *Orchestrator) Submit(job *Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		job.SetStatus(StatusFailed, "shutting_down")
		return fmt.Errorf("pipeline is shutting down")
	}
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.cfg.MaxQueueSize)
	}
}

// GetJob returns a job by ID, or nil.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns the number of jobs waiting for a worker.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}
