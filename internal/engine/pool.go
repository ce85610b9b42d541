package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Krichev/karaoke/internal/types"
)

// Performance is the tracked state of one scoring job.
type Performance struct {
	ID                string               `json:"id"`
	State             State                `json:"state"`
	ProcessingMessage string               `json:"processingMessage,omitempty"`
	Result            *types.ScoringResult `json:"result,omitempty"`
	SubmittedAt       int64                `json:"submittedAt"`
}

// PoolStatus is a snapshot of pool activity.
type PoolStatus struct {
	Status     string `json:"status"` // "idle", "running"
	Submitted  int    `json:"submitted"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	InProgress int    `json:"inProgress"`
}

// job pairs a request with its tracking record.
type job struct {
	perf     *Performance
	req      ScoreRequest
	progress types.ProgressFunc
}

// Pool runs scoring jobs on a bounded set of workers with a bounded queue.
// The orchestrator itself is synchronous; the pool provides the
// parallelism across performances.
type Pool struct {
	mu sync.Mutex

	logger       *slog.Logger
	orchestrator *Orchestrator
	workers      int
	jobs         chan job
	onResult     func(Performance)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started bool

	submittedCount  int64
	completedCount  int64
	failedCount     int64
	inProgressCount int64
}

// PoolConfig configures a scoring pool.
type PoolConfig struct {
	Workers    int               // 0 = NumCPU - 1
	QueueDepth int               // bounded pending-job queue, 0 = 16
	OnResult   func(Performance) // called when a job finishes, any state
}

// NewPool creates a pool around an orchestrator.
func NewPool(logger *slog.Logger, orchestrator *Orchestrator, cfg PoolConfig) *Pool {
	if logger == nil {
		logger = slog.Default()
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() - 1
		if workers < 1 {
			workers = 1
		}
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 16
	}

	return &Pool{
		logger:       logger.With("component", "pool"),
		orchestrator: orchestrator,
		workers:      workers,
		jobs:         make(chan job, depth),
		onResult:     cfg.OnResult,
	}
}

// Start launches the workers. It is an error to start a pool twice.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pool already started")
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			p.worker(workerID)
		}(i)
	}

	p.logger.Info("pool started", "workers", p.workers, "queueDepth", cap(p.jobs))
	return nil
}

// Submit enqueues a scoring job and returns its performance ID. It fails
// when the queue is full rather than blocking the caller.
func (p *Pool) Submit(req ScoreRequest, progress types.ProgressFunc) (string, error) {
	perf := &Performance{
		ID:          uuid.NewString(),
		State:       StatePending,
		SubmittedAt: time.Now().Unix(),
	}

	select {
	case p.jobs <- job{perf: perf, req: req, progress: progress}:
		atomic.AddInt64(&p.submittedCount, 1)
		return perf.ID, nil
	default:
		return "", fmt.Errorf("scoring queue full (%d pending)", cap(p.jobs))
	}
}

// Close stops accepting jobs, waits for in-flight work, and returns.
func (p *Pool) Close() {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return
	}

	close(p.jobs)
	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
}

// Status returns a snapshot of pool counters.
func (p *Pool) Status() PoolStatus {
	status := PoolStatus{
		Submitted:  int(atomic.LoadInt64(&p.submittedCount)),
		Completed:  int(atomic.LoadInt64(&p.completedCount)),
		Failed:     int(atomic.LoadInt64(&p.failedCount)),
		InProgress: int(atomic.LoadInt64(&p.inProgressCount)),
	}
	if status.InProgress > 0 {
		status.Status = "running"
	} else {
		status.Status = "idle"
	}
	return status
}

func (p *Pool) worker(id int) {
	for j := range p.jobs {
		select {
		case <-p.ctx.Done():
			j.perf.State = StateFailed
			j.perf.ProcessingMessage = "Processing cancelled"
			p.finish(j.perf)
			continue
		default:
		}

		atomic.AddInt64(&p.inProgressCount, 1)
		j.perf.State = StateProcessing

		result, err := p.orchestrator.Score(p.ctx, j.req, j.progress)

		atomic.AddInt64(&p.inProgressCount, -1)
		if err != nil {
			atomic.AddInt64(&p.failedCount, 1)
			j.perf.State = StateFailed
			j.perf.ProcessingMessage = FailureMessage(err)
			p.logger.Warn("scoring failed", "worker", id, "performance", j.perf.ID, "error", err)
		} else {
			atomic.AddInt64(&p.completedCount, 1)
			j.perf.State = StateCompleted
			j.perf.ProcessingMessage = "Processing completed successfully"
			j.perf.Result = &result
		}

		p.finish(j.perf)
	}
}

func (p *Pool) finish(perf *Performance) {
	if p.onResult != nil {
		p.onResult(*perf)
	}
}
