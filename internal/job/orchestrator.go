package job

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"parlayscout/internal/parser"
	"parlayscout/internal/quota"
	"parlayscout/internal/research"
)

// Ledger is the quota surface the orchestrator needs.
type Ledger interface {
	Remaining(ctx context.Context, userID string) (int, string, error)
	Reserve(ctx context.Context, userID, jobID string) (string, error)
	Finalize(ctx context.Context, jobID string, outcome quota.Outcome) error
	DailyMax() int
}

// Runner produces raw research text for a request.
type Runner interface {
	Run(ctx context.Context, req research.Request) (string, error)
}

// Orchestrator admits and runs research jobs. Each job owns one worker
// goroutine and one heartbeat goroutine; the ledger is the only state
// shared across jobs.
type Orchestrator struct {
	ledger    Ledger
	worker    Runner
	timeout   time.Duration
	heartbeat time.Duration
	logger    *zap.Logger
	newJobID  func() string
}

// Options configures an Orchestrator.
type Options struct {
	// Timeout is the hard overall budget per job. Default 14m.
	Timeout time.Duration

	// HeartbeatInterval is the Running emission cadence. Default 120s.
	HeartbeatInterval time.Duration

	Logger *zap.Logger
}

// New creates an orchestrator around a ledger and a worker.
func New(ledger Ledger, worker Runner, opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = 14 * time.Minute
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 120 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		ledger:    ledger,
		worker:    worker,
		timeout:   opts.Timeout,
		heartbeat: opts.HeartbeatInterval,
		logger:    opts.Logger,
		newJobID:  defaultJobID,
	}
}

// defaultJobID returns a short uppercase token, e.g. "9F2C41AB".
func defaultJobID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// Start admits and launches one job. It rejects with *QuotaExceededError
// before creating any record when the user has no successful runs left
// today.
//
// Admission is check-then-reserve without a lock: two near-simultaneous
// requests from the same user can both pass the check. This narrow
// double-admission window is accepted behavior — the quota is a
// best-effort daily cap, and serializing admission would change latency
// for the common case.
func (o *Orchestrator) Start(ctx context.Context, userID string, req research.Request) (*Handle, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if req.Legs < 2 || req.Legs > 6 {
		return nil, fmt.Errorf("legs must be between 2 and 6, got %d", req.Legs)
	}

	remaining, _, err := o.ledger.Remaining(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check quota: %w", err)
	}
	if remaining <= 0 {
		return nil, &QuotaExceededError{Limit: o.ledger.DailyMax()}
	}

	jobID := o.newJobID()
	refDate, err := o.ledger.Reserve(ctx, userID, jobID)
	if err != nil {
		return nil, fmt.Errorf("reserve quota: %w", err)
	}

	o.logger.Info("research job started",
		zap.String("job_id", jobID),
		zap.String("user_id", userID),
		zap.String("sport", req.Sport),
		zap.Int("legs", req.Legs),
		zap.String("date", req.Date))

	h := newHandle(jobID, refDate)
	started := time.Now()
	h.emit(Status{
		JobID:           jobID,
		Phase:           PhaseWaiting,
		StartedAt:       started,
		LastHeartbeatAt: started,
	})

	go o.run(ctx, h, req, started)
	return h, nil
}

// run drives one job to its terminal state. It is the only goroutine
// that emits the terminal status.
func (o *Orchestrator) run(ctx context.Context, h *Handle, req research.Request, started time.Time) {
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	type outcome struct {
		raw string
		err error
	}
	workerDone := make(chan outcome, 1)
	go func() {
		defer func() {
			// Nothing above the orchestrator is expected to crash the
			// process: a worker panic becomes a Failed terminal status.
			if r := recover(); r != nil {
				workerDone <- outcome{err: fmt.Errorf("worker panic: %v", r)}
			}
		}()
		raw, err := o.worker.Run(workerCtx, req)
		workerDone <- outcome{raw: raw, err: err}
	}()

	// The spinner frame advances monotonically across every emission,
	// shared between the heartbeat loop and the resolution path.
	var frame atomic.Int64
	nextFrame := func() int { return int(frame.Add(1)) }

	// Heartbeat loop: advisory Running emissions until the worker
	// resolves. stopHeartbeat returns only after the loop has exited,
	// so no tick can fire after the terminal emission.
	hbStop := make(chan struct{})
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		ticker := time.NewTicker(o.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-hbStop:
				return
			case <-ticker.C:
				h.emit(o.status(h.JobID, PhaseRunning, started, nextFrame()))
			}
		}
	}()
	stopHeartbeat := func() {
		close(hbStop)
		<-hbDone
	}

	deadline := time.NewTimer(o.timeout)
	defer deadline.Stop()

	select {
	case out := <-workerDone:
		stopHeartbeat()
		o.resolve(h, out.raw, out.err, started, nextFrame)

	case <-deadline.C:
		cancelWorker()
		stopHeartbeat()
		o.logger.Warn("research job timed out",
			zap.String("job_id", h.JobID),
			zap.Duration("timeout", o.timeout))
		o.finalize(h.JobID, quota.OutcomeFailed)
		h.finish(o.status(h.JobID, PhaseTimedOut, started, nextFrame()), nil,
			fmt.Errorf("%w after %s", ErrJobTimeout, o.timeout))

	case <-ctx.Done():
		cancelWorker()
		stopHeartbeat()
		o.finalize(h.JobID, quota.OutcomeFailed)
		h.finish(o.status(h.JobID, PhaseFailed, started, nextFrame()), nil, ctx.Err())
	}
}

// resolve handles a worker that returned: parse, validate, finalize.
func (o *Orchestrator) resolve(h *Handle, raw string, workerErr error, started time.Time, nextFrame func() int) {
	if workerErr != nil {
		o.logger.Warn("research job failed",
			zap.String("job_id", h.JobID),
			zap.Error(workerErr))
		o.finalize(h.JobID, quota.OutcomeFailed)
		h.finish(o.status(h.JobID, PhaseFailed, started, nextFrame()), nil, workerErr)
		return
	}

	h.emit(o.status(h.JobID, PhaseProcessing, started, nextFrame()))

	result, err := parser.Parse(raw)
	if err != nil {
		// A salvage result with legs still finalizes as failed: only
		// strict validation success counts toward quota.
		o.logger.Warn("research output rejected",
			zap.String("job_id", h.JobID),
			zap.Error(err))
		o.finalize(h.JobID, quota.OutcomeFailed)
		h.finish(o.status(h.JobID, PhaseFailed, started, nextFrame()), nil, err)
		return
	}

	o.finalize(h.JobID, quota.OutcomeSuccess)
	o.logger.Info("research job complete",
		zap.String("job_id", h.JobID),
		zap.Int("legs_returned", len(result.Legs)),
		zap.Int("elapsed_s", int(time.Since(started)/time.Second)))
	h.finish(o.status(h.JobID, PhaseComplete, started, nextFrame()), result, nil)
}

// finalize updates the ledger, logging (not propagating) any failure so
// the terminal emission still reaches the caller. A conflict is an
// internal-consistency error and is logged at error level.
func (o *Orchestrator) finalize(jobID string, outcome quota.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.ledger.Finalize(ctx, jobID, outcome); err != nil {
		o.logger.Error("ledger finalize failed",
			zap.String("job_id", jobID),
			zap.String("outcome", string(outcome)),
			zap.Error(err))
	}
}

func (o *Orchestrator) status(jobID string, phase Phase, started time.Time, frame int) Status {
	now := time.Now()
	return Status{
		JobID:           jobID,
		Phase:           phase,
		ElapsedSeconds:  int(now.Sub(started) / time.Second),
		StartedAt:       started,
		LastHeartbeatAt: now,
		SpinnerFrame:    frame,
	}
}
