package job

import (
	"context"

	"parlayscout/internal/research"
)

// statusBuffer sizes the status channel. Advisory emissions are dropped
// when the consumer lags; the last slot is reserved so the terminal
// emission always fits.
const statusBuffer = 8

// Handle is the caller's view of one running job. Status events are
// finite and end with exactly one terminal event, after which the
// channel is closed and Result is available.
type Handle struct {
	JobID   string
	RefDate string

	status chan Status
	done   chan struct{}

	result *research.Result
	err    error
}

func newHandle(jobID, refDate string) *Handle {
	return &Handle{
		JobID:   jobID,
		RefDate: refDate,
		status:  make(chan Status, statusBuffer),
		done:    make(chan struct{}),
	}
}

// Status returns the stream of status events. The channel is closed
// after the terminal event.
func (h *Handle) Status() <-chan Status { return h.status }

// Done is closed once the job has resolved.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result blocks until the job resolves, then returns the final result
// and error. On a validation failure the error is a *parser.SchemaError
// carrying a salvage result; on timeout it wraps ErrJobTimeout.
func (h *Handle) Result(ctx context.Context) (*research.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.result, h.err
	}
}

// emit delivers an advisory status, dropping it if the consumer is slow.
// One buffer slot stays reserved for the terminal emission.
func (h *Handle) emit(s Status) {
	if len(h.status) >= cap(h.status)-1 {
		return
	}
	select {
	case h.status <- s:
	default:
	}
}

// finish records the outcome, delivers the single terminal emission, and
// closes the stream. Must be called exactly once.
func (h *Handle) finish(s Status, result *research.Result, err error) {
	h.result = result
	h.err = err
	s.Result = result
	s.Err = err
	select {
	case h.status <- s:
	default:
		// Unreachable while emit reserves the last slot; never block.
	}
	close(h.status)
	close(h.done)
}
