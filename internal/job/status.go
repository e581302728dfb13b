// Package job owns the lifecycle of one research job: admission against
// the quota ledger, the background worker, the heartbeat loop, the
// overall deadline, and delivery of status events and the final result.
package job

import (
	"errors"
	"fmt"
	"time"

	"parlayscout/internal/research"
)

// Phase is a job lifecycle phase.
type Phase string

const (
	PhaseWaiting    Phase = "Waiting"
	PhaseRunning    Phase = "Running"
	PhaseProcessing Phase = "Processing"
	PhaseComplete   Phase = "Complete"
	PhaseFailed     Phase = "Failed"
	PhaseTimedOut   Phase = "TimedOut"
)

// Terminal reports whether no further phase follows p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseComplete, PhaseFailed, PhaseTimedOut:
		return true
	}
	return false
}

// spinnerFrames is the visible heartbeat animation cycle.
var spinnerFrames = []string{"⏳", "🕐", "🕑", "🕒", "🕓", "🕔", "🕕", "🕖", "🕗", "🕘", "🕙", "🕚"}

// SpinnerGlyph maps a frame index onto the animation cycle.
func SpinnerGlyph(frame int) string {
	if frame < 0 {
		frame = 0
	}
	return spinnerFrames[frame%len(spinnerFrames)]
}

// Status is one advisory or terminal job-status emission. Each emission
// supersedes the previous one; the terminal emission also carries the
// result or error.
type Status struct {
	JobID           string
	Phase           Phase
	ElapsedSeconds  int
	StartedAt       time.Time
	LastHeartbeatAt time.Time
	SpinnerFrame    int

	// Result and Err are set only on the terminal emission. On a
	// validation failure Err is a *parser.SchemaError whose Salvaged
	// field carries the partial result.
	Result *research.Result
	Err    error
}

// ErrJobTimeout is the distinct terminal error for a job that exceeded
// its overall deadline, so callers can say "took too long" rather than
// "broke".
var ErrJobTimeout = errors.New("research job timed out")

// QuotaExceededError rejects a job at admission. No job record exists
// when it is returned.
type QuotaExceededError struct {
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily limit reached: %d successful runs per day", e.Limit)
}
