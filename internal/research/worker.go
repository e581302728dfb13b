package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Completer is the narrow model-call surface the worker depends on.
// structured asks the backend for strict JSON output; implementations
// that cannot honor it should fail with a recognizable rejection so the
// worker can fall back to unstructured mode.
type Completer interface {
	Complete(ctx context.Context, system, user string, structured bool) (string, error)
}

// WorkerError wraps the last underlying error after all attempts were
// exhausted.
type WorkerError struct {
	Attempts int
	Err      error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("research request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// Worker runs one deep-research call with bounded retries.
type Worker struct {
	completer      Completer
	retryLimit     int
	initialBackoff time.Duration
	logger         *zap.Logger
}

// NewWorker creates a worker. retryLimit caps total attempts;
// initialBackoff doubles per attempt with a small per-attempt jitter.
func NewWorker(completer Completer, retryLimit int, initialBackoff time.Duration, logger *zap.Logger) *Worker {
	if retryLimit < 1 {
		retryLimit = 1
	}
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		completer:      completer,
		retryLimit:     retryLimit,
		initialBackoff: initialBackoff,
		logger:         logger,
	}
}

// Run issues the research call for req and returns the raw model text.
// Transport and SDK errors are retried with exponential backoff; a call
// that succeeds but returns unexpected content is not retried — that
// failure belongs to the parser. Run stops retrying as soon as ctx is
// canceled, even if an in-flight call could not be interrupted.
func (w *Worker) Run(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Query) == "" {
		return "", fmt.Errorf("research query must not be empty")
	}

	system := SystemRules()
	user := BuildUserPrompt(req)

	// Capability probe: ask for strict JSON first; drop to unstructured
	// for the rest of the run if the backend declares it unsupported.
	structured := true

	var lastErr error
	for attempt := 0; attempt < w.retryLimit; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if attempt > 0 {
			backoff := w.initialBackoff<<uint(attempt-1) + time.Duration(attempt)*100*time.Millisecond
			w.logger.Debug("retrying research call",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		text, err := w.completer.Complete(ctx, system, user, structured)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if structured && isStructuredOutputRejected(err) {
			w.logger.Warn("structured output unsupported, falling back to unstructured",
				zap.Error(err))
			structured = false
			// Retry immediately on the compatibility path; this was a
			// calling-convention mismatch, not a transport failure.
			text, err = w.completer.Complete(ctx, system, user, structured)
			if err == nil {
				return text, nil
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
		}

		lastErr = err
		w.logger.Warn("research attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("limit", w.retryLimit),
			zap.Error(err))
	}

	return "", &WorkerError{Attempts: w.retryLimit, Err: lastErr}
}

// isStructuredOutputRejected recognizes a backend declaring that the
// structured-output calling convention is unsupported, as opposed to a
// transport failure.
func isStructuredOutputRejected(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"response_mime_type",
		"responseMimeType",
		"response_schema",
		"responseJsonSchema",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
