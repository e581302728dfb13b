package research

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptedCompleter returns canned responses in order and records every
// call it receives.
type scriptedCompleter struct {
	mu     sync.Mutex
	script []func(structured bool) (string, error)
	calls  []bool // structured flag per call
	block  bool   // block until ctx is canceled
}

func (s *scriptedCompleter) Complete(ctx context.Context, system, user string, structured bool) (string, error) {
	s.mu.Lock()
	s.calls = append(s.calls, structured)
	n := len(s.calls)
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if n > len(s.script) {
		return "", fmt.Errorf("unexpected call %d", n)
	}
	return s.script[n-1](structured)
}

func (s *scriptedCompleter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func succeed(text string) func(bool) (string, error) {
	return func(bool) (string, error) { return text, nil }
}

func fail(msg string) func(bool) (string, error) {
	return func(bool) (string, error) { return "", errors.New(msg) }
}

var testRequest = Request{
	Query: "safe favorites tonight",
	Sport: "nba",
	Legs:  3,
	Date:  "2026-08-28",
}

func TestWorkerFirstTrySuccess(t *testing.T) {
	completer := &scriptedCompleter{script: []func(bool) (string, error){succeed(`{"parlay": []}`)}}
	worker := NewWorker(completer, 3, time.Millisecond, nil)

	text, err := worker.Run(context.Background(), testRequest)
	require.NoError(t, err)
	require.Equal(t, `{"parlay": []}`, text)
	require.Equal(t, 1, completer.callCount())
	require.True(t, completer.calls[0], "first call should ask for structured output")
}

func TestWorkerRetriesTransientFailures(t *testing.T) {
	completer := &scriptedCompleter{script: []func(bool) (string, error){
		fail("503 service unavailable"),
		fail("connection reset"),
		succeed("ok"),
	}}
	worker := NewWorker(completer, 3, time.Millisecond, nil)

	text, err := worker.Run(context.Background(), testRequest)
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	require.Equal(t, 3, completer.callCount())
}

func TestWorkerExhaustsRetries(t *testing.T) {
	completer := &scriptedCompleter{script: []func(bool) (string, error){
		fail("boom 1"),
		fail("boom 2"),
		fail("boom 3"),
	}}
	worker := NewWorker(completer, 3, time.Millisecond, nil)

	_, err := worker.Run(context.Background(), testRequest)
	var workerErr *WorkerError
	require.ErrorAs(t, err, &workerErr)
	require.Equal(t, 3, workerErr.Attempts)
	require.Contains(t, workerErr.Error(), "boom 3")
	require.Equal(t, 3, completer.callCount())
}

func TestWorkerStructuredFallback(t *testing.T) {
	completer := &scriptedCompleter{script: []func(bool) (string, error){
		func(structured bool) (string, error) {
			if structured {
				return "", errors.New("400: response_mime_type is not supported with tools")
			}
			return "", errors.New("script: expected structured first call")
		},
		func(structured bool) (string, error) {
			if structured {
				return "", errors.New("script: expected unstructured retry")
			}
			return "plain text parlay", nil
		},
	}}
	worker := NewWorker(completer, 3, time.Millisecond, nil)

	text, err := worker.Run(context.Background(), testRequest)
	require.NoError(t, err)
	require.Equal(t, "plain text parlay", text)
	require.Equal(t, []bool{true, false}, completer.calls)
}

func TestWorkerStaysUnstructuredAfterFallback(t *testing.T) {
	completer := &scriptedCompleter{script: []func(bool) (string, error){
		fail("invalid argument: responseMimeType"),
		fail("503 transient"),
		succeed("ok"),
	}}
	worker := NewWorker(completer, 3, time.Millisecond, nil)

	text, err := worker.Run(context.Background(), testRequest)
	require.NoError(t, err)
	require.Equal(t, "ok", text)
	// Only the first call probes structured mode.
	require.Equal(t, []bool{true, false, false}, completer.calls)
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	completer := &scriptedCompleter{block: true}
	worker := NewWorker(completer, 5, time.Millisecond, nil)

	done := make(chan error, 1)
	go func() {
		_, err := worker.Run(ctx, testRequest)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
	require.Equal(t, 1, completer.callCount(), "no retry after cancel")
}

func TestWorkerRejectsEmptyQuery(t *testing.T) {
	worker := NewWorker(&scriptedCompleter{}, 3, time.Millisecond, nil)
	_, err := worker.Run(context.Background(), Request{Sport: "nba", Legs: 3})
	require.Error(t, err)
}

func TestIsStructuredOutputRejected(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"snake_mime", errors.New("response_mime_type not supported"), true},
		{"camel_mime", errors.New("Invalid responseMimeType with tool use"), true},
		{"snake_schema", errors.New("response_schema unsupported"), true},
		{"camel_schema", errors.New("responseJsonSchema rejected"), true},
		{"transport", errors.New("connection refused"), false},
		{"rate_limit", errors.New("429 resource exhausted"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, isStructuredOutputRejected(tt.err))
		})
	}
}
