package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sardanioss/primp/transport"
)

func connectErr() error {
	return &transport.TransportError{Op: "dial", Host: "x.com", Cause: errors.New("refused"), Category: transport.ErrConnect}
}

func TestExecute_RetriesConnectErrors(t *testing.T) {
	backoff := 20 * time.Millisecond
	calls := 0
	start := time.Now()

	result, err := Execute(context.Background(), RetryExecutor{Policy: RetryPolicy{MaxAttempts: 3, Backoff: backoff}},
		func(ctx context.Context, attempt int) (string, error) {
			calls++
			if attempt < 3 {
				return "", connectErr()
			}
			return "ok", nil
		})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if result != "ok" {
		t.Errorf("expected ok, got %q", result)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed < 2*backoff {
		t.Errorf("expected at least %v of backoff, got %v", 2*backoff, elapsed)
	}
}

func TestExecute_ReturnsLastErrorUnchanged(t *testing.T) {
	var last error
	_, err := Execute(context.Background(), RetryExecutor{Policy: RetryPolicy{MaxAttempts: 2}},
		func(ctx context.Context, attempt int) (int, error) {
			last = &transport.TransportError{Op: "read", Host: "x.com", Cause: fmt.Errorf("attempt %d", attempt), Category: transport.ErrTimeout}
			return 0, last
		})
	if err != last {
		t.Errorf("expected the last error itself, got %v", err)
	}
}

func TestExecute_NoRetryOnProtocolError(t *testing.T) {
	calls := 0
	protoErr := &transport.TransportError{Op: "read", Category: transport.ErrProtocol}
	_, err := Execute(context.Background(), RetryExecutor{Policy: RetryPolicy{MaxAttempts: 5}},
		func(ctx context.Context, attempt int) (int, error) {
			calls++
			return 0, protoErr
		})
	if calls != 1 {
		t.Errorf("expected 1 attempt, got %d", calls)
	}
	if !errors.Is(err, transport.ErrProtocol) {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}

func TestExecute_StatusIsFinal(t *testing.T) {
	calls := 0
	status, err := Execute(context.Background(), RetryExecutor{Policy: RetryPolicy{MaxAttempts: 3}},
		func(ctx context.Context, attempt int) (int, error) {
			calls++
			return 503, nil
		})
	if err != nil || status != 503 || calls != 1 {
		t.Errorf("expected one attempt returning 503, got %d after %d calls (%v)", status, calls, err)
	}
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ex := RetryExecutor{
		Policy:  RetryPolicy{MaxAttempts: 3, Backoff: time.Hour},
		OnRetry: func(int, error) { cancel() },
	}
	_, err := Execute(ctx, ex, func(ctx context.Context, attempt int) (int, error) {
		return 0, connectErr()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if !errors.Is(err, transport.ErrConnect) {
		t.Errorf("expected the last attempt's ErrConnect to be kept, got %v", err)
	}
}
