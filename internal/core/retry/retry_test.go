package retry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
)

func testExecutor() *Executor {
	return NewExecutor(Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}, nil)
}

func TestExecuteSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := testExecutor().Execute(context.Background(), "write_companies", nil,
		func(ctx context.Context) error {
			calls++
			return nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestExecuteRetriesExpectedTransient(t *testing.T) {
	// A destination that is not queryable on the first attempt must succeed on
	// a later one with no intervention.
	calls := 0
	err := testExecutor().Execute(context.Background(), "verify_companies", nil,
		func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return ErrNotVisibleYet
			}
			return nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected exactly 2 calls, got %d", calls)
	}
}

func TestExecutePermanentAbortsImmediately(t *testing.T) {
	permanent := &pq.Error{Code: "42703"} // undefined_column
	calls := 0
	err := testExecutor().Execute(context.Background(), "write_deals", nil,
		func(ctx context.Context) error {
			calls++
			return permanent
		})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent failure should not retry, got %d calls", calls)
	}
	if !errors.Is(err, permanent) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
	if _, ok := IsExhausted(err); ok {
		t.Error("permanent failure should not be reported as exhaustion")
	}
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	cause := errors.New("connection reset by peer")
	calls := 0
	err := testExecutor().Execute(context.Background(), "write_owners", nil,
		func(ctx context.Context) error {
			calls++
			return cause
		})
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	ex, ok := IsExhausted(err)
	if !ok {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if ex.Operation != "write_owners" || ex.Attempts != 3 {
		t.Errorf("unexpected exhaustion details: %+v", ex)
	}
	if ex.Last != UnexpectedTransient {
		t.Errorf("expected unexpected_transient, got %s", ex.Last)
	}
	if !errors.Is(err, cause) {
		t.Errorf("exhaustion should unwrap to cause, got %v", err)
	}
}

func TestExecuteLogsEveryFailedAttempt(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	exec := NewExecutor(Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}, log)

	_ = exec.Execute(context.Background(), "write_owners", nil,
		func(ctx context.Context) error {
			return errors.New("connection reset by peer")
		})

	// The last failed attempt must show up in the logs, not just the retried
	// ones.
	out := buf.String()
	for attempt := 1; attempt <= 3; attempt++ {
		marker := fmt.Sprintf("attempt=%d", attempt)
		if !strings.Contains(out, marker) {
			t.Errorf("missing log line for %s:\n%s", marker, out)
		}
	}
}

func TestExecuteStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := NewExecutor(Policy{
		MaxAttempts:  5,
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
	}, nil).Execute(ctx, "write_deals", nil,
		func(ctx context.Context) error {
			calls++
			cancel()
			return errors.New("timeout")
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
}

func TestClassifyWarehouseError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"not visible yet", ErrNotVisibleYet, ExpectedTransient},
		{"undefined table", &pq.Error{Code: "42P01"}, ExpectedTransient},
		{"does not exist text", errors.New("relation \"crm_deals\" does not exist"), ExpectedTransient},
		{"streaming buffer", errors.New("rows still in streaming buffer"), ExpectedTransient},
		{"bad auth", &pq.Error{Code: "28000"}, Permanent},
		{"undefined column", &pq.Error{Code: "42703"}, Permanent},
		{"constraint violation", &pq.Error{Code: "23505"}, Permanent},
		{"data exception", &pq.Error{Code: "22001"}, Permanent},
		{"permission text", errors.New("permission denied for table"), Permanent},
		{"schema mismatch text", errors.New("schema mismatch on load"), Permanent},
		{"connection exception", &pq.Error{Code: "08006"}, UnexpectedTransient},
		{"deadlock", &pq.Error{Code: "40P01"}, UnexpectedTransient},
		{"out of memory", &pq.Error{Code: "53200"}, UnexpectedTransient},
		{"cannot connect now", &pq.Error{Code: "57P03"}, UnexpectedTransient},
		{"deadline", context.DeadlineExceeded, UnexpectedTransient},
		{"rate limit text", errors.New("rate limit exceeded"), UnexpectedTransient},
		{"unknown", errors.New("something odd happened"), UnexpectedTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyWarehouseError(tt.err); got != tt.want {
				t.Errorf("ClassifyWarehouseError(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}
