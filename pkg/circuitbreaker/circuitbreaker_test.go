package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errDown = errors.New("dependency down")

// tripConfig trips after two consecutive failures and allows one probe
// after a short open window.
func tripConfig() Config {
	return Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             50 * time.Millisecond,
		MaxRequestsHalfOpen: 1,
	}
}

func fail(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error { return errDown })
}

func succeed(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error { return nil })
}

func trip(t *testing.T, cb *CircuitBreaker, threshold int) {
	t.Helper()
	for i := 0; i < threshold; i++ {
		if err := fail(cb); err == nil {
			t.Fatal("Execute() swallowed a failure")
		}
	}
	if state := cb.State(); state != StateOpen {
		t.Fatalf("state = %v after %d failures, want open", state, threshold)
	}
}

func TestBreaker_StaysClosedOnSuccess(t *testing.T) {
	cb := New(tripConfig())

	for i := 0; i < 10; i++ {
		if err := succeed(cb); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if state := cb.State(); state != StateClosed {
		t.Errorf("state = %v, want closed", state)
	}
}

func TestBreaker_FailurePropagatesAndCounts(t *testing.T) {
	cb := New(tripConfig())

	err := fail(cb)
	if !errors.Is(err, errDown) {
		t.Errorf("Execute() error = %v, want it to wrap the cause", err)
	}
	if state := cb.State(); state != StateClosed {
		t.Errorf("state = %v after one failure, want closed", state)
	}
	if stats := cb.GetStats(); stats.Failures != 1 {
		t.Errorf("Failures = %d, want 1", stats.Failures)
	}
}

func TestBreaker_SuccessResetsTheFailureRun(t *testing.T) {
	cb := New(tripConfig())

	fail(cb)
	succeed(cb)
	fail(cb)

	if state := cb.State(); state != StateClosed {
		t.Errorf("state = %v, want closed: failures were not consecutive", state)
	}
}

func TestBreaker_OpensAtThresholdAndFailsFast(t *testing.T) {
	cb := New(tripConfig())
	trip(t, cb, 2)

	calls := 0
	err := cb.Execute(context.Background(), func() error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Execute() error = %v, want ErrOpen", err)
	}
	if calls != 0 {
		t.Errorf("open breaker reached the function %d times, want 0", calls)
	}
}

func TestBreaker_HalfOpenClosesAfterEnoughSuccesses(t *testing.T) {
	cfg := tripConfig()
	cfg.MaxRequestsHalfOpen = 3
	cb := New(cfg)
	trip(t, cb, 2)

	time.Sleep(cfg.Timeout + 10*time.Millisecond)

	for i := 0; i < cfg.SuccessThreshold; i++ {
		if err := succeed(cb); err != nil {
			t.Fatalf("probe #%d error = %v", i+1, err)
		}
	}
	if state := cb.State(); state != StateClosed {
		t.Errorf("state = %v after successful probes, want closed", state)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := tripConfig()
	cb := New(cfg)
	trip(t, cb, 2)

	time.Sleep(cfg.Timeout + 10*time.Millisecond)

	if err := fail(cb); !errors.Is(err, errDown) {
		t.Fatalf("probe error = %v, want the real failure", err)
	}
	if state := cb.State(); state != StateOpen {
		t.Errorf("state = %v after failed probe, want open", state)
	}
}

func TestBreaker_HalfOpenProbeBudget(t *testing.T) {
	cfg := tripConfig()
	cfg.SuccessThreshold = 5 // stay half-open across the whole budget
	cfg.MaxRequestsHalfOpen = 2
	cb := New(cfg)
	trip(t, cb, 2)

	time.Sleep(cfg.Timeout + 10*time.Millisecond)

	for i := 0; i < cfg.MaxRequestsHalfOpen; i++ {
		if err := succeed(cb); err != nil {
			t.Fatalf("probe #%d error = %v", i+1, err)
		}
	}

	if err := succeed(cb); !errors.Is(err, ErrOpen) {
		t.Errorf("probe beyond budget error = %v, want ErrOpen", err)
	}
}

func TestBreaker_ExecuteWithResultPassesValueThrough(t *testing.T) {
	cb := New(DefaultConfig())

	value, err := cb.ExecuteWithResult(context.Background(), func() (interface{}, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult() error = %v", err)
	}
	if value.(int) != 42 {
		t.Errorf("ExecuteWithResult() = %v, want 42", value)
	}
}

func TestBreaker_ExecuteWithResultFailure(t *testing.T) {
	cb := New(DefaultConfig())

	value, err := cb.ExecuteWithResult(context.Background(), func() (interface{}, error) {
		return nil, errDown
	})
	if !errors.Is(err, errDown) {
		t.Errorf("ExecuteWithResult() error = %v, want wrapped cause", err)
	}
	if value != nil {
		t.Errorf("ExecuteWithResult() = %v on failure, want nil", value)
	}
}

func TestBreaker_CancelledContextRejected(t *testing.T) {
	cb := New(DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cb.Execute(ctx, func() error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	cb := New(tripConfig())

	transitions := make(chan [2]State, 4)
	cb.OnStateChange(func(from, to State) {
		transitions <- [2]State{from, to}
	})

	trip(t, cb, 2)

	select {
	case tr := <-transitions:
		if tr[0] != StateClosed || tr[1] != StateOpen {
			t.Errorf("transition = %v -> %v, want closed -> open", tr[0], tr[1])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the state change callback")
	}
}

func TestBreaker_ResetClosesAnOpenBreaker(t *testing.T) {
	cb := New(tripConfig())
	trip(t, cb, 2)

	cb.Reset()

	if state := cb.State(); state != StateClosed {
		t.Fatalf("state = %v after Reset, want closed", state)
	}
	if err := succeed(cb); err != nil {
		t.Errorf("Execute() error = %v after Reset", err)
	}
}

func TestBreaker_ConcurrentExecutions(t *testing.T) {
	cb := New(Config{
		FailureThreshold:    100000, // never trips during the test
		SuccessThreshold:    2,
		Timeout:             time.Minute,
		MaxRequestsHalfOpen: 3,
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if i%2 == 0 {
					succeed(cb)
				} else {
					fail(cb)
				}
				cb.GetStats()
			}
		}(i)
	}
	wg.Wait()

	if state := cb.State(); state != StateClosed {
		t.Errorf("state = %v, want closed (threshold never reached)", state)
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
