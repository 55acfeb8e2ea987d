package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errTestError    = errors.New("test error")
	errNonRetryable = errors.New("non-retryable error")
	errRetryable    = errors.New("retryable error")
)

func TestNextDelay_LinearSchedule(t *testing.T) {
	cfg := Config{
		BaseDelay: 1 * time.Second,
		MaxDelay:  5 * time.Second,
	}

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		3 * time.Second,
		4 * time.Second,
		5 * time.Second,
	}

	for i, want := range expected {
		got := cfg.NextDelay(i + 1)
		if got != want {
			t.Errorf("NextDelay(%d): expected %v, got %v", i+1, want, got)
		}
	}
}

func TestNextDelay_MonotoneAndCapped(t *testing.T) {
	cfg := Config{
		BaseDelay: 250 * time.Millisecond,
		MaxDelay:  1 * time.Second,
	}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 20; attempt++ {
		d := cfg.NextDelay(attempt)
		if d < prev {
			t.Errorf("NextDelay(%d)=%v is below NextDelay(%d)=%v", attempt, d, attempt-1, prev)
		}
		if d > cfg.MaxDelay {
			t.Errorf("NextDelay(%d)=%v exceeds ceiling %v", attempt, d, cfg.MaxDelay)
		}
		prev = d
	}
}

func TestNextDelay_Deterministic(t *testing.T) {
	cfg := DefaultConfig()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		first := cfg.NextDelay(attempt)
		for i := 0; i < 5; i++ {
			if again := cfg.NextDelay(attempt); again != first {
				t.Errorf("NextDelay(%d) not deterministic: %v then %v", attempt, first, again)
			}
		}
	}
}

func TestNextDelay_AttemptBelowOne(t *testing.T) {
	cfg := Config{BaseDelay: 1 * time.Second, MaxDelay: 5 * time.Second}

	if got := cfg.NextDelay(0); got != 1*time.Second {
		t.Errorf("Expected attempt 0 clamped to base delay, got: %v", got)
	}
	if got := cfg.NextDelay(-3); got != 1*time.Second {
		t.Errorf("Expected negative attempt clamped to base delay, got: %v", got)
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	cfg := Config{
		Enabled:     true,
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
	}

	attempts := 0
	fn := func() error {
		attempts++
		return nil
	}

	ctx := context.Background()
	err := Retry(ctx, cfg, fn)

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestRetry_SuccessAfterRetries(t *testing.T) {
	cfg := Config{
		Enabled:     true,
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
	}

	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return errTestError
		}
		return nil
	}

	ctx := context.Background()
	err := Retry(ctx, cfg, fn)

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestRetry_MaxAttemptsExceeded(t *testing.T) {
	cfg := Config{
		Enabled:     true,
		MaxAttempts: 2,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
	}

	attempts := 0
	fn := func() error {
		attempts++
		return errTestError
	}

	ctx := context.Background()
	err := Retry(ctx, cfg, fn)

	if err == nil {
		t.Error("Expected error after max attempts, got nil")
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got: %d", attempts)
	}
}

func TestRetry_Disabled(t *testing.T) {
	cfg := Config{
		Enabled: false,
	}

	attempts := 0
	fn := func() error {
		attempts++
		return errTestError
	}

	ctx := context.Background()
	err := Retry(ctx, cfg, fn)

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got: %d", attempts)
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	cfg := Config{
		Enabled:     true,
		MaxAttempts: 5,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
	}

	attempts := 0
	fn := func() error {
		attempts++
		return errTestError
	}

	ctx, cancel := context.WithCancel(context.Background())
	// Cancel during the first wait, not before the first attempt
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, cfg, fn)

	if err == nil {
		t.Error("Expected error due to context cancellation, got nil")
	}
	if attempts < 1 {
		t.Errorf("Expected at least 1 attempt before cancellation, got: %d", attempts)
	}
	if attempts >= cfg.MaxAttempts {
		t.Errorf("Expected cancellation to cut retries short, got %d attempts", attempts)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	cfg := Config{
		Enabled:            true,
		MaxAttempts:        3,
		BaseDelay:          10 * time.Millisecond,
		MaxDelay:           100 * time.Millisecond,
		NonRetryableErrors: []error{errNonRetryable},
	}

	attempts := 0
	fn := func() error {
		attempts++
		return errNonRetryable
	}

	ctx := context.Background()
	err := Retry(ctx, cfg, fn)

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (non-retryable), got: %d", attempts)
	}
}

func TestRetry_NonRetryableWrappedError(t *testing.T) {
	cfg := Config{
		Enabled:            true,
		MaxAttempts:        3,
		BaseDelay:          10 * time.Millisecond,
		MaxDelay:           100 * time.Millisecond,
		NonRetryableErrors: []error{errNonRetryable},
	}

	attempts := 0
	fn := func() error {
		attempts++
		return errors.Join(errors.New("outer"), errNonRetryable)
	}

	ctx := context.Background()
	err := Retry(ctx, cfg, fn)

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for wrapped non-retryable, got: %d", attempts)
	}
}

func TestRetry_ErrorNotInRetryableList(t *testing.T) {
	cfg := Config{
		Enabled:         true,
		MaxAttempts:     3,
		BaseDelay:       10 * time.Millisecond,
		MaxDelay:        100 * time.Millisecond,
		RetryableErrors: []error{errRetryable},
	}

	attempts := 0
	fn := func() error {
		attempts++
		return errTestError // Not in retryable list
	}

	ctx := context.Background()
	err := Retry(ctx, cfg, fn)

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for unlisted error, got: %d", attempts)
	}
}

func TestRetryWithResult_Success(t *testing.T) {
	cfg := Config{
		Enabled:     true,
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
	}

	attempts := 0
	fn := func() (string, error) {
		attempts++
		if attempts < 2 {
			return "", errTestError
		}
		return "success", nil
	}

	ctx := context.Background()
	result, err := RetryWithResult(ctx, cfg, fn)

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if result != "success" {
		t.Errorf("Expected 'success', got: %s", result)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got: %d", attempts)
	}
}

func TestRetryWithResult_Failure(t *testing.T) {
	cfg := Config{
		Enabled:     true,
		MaxAttempts: 2,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    100 * time.Millisecond,
	}

	attempts := 0
	fn := func() (int, error) {
		attempts++
		return 0, errTestError
	}

	ctx := context.Background()
	result, err := RetryWithResult(ctx, cfg, fn)

	if err == nil {
		t.Error("Expected error, got nil")
	}
	if result != 0 {
		t.Errorf("Expected zero value, got: %d", result)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got: %d", attempts)
	}
}

func TestRetryWithResult_Disabled(t *testing.T) {
	cfg := Config{
		Enabled: false,
	}

	attempts := 0
	fn := func() (bool, error) {
		attempts++
		return true, nil
	}

	ctx := context.Background()
	result, err := RetryWithResult(ctx, cfg, fn)

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if !result {
		t.Error("Expected true, got false")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Enabled {
		t.Error("Expected Enabled to be true")
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("Expected MaxAttempts to be 5, got: %d", cfg.MaxAttempts)
	}
	if cfg.BaseDelay != 1*time.Second {
		t.Errorf("Expected BaseDelay to be 1s, got: %v", cfg.BaseDelay)
	}
	if cfg.MaxDelay != 5*time.Second {
		t.Errorf("Expected MaxDelay to be 5s, got: %v", cfg.MaxDelay)
	}
}
