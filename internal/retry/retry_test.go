package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	p := Policy{MaxAttempts: 3, Backoff: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 2, Backoff: time.Millisecond}
	calls := 0
	wantErr := errors.New("still failing")
	err := p.Do(context.Background(), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) || calls != 2 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	p := Policy{MaxAttempts: 5, Backoff: time.Millisecond}
	calls := 0
	base := errors.New("rejected")
	err := p.Do(context.Background(), func() error {
		calls++
		return Permanent(base)
	})
	if calls != 1 {
		t.Fatalf("permanent error retried %d times", calls)
	}
	if !errors.Is(err, base) {
		t.Fatalf("permanent wrapper should unwrap to the base error, got %v", err)
	}
}

func TestDoHonorsContextCancel(t *testing.T) {
	p := Policy{MaxAttempts: 10, Backoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt before the long backoff, got %d", calls)
	}
}

func TestIsPermanentThroughWrapping(t *testing.T) {
	err := Permanent(errors.New("no margin"))
	wrapped := fmt.Errorf("placing order: %w", err)
	if !IsPermanent(wrapped) {
		t.Fatal("IsPermanent should see through wrapping")
	}
	if IsPermanent(errors.New("plain")) {
		t.Fatal("plain error is not permanent")
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) should be nil")
	}
}
