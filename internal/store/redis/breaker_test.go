package redis

import (
	"errors"
	"testing"
	"time"
)

var errPublish = errors.New("publish failed")

func TestBreakerStartsClosed(t *testing.T) {
	b := NewBreaker(3, time.Second)
	if b.State() != BreakerClosed {
		t.Fatalf("state = %s, want closed", b.State())
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := b.Do(func() error { return errPublish }); !errors.Is(err, errPublish) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	// While open, calls are shed without invoking fn.
	invoked := false
	err := b.Do(func() error { invoked = true; return nil })
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen", err)
	}
	if invoked {
		t.Fatal("fn must not run while the breaker is open")
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.Do(func() error { return errPublish })
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	// Probe succeeds: breaker closes again.
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %s, want closed after successful probe", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	b.Do(func() error { return errPublish })
	time.Sleep(20 * time.Millisecond)

	if err := b.Do(func() error { return errPublish }); !errors.Is(err, errPublish) {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want open after failed probe", b.State())
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.Do(func() error { return errPublish })
	b.Do(func() error { return errPublish })
	b.Do(func() error { return nil }) // resets the streak
	b.Do(func() error { return errPublish })
	b.Do(func() error { return errPublish })

	if b.State() != BreakerClosed {
		t.Fatalf("state = %s, want closed (streak was reset)", b.State())
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	b := NewBreaker(1, time.Minute)

	var transitions []string
	b.OnStateChange = func(from, to BreakerState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	b.Do(func() error { return errPublish })
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Fatalf("transitions = %v", transitions)
	}
}
