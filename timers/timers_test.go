package timers

import (
	"errors"
	"testing"
	"time"
)

func TestParseDelay_Duration(t *testing.T) {
	now := time.Now()

	d, err := ParseDelay("30s", now)
	if err != nil {
		t.Fatalf("ParseDelay() error = %v", err)
	}
	if d != 30*time.Second {
		t.Errorf("ParseDelay() = %v, want 30s", d)
	}
}

func TestParseDelay_Cron(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)

	d, err := ParseDelay("*/5 * * * *", now)
	if err != nil {
		t.Fatalf("ParseDelay() error = %v", err)
	}
	if d <= 0 || d > 5*time.Minute {
		t.Errorf("ParseDelay() = %v, want within (0, 5m]", d)
	}
}

func TestParseDelay_Absolute(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	d, err := ParseDelay("2025-06-01T12:01:00Z", now)
	if err != nil {
		t.Fatalf("ParseDelay() error = %v", err)
	}
	if d != time.Minute {
		t.Errorf("ParseDelay() = %v, want 1m", d)
	}

	// Past timestamps clamp to zero.
	d, err = ParseDelay("2025-06-01T11:00:00Z", now)
	if err != nil {
		t.Fatalf("ParseDelay() error = %v", err)
	}
	if d != 0 {
		t.Errorf("ParseDelay() = %v, want 0 for past timestamp", d)
	}
}

func TestParseDelay_Bad(t *testing.T) {
	for _, def := range []string{"", "not a timer", "-5s"} {
		if _, err := ParseDelay(def, time.Now()); !errors.Is(err, ErrBadCycle) {
			t.Errorf("ParseDelay(%q) error = %v, want %v", def, err, ErrBadCycle)
		}
	}
}

func TestTimers_SetTimeoutFires(t *testing.T) {
	s := New()
	fired := make(chan *Timer, 1)

	s.SetTimeout("owner", time.Millisecond, func(timer *Timer) {
		fired <- timer
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	if got := len(s.Executing()); got != 0 {
		t.Errorf("Executing() after fire = %v timers, want 0", got)
	}
}

func TestTimers_Cancel(t *testing.T) {
	s := New()
	fired := make(chan struct{}, 1)

	timer := s.SetTimeout("owner", 50*time.Millisecond, func(*Timer) {
		fired <- struct{}{}
	})
	timer.Cancel()

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(100 * time.Millisecond):
	}
	if got := len(s.Executing()); got != 0 {
		t.Errorf("Executing() after cancel = %v timers, want 0", got)
	}
}

func TestTimers_CancelOwned(t *testing.T) {
	s := New()
	fired := make(chan struct{}, 2)

	s.SetTimeout("a", 50*time.Millisecond, func(*Timer) { fired <- struct{}{} })
	s.SetTimeout("b", 50*time.Millisecond, func(*Timer) { fired <- struct{}{} })
	s.CancelOwned("a")

	if got := len(s.Executing()); got != 1 {
		t.Fatalf("Executing() = %v timers, want 1", got)
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("surviving timer did not fire")
	}
}
