// Package timers provides the default timer service for flowstone
// environments. The kernel never schedules anything itself; timer
// behaviours ask the environment's timer service to fire a callback later,
// and a custom implementation can be swapped in for tests or for externally
// driven clocks.
package timers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ErrBadCycle is returned for unparsable cycle definitions.
var ErrBadCycle = errors.New("unparsable timer cycle")

// Callback runs when a timer fires. It is invoked on the timer goroutine;
// callers that feed results back into a running kernel must bridge onto the
// goroutine that owns it.
type Callback func(*Timer)

// Timer is one scheduled callback.
type Timer struct {
	ID      string
	Delay   time.Duration
	Owner   any
	Meta    map[string]any
	timer   *time.Timer
	service *Timers
}

// Cancel stops the timer if it has not fired yet.
func (t *Timer) Cancel() {
	t.service.clear(t)
}

// Timers schedules one-shot callbacks. Executing timers can be listed for
// diagnostics and cancelled by owner.
type Timers struct {
	mu        sync.Mutex
	seq       int
	executing map[string]*Timer
}

// New creates a timer service.
func New() *Timers {
	return &Timers{executing: make(map[string]*Timer)}
}

// SetTimeout schedules callback after delay and returns the pending timer.
func (s *Timers) SetTimeout(owner any, delay time.Duration, callback Callback) *Timer {
	s.mu.Lock()
	s.seq++
	t := &Timer{
		ID:      "timer-" + strconv.Itoa(s.seq),
		Delay:   delay,
		Owner:   owner,
		service: s,
	}
	s.executing[t.ID] = t
	s.mu.Unlock()

	t.timer = time.AfterFunc(delay, func() {
		s.clear(t)
		callback(t)
	})
	return t
}

// Executing returns the timers that have been scheduled but not yet fired
// or cancelled.
func (s *Timers) Executing() []*Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Timer, 0, len(s.executing))
	for _, t := range s.executing {
		out = append(out, t)
	}
	return out
}

// CancelOwned cancels every pending timer belonging to owner.
func (s *Timers) CancelOwned(owner any) {
	s.mu.Lock()
	var owned []*Timer
	for _, t := range s.executing {
		if t.Owner == owner {
			owned = append(owned, t)
		}
	}
	s.mu.Unlock()
	for _, t := range owned {
		s.clear(t)
	}
}

func (s *Timers) clear(t *Timer) {
	s.mu.Lock()
	delete(s.executing, t.ID)
	s.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}

// ParseDelay resolves a timer definition into the delay until its next
// firing. Supported forms, tried in order:
//   - Go durations ("30s", "1h10m")
//   - cron expressions ("*/5 * * * *", "@hourly"), evaluated against now
//   - absolute RFC 3339 timestamps
func ParseDelay(def string, now time.Time) (time.Duration, error) {
	def = strings.TrimSpace(def)
	if def == "" {
		return 0, fmt.Errorf("%w: empty definition", ErrBadCycle)
	}

	if d, err := time.ParseDuration(def); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("%w: negative duration %q", ErrBadCycle, def)
		}
		return d, nil
	}

	if schedule, err := cronParser.Parse(def); err == nil {
		return schedule.Next(now).Sub(now), nil
	}

	if at, err := time.Parse(time.RFC3339, def); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrBadCycle, def)
}
