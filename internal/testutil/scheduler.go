package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/Vasu1712/scenyx-chat/internal/eventloop"
)

// FakeScheduler records scheduled callbacks and runs them only when the
// test advances its virtual clock. It never starts goroutines.
type FakeScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*FakeTimer
	delays []time.Duration
}

var _ eventloop.Scheduler = (*FakeScheduler)(nil)

type FakeTimer struct {
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
	s       *FakeScheduler
}

func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{}
}

func (s *FakeScheduler) AfterFunc(d time.Duration, fn func()) eventloop.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &FakeTimer{at: s.now + d, fn: fn, s: s}
	s.timers = append(s.timers, t)
	s.delays = append(s.delays, d)
	return t
}

func (t *FakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Delays returns every delay ever scheduled, in order.
func (s *FakeScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// Pending is the number of armed timers.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Elapsed is the virtual time advanced so far.
func (s *FakeScheduler) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the virtual clock by d and runs due callbacks in deadline order.
func (s *FakeScheduler) Advance(d time.Duration) int {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	ran := 0
	for {
		s.mu.Lock()
		var due []*FakeTimer
		for _, t := range s.timers {
			if !t.stopped && !t.fired && t.at <= target {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			s.now = target
			s.mu.Unlock()
			return ran
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
		next := due[0]
		next.fired = true
		s.now = next.at
		s.mu.Unlock()

		next.fn()
		ran++
	}
}

// FireNext runs the earliest armed timer regardless of its deadline.
func (s *FakeScheduler) FireNext() bool {
	s.mu.Lock()
	var next *FakeTimer
	for _, t := range s.timers {
		if t.stopped || t.fired {
			continue
		}
		if next == nil || t.at < next.at {
			next = t
		}
	}
	if next == nil {
		s.mu.Unlock()
		return false
	}
	next.fired = true
	if next.at > s.now {
		s.now = next.at
	}
	s.mu.Unlock()

	next.fn()
	return true
}
