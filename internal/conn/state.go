package conn

import "time"

// State is the lifecycle state of one live channel.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnectScheduled
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateReconnectScheduled:
		return "RECONNECT_SCHEDULED"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Event drives a transition.
type Event int

const (
	EventSelect Event = iota
	EventOpened
	EventAbnormalClose
	EventTimerFired
	EventTeardown
)

func (e Event) String() string {
	switch e {
	case EventSelect:
		return "select"
	case EventOpened:
		return "opened"
	case EventAbnormalClose:
		return "abnormal_close"
	case EventTimerFired:
		return "timer_fired"
	case EventTeardown:
		return "teardown"
	}
	return "unknown"
}

// Effect is the side effect a transition asks the manager to perform.
type Effect int

const (
	EffectNone Effect = iota
	// EffectOpen opens a new socket for the channel.
	EffectOpen
	// EffectSchedule arms the reconnect timer for Transition.Delay.
	EffectSchedule
	// EffectFail surfaces the terminal connection error.
	EffectFail
	// EffectDetach closes the socket, cancels the timer and drops handlers.
	EffectDetach
	// EffectReady clears the error state after a successful open.
	EffectReady
)

// Policy bounds reconnection.
type Policy struct {
	MaxAttempts int
	BackoffStep time.Duration
}

// DefaultPolicy gives up after five reconnects spaced 1s..5s apart.
var DefaultPolicy = Policy{MaxAttempts: 5, BackoffStep: time.Second}

// Backoff is the delay before reconnect attempt n (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	return time.Duration(attempt) * p.BackoffStep
}

// Transition is the outcome of Step.
type Transition struct {
	State    State
	Attempts int
	Delay    time.Duration
	Effect   Effect
}

// Step is the pure transition function of the connection lifecycle.
// Events that make no sense in the current state leave it unchanged.
func Step(p Policy, s State, attempts int, ev Event) Transition {
	stay := Transition{State: s, Attempts: attempts, Effect: EffectNone}

	if ev == EventTeardown {
		if s == StateClosed {
			return stay
		}
		return Transition{State: StateClosed, Attempts: attempts, Effect: EffectDetach}
	}

	switch s {
	case StateIdle:
		if ev == EventSelect {
			return Transition{State: StateConnecting, Attempts: 0, Effect: EffectOpen}
		}
	case StateConnecting:
		switch ev {
		case EventOpened:
			return Transition{State: StateOpen, Attempts: 0, Effect: EffectReady}
		case EventAbnormalClose:
			return closeTransition(p, attempts)
		}
	case StateOpen:
		if ev == EventAbnormalClose {
			return closeTransition(p, attempts)
		}
	case StateReconnectScheduled:
		if ev == EventTimerFired {
			return Transition{State: StateConnecting, Attempts: attempts, Effect: EffectOpen}
		}
	}
	return stay
}

func closeTransition(p Policy, attempts int) Transition {
	if attempts >= p.MaxAttempts {
		return Transition{State: StateFailed, Attempts: attempts, Effect: EffectFail}
	}
	next := attempts + 1
	return Transition{
		State:    StateReconnectScheduled,
		Attempts: next,
		Delay:    p.Backoff(next),
		Effect:   EffectSchedule,
	}
}
