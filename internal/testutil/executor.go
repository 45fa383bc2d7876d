package testutil

import (
	"time"

	"github.com/Vasu1712/scenyx-chat/internal/eventloop"
)

// QueueExecutor collects posted callbacks so a test can run them on its own
// goroutine, standing in for the event loop.
type QueueExecutor struct {
	tasks chan func()
}

var _ eventloop.Executor = (*QueueExecutor)(nil)

func NewQueueExecutor() *QueueExecutor {
	return &QueueExecutor{tasks: make(chan func(), 64)}
}

func (e *QueueExecutor) Post(fn func()) { e.tasks <- fn }

// RunNext waits up to timeout for one posted callback and runs it.
func (e *QueueExecutor) RunNext(timeout time.Duration) bool {
	select {
	case fn := <-e.tasks:
		fn()
		return true
	case <-time.After(timeout):
		return false
	}
}

// Idle reports whether nothing is queued right now.
func (e *QueueExecutor) Idle() bool { return len(e.tasks) == 0 }
