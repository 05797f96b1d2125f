package executor

import (
	"time"

	"github.com/bartossh/Ledgerlink/ids"
	"github.com/bartossh/Ledgerlink/status"
)

// EventKind names what happened in the retry loop.
type EventKind uint8

const (
	EventAttempt EventKind = iota + 1
	EventBackoff
	EventWait
	EventFatal
	EventTimeout
	EventPoll
)

func (k EventKind) String() string {
	switch k {
	case EventAttempt:
		return "attempt"
	case EventBackoff:
		return "backoff"
	case EventWait:
		return "wait"
	case EventFatal:
		return "fatal"
	case EventTimeout:
		return "timeout"
	case EventPoll:
		return "poll"
	default:
		return "unknown"
	}
}

// Event describes one step of a request. Duration is the attempt latency for attempts,
// the backoff applied for backoffs and the time waited for waits and polls.
type Event struct {
	Kind     EventKind
	Method   string
	Node     ids.AccountID
	Status   status.Code
	Duration time.Duration
	Attempt  int
	Err      error
}

// Observer receives events synchronously from the request goroutine.
type Observer interface {
	Observe(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
