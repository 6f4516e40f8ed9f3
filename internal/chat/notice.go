package chat

import (
	"fmt"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Session.
type State int32

const (
	Idle State = iota
	AwaitingSubscription
	Live
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingSubscription:
		return "awaiting_subscription"
	case Live:
		return "live"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Notice reports a failed session action to the user-facing layer.
type Notice struct {
	Op  string
	Err error
	At  time.Time
}

func (n Notice) String() string {
	return fmt.Sprintf("%s failed: %v", n.Op, n.Err)
}

// Notifier receives notices for failed actions.
type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notice) { f(n) }

type discardNotifier struct{}

func (discardNotifier) Notify(Notice) {}

// CountingNotifier counts notices and forwards them to Next, if set.
type CountingNotifier struct {
	Next  Notifier
	count atomic.Int64
}

// Notify implements Notifier.
func (c *CountingNotifier) Notify(n Notice) {
	c.count.Add(1)
	if c.Next != nil {
		c.Next.Notify(n)
	}
}

// Count returns how many notices have been seen.
func (c *CountingNotifier) Count() int64 {
	return c.count.Load()
}
