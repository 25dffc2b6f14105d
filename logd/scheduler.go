package logd

import (
	"time"
)

// timers used by the client: reconnect, heartbeat, and save.
// Inject a scheduler to drive time in tests.
type Timer interface {
	Stop() bool
}

type Scheduler interface {
	Now() time.Time
	// `f` runs on its own goroutine
	AfterFunc(d time.Duration, f func()) Timer
}

type systemScheduler struct{}

func SystemScheduler() Scheduler {
	return &systemScheduler{}
}

func (self *systemScheduler) Now() time.Time {
	return time.Now()
}

func (self *systemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
