package logd

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

var errFakeClosed = errors.New("closed")

type fakeConn struct {
	in chan []byte

	stateLock sync.Mutex
	out       [][]byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    [][]byte{},
		closed: make(chan struct{}),
	}
}

func (self *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case <-self.closed:
		return nil, errFakeClosed
	case message := <-self.in:
		return message, nil
	}
}

func (self *fakeConn) WriteMessage(message []byte) error {
	select {
	case <-self.closed:
		return errFakeClosed
	default:
	}
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.out = append(self.out, message)
	return nil
}

func (self *fakeConn) Close() error {
	self.closeOnce.Do(func() {
		close(self.closed)
	})
	return nil
}

func (self *fakeConn) IsClosed() bool {
	select {
	case <-self.closed:
		return true
	default:
		return false
	}
}

// the server side sends a frame
func (self *fakeConn) deliver(frame string) {
	self.in <- []byte(frame)
}

func (self *fakeConn) Frames() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	frames := []string{}
	for _, message := range self.out {
		frames = append(frames, string(message))
	}
	return frames
}

type fakeDialer struct {
	stateLock sync.Mutex
	urls      []string
	conns     []*fakeConn
	// the next dials fail while set
	err error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		urls:  []string{},
		conns: []*fakeConn{},
	}
}

func (self *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.urls = append(self.urls, url)
	if self.err != nil {
		return nil, self.err
	}
	conn := newFakeConn()
	self.conns = append(self.conns, conn)
	return conn, nil
}

func (self *fakeDialer) DialCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.urls)
}

func (self *fakeDialer) Url(i int) string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if i < len(self.urls) {
		return self.urls[i]
	}
	return ""
}

func (self *fakeDialer) Conn(i int) *fakeConn {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if i < len(self.conns) {
		return self.conns[i]
	}
	return nil
}

func (self *fakeDialer) SetErr(err error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.err = err
}

// timers fire only when the test advances the clock
type manualScheduler struct {
	stateLock sync.Mutex
	now       time.Time
	timers    []*manualTimer
	created   int
}

type manualTimer struct {
	scheduler *manualScheduler
	at        time.Time
	f         func()
	done      bool
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{
		now:    time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		timers: []*manualTimer{},
	}
}

func (self *manualScheduler) Now() time.Time {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.now
}

func (self *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	timer := &manualTimer{
		scheduler: self,
		at:        self.now.Add(d),
		f:         f,
	}
	self.timers = append(self.timers, timer)
	self.created += 1
	return timer
}

func (self *manualTimer) Stop() bool {
	self.scheduler.stateLock.Lock()
	defer self.scheduler.stateLock.Unlock()

	if self.done {
		return false
	}
	self.done = true
	return true
}

// moves the clock forward and runs the timers that are due, in order
func (self *manualScheduler) Advance(d time.Duration) {
	self.stateLock.Lock()
	self.now = self.now.Add(d)
	due := []*manualTimer{}
	pending := []*manualTimer{}
	for _, timer := range self.timers {
		if timer.done {
			continue
		}
		if !self.now.Before(timer.at) {
			timer.done = true
			due = append(due, timer)
		} else {
			pending = append(pending, timer)
		}
	}
	self.timers = pending
	self.stateLock.Unlock()

	sort.SliceStable(due, func(i int, j int) bool {
		return due[i].at.Before(due[j].at)
	})
	for _, timer := range due {
		timer.f()
	}
}

// timers made so far
func (self *manualScheduler) Created() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.created
}

// timers not yet fired or stopped
func (self *manualScheduler) Pending() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	n := 0
	for _, timer := range self.timers {
		if !timer.done {
			n += 1
		}
	}
	return n
}

// polls `condition` on the client loop until it holds
func waitFor(t *testing.T, client *Client, condition func() bool) {
	t.Helper()
	end := time.Now().Add(5 * time.Second)
	for {
		client.barrier()
		if condition() {
			return
		}
		if end.Before(time.Now()) {
			t.Fatalf("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

func testFrame(t *testing.T, s string) []any {
	t.Helper()
	var frame []any
	if err := json.Unmarshal([]byte(s), &frame); err != nil {
		t.Fatalf("bad frame %s: %s", s, err)
	}
	return frame
}
