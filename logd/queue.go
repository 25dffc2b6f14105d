package logd

import (
	"sync"
)

// the request queue orders outbound operations with at most one in flight.
// Since only the head can be in flight, a reply always belongs to the head
// and correlation is positional. If more than one request is ever allowed in flight,
// replies must be matched on `sequenceNumber` instead.

type ReplyFunction func(result any)

type queueEntry struct {
	payload  any
	callback ReplyFunction

	// set while the entry is in flight
	sequenceNumber uint64
}

type requestQueue struct {
	stateLock sync.Mutex

	entries  []*queueEntry
	inFlight bool
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		entries: []*queueEntry{},
	}
}

func (self *requestQueue) enqueue(payload any, callback ReplyFunction) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.entries = append(self.entries, &queueEntry{
		payload:  payload,
		callback: callback,
	})
}

func (self *requestQueue) len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.entries)
}

func (self *requestQueue) head() *queueEntry {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if len(self.entries) == 0 {
		return nil
	}
	return self.entries[0]
}

// the entry awaiting a reply, or nil
func (self *requestQueue) headInFlight() *queueEntry {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if !self.inFlight || len(self.entries) == 0 {
		return nil
	}
	return self.entries[0]
}

// marks the head in flight and returns it
// returns nil if an entry is already in flight or the queue is empty
func (self *requestQueue) takeHead(sequenceNumber uint64) *queueEntry {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.inFlight || len(self.entries) == 0 {
		return nil
	}
	self.inFlight = true
	entry := self.entries[0]
	entry.sequenceNumber = sequenceNumber
	return entry
}

func (self *requestQueue) busy() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.inFlight
}

// clears the busy flag without removing the head, e.g. when a new transport opens
// and the head must be sent again
func (self *requestQueue) resetInFlight() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.inFlight = false
	if 0 < len(self.entries) {
		self.entries[0].sequenceNumber = 0
	}
}

// removes the head after its reply was handled or a fatal per message error
func (self *requestQueue) completeHead() *queueEntry {
	return self.removeHead()
}

// removes the head without a reply. The callback is never invoked.
func (self *requestQueue) rejectHead() *queueEntry {
	return self.removeHead()
}

func (self *requestQueue) removeHead() *queueEntry {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.inFlight = false
	if len(self.entries) == 0 {
		return nil
	}
	entry := self.entries[0]
	self.entries[0] = nil
	self.entries = self.entries[1:]
	return entry
}

func (self *requestQueue) clear() []*queueEntry {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entries := self.entries
	self.entries = []*queueEntry{}
	self.inFlight = false
	return entries
}
