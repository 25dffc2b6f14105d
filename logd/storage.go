package logd

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
)

// key value storage for the client state. The medium and format are up to the implementation.
// The client reads at construction and writes at most once per save interval.
type Storage interface {
	// ok is false when the key is not set
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key string, value string) error
}

const (
	StorageKeyUpdated  = "updated"
	StorageKeySession  = "session"
	StorageKeyProfiles = "profiles"
	StorageKeySettings = "settings"
	StorageKeyState    = "state"
)

var StorageKeys = []string{
	StorageKeyUpdated,
	StorageKeySession,
	StorageKeyProfiles,
	StorageKeySettings,
	StorageKeyState,
}

// in memory storage. Used for sudo sessions and tests.
type MemoryStorage struct {
	stateLock sync.Mutex
	values    map[string]string
	setCount  int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values: map[string]string{},
	}
}

func (self *MemoryStorage) Get(ctx context.Context, key string) (string, bool, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	value, ok := self.values[key]
	return value, ok, nil
}

func (self *MemoryStorage) Set(ctx context.Context, key string, value string) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.values[key] = value
	self.setCount += 1
	return nil
}

// number of `Set` calls so far
func (self *MemoryStorage) SetCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.setCount
}

func (self *MemoryStorage) Values() map[string]string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return maps.Clone(self.values)
}

type Profile = map[string]any
type Settings = map[string]any

// identity -> profile
type Profiles = map[string]Profile

type persistedState struct {
	updated  time.Time
	session  *Session
	profiles Profiles
	settings Settings
	state    map[string]any
}

func newPersistedState() *persistedState {
	return &persistedState{
		session:  &Session{},
		profiles: Profiles{},
		settings: Settings{},
		state:    map[string]any{},
	}
}

// missing keys keep their empty value. A key that does not decode is reported and skipped.
func loadState(ctx context.Context, storage Storage) (*persistedState, error) {
	state := newPersistedState()

	targets := map[string]any{
		StorageKeyUpdated:  &state.updated,
		StorageKeySession:  state.session,
		StorageKeyProfiles: &state.profiles,
		StorageKeySettings: &state.settings,
		StorageKeyState:    &state.state,
	}
	var loadErr error
	for _, key := range StorageKeys {
		value, ok, err := storage.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		if !ok || value == "" {
			continue
		}
		if key == StorageKeyUpdated && value == "0" {
			// never updated
			continue
		}
		if err := json.Unmarshal([]byte(value), targets[key]); err != nil {
			loadErr = fmt.Errorf("decode %s: %w", key, err)
		}
	}
	if state.profiles == nil {
		state.profiles = Profiles{}
	}
	if state.settings == nil {
		state.settings = Settings{}
	}
	if state.state == nil {
		state.state = map[string]any{}
	}
	return state, loadErr
}

func saveState(ctx context.Context, storage Storage, state *persistedState) error {
	values := map[string]any{
		StorageKeyUpdated:  state.updated,
		StorageKeySession:  state.session,
		StorageKeyProfiles: state.profiles,
		StorageKeySettings: state.settings,
		StorageKeyState:    state.state,
	}
	if state.updated.IsZero() {
		values[StorageKeyUpdated] = 0
	}
	for _, key := range StorageKeys {
		value, err := json.Marshal(values[key])
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		if err := storage.Set(ctx, key, string(value)); err != nil {
			return fmt.Errorf("save %s: %w", key, err)
		}
	}
	return nil
}

// writes state off the event loop. Only the latest pending state is written.
type stateWriter struct {
	// done stops the writer after a final flush
	ctx context.Context

	storage Storage
	timeout time.Duration

	stateLock sync.Mutex
	pending   *persistedState
	update    chan struct{}
	done      chan struct{}
}

func newStateWriter(ctx context.Context, storage Storage, timeout time.Duration) *stateWriter {
	writer := &stateWriter{
		ctx:     ctx,
		storage: storage,
		timeout: timeout,
		update:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go writer.run()
	return writer
}

func (self *stateWriter) write(state *persistedState) {
	self.stateLock.Lock()
	self.pending = state
	self.stateLock.Unlock()

	select {
	case self.update <- struct{}{}:
	default:
	}
}

func (self *stateWriter) run() {
	defer close(self.done)

	for {
		select {
		case <-self.ctx.Done():
			self.flush()
			return
		case <-self.update:
			self.flush()
		}
	}
}

// each write has its own deadline, so the final flush runs after the context is done
func (self *stateWriter) flush() {
	self.stateLock.Lock()
	state := self.pending
	self.pending = nil
	self.stateLock.Unlock()

	if state == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), self.timeout)
	defer cancel()
	if err := saveState(writeCtx, self.storage, state); err != nil {
		glog.Infof("[s]save error = %s\n", err)
	}
}

// closed after the final flush
func (self *stateWriter) Done() <-chan struct{} {
	return self.done
}
