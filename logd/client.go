package logd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/time/rate"
)

// the client keeps one duplex connection to the domain, sends queued requests
// one at a time, and replicates the domain logs it is delivered into the session
// causal position, profiles, settings, and the state tree.
//
// All client state is owned by a single event loop goroutine. Public methods post
// events to the loop and return immediately. Dials, socket reads and writes, and storage
// writes happen on helper goroutines that post their results back to the loop.

var ErrMissingDomain = errors.New("must specify domain")

const DefaultApi = "logbased.io"

type ClientSettings struct {
	Domain string
	Api    string
	Secure bool

	// 0 disables reconnecting after the transport closes
	ReconnectInterval time.Duration
	// state is saved at most once per interval
	SaveInterval   time.Duration
	StorageTimeout time.Duration
	SendBufferSize int

	LogIdComparator LogIdComparator
	Dialer          Dialer
	Scheduler       Scheduler
	// optional
	Metrics *Metrics

	// used when the stored session has no token
	Session *Session
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		Api:               DefaultApi,
		Secure:            true,
		ReconnectInterval: 30 * time.Second,
		SaveInterval:      1 * time.Second,
		StorageTimeout:    5 * time.Second,
		SendBufferSize:    64,
		LogIdComparator:   CompareBoundary,
	}
}

// d-<domain>.<api>
func (self *ClientSettings) Authority() string {
	api := self.Api
	if api == "" {
		api = DefaultApi
	}
	return fmt.Sprintf("d-%s.%s", self.Domain, api)
}

type ConnectionState int

const (
	ConnectionStateClosed ConnectionState = iota
	ConnectionStateConnecting
	// open, waiting for the server to accept the session
	ConnectionStateOpen
	ConnectionStateAuthenticated
)

func (self ConnectionState) String() string {
	switch self {
	case ConnectionStateClosed:
		return "closed"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateOpen:
		return "open"
	case ConnectionStateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("unknown(%d)", int(self))
	}
}

type ClientState struct {
	Connection ConnectionState
	Connected  bool
	Authed     bool
	Caught     bool
	// the payload of the last `caught` frame on this connection
	CaughtPayload any
	Retries       int
	QueueLen      int
	Updated       time.Time
}

const (
	ChangeConnected = "connected"
	ChangeAuthed    = "authed"
	ChangeSession   = "session"
	ChangeUser      = "user"
	ChangeCaught    = "caught"
)

type ChangeEvent struct {
	Key   string
	Value any
}

type ChangeFunction func(event *ChangeEvent)

type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings   *ClientSettings
	instanceId Id
	authority  string

	storage   Storage
	delegate  Delegate
	dialer    Dialer
	scheduler Scheduler
	metrics   *Metrics

	eventsLock sync.Mutex
	events     []func()
	update     chan struct{}
	done       chan struct{}

	writer       *stateWriter
	writerCancel context.CancelFunc

	// event loop state

	session       *Session
	updated       time.Time
	profiles      Profiles
	settingsState Settings
	tree          *StateTree

	queue     *requestQueue
	observers *observerRegistry
	changes   *CallbackList[ChangeFunction]

	connection         ConnectionState
	handle             *transportHandle
	dialing            bool
	dialGeneration     uint64
	lastSequenceNumber uint64
	sentTime           time.Time
	retries            int
	reconnect          time.Duration
	authed             bool
	caught             bool
	caughtPayload      any

	reconnectTimer Timer
	heartbeatTimer Timer
	saveTimer      Timer
	saveLimiter    *rate.Limiter

	// published for readers off the event loop

	publishLock       sync.Mutex
	publishedState    ClientState
	publishedSession  *Session
	publishedProfiles Profiles
	publishedSettings Settings
	sudoClient        *Client
}

func NewClientWithDefaults(ctx context.Context, domain string) (*Client, error) {
	settings := DefaultClientSettings()
	settings.Domain = domain
	return NewClient(ctx, settings, NewMemoryStorage(), nil)
}

// `storage` and `delegate` may be nil
func NewClient(ctx context.Context, settings *ClientSettings, storage Storage, delegate Delegate) (*Client, error) {
	if settings == nil || settings.Domain == "" {
		return nil, ErrMissingDomain
	}
	// defaults are resolved on a copy, the caller's settings are not changed
	settingsCopy := *settings
	settings = &settingsCopy
	if storage == nil {
		storage = NewMemoryStorage()
	}
	if delegate == nil {
		delegate = NoopDelegate{}
	}
	dialer := settings.Dialer
	if dialer == nil {
		dialer = NewWebsocketDialerWithDefaults()
	}
	scheduler := settings.Scheduler
	if scheduler == nil {
		scheduler = SystemScheduler()
	}
	if settings.LogIdComparator == nil {
		settings.LogIdComparator = CompareBoundary
	}
	storageTimeout := settings.StorageTimeout
	if storageTimeout <= 0 {
		storageTimeout = DefaultClientSettings().StorageTimeout
	}
	sendBufferSize := settings.SendBufferSize
	if sendBufferSize <= 0 {
		sendBufferSize = DefaultClientSettings().SendBufferSize
	}
	settings.StorageTimeout = storageTimeout
	settings.SendBufferSize = sendBufferSize

	loadCtx, loadCancel := context.WithTimeout(ctx, storageTimeout)
	state, err := loadState(loadCtx, storage)
	loadCancel()
	if state == nil {
		glog.Infof("[c]load error, starting empty = %s\n", err)
		state = newPersistedState()
	} else if err != nil {
		glog.Infof("[c]load partial = %s\n", err)
	}

	session := state.session
	if !session.HasToken() && settings.Session != nil {
		session = settings.Session.Clone()
	}
	identityFromToken(session)

	saveLimit := rate.Inf
	if 0 < settings.SaveInterval {
		saveLimit = rate.Every(settings.SaveInterval)
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	// the writer outlives the client context to flush the last state
	writerCtx, writerCancel := context.WithCancel(context.Background())

	tree := NewStateTree()
	tree.Reset(state.state)

	client := &Client{
		ctx:           cancelCtx,
		cancel:        cancel,
		settings:      settings,
		instanceId:    NewId(),
		authority:     settings.Authority(),
		storage:       storage,
		delegate:      delegate,
		dialer:        dialer,
		scheduler:     scheduler,
		metrics:       settings.Metrics,
		events:        []func(){},
		update:        make(chan struct{}, 1),
		done:          make(chan struct{}),
		writer:        newStateWriter(writerCtx, storage, storageTimeout),
		writerCancel:  writerCancel,
		session:       session,
		updated:       state.updated,
		profiles:      state.profiles,
		settingsState: state.settings,
		tree:          tree,
		queue:         newRequestQueue(),
		observers:     newObserverRegistry(),
		changes:       NewCallbackList[ChangeFunction](),
		connection:    ConnectionStateClosed,
		reconnect:     settings.ReconnectInterval,
		saveLimiter:   rate.NewLimiter(saveLimit, 1),
	}
	client.publish()
	go client.run()
	return client, nil
}

// unique per client instance. Commands sent with `SendCommand` carry this id.
func (self *Client) InstanceId() Id {
	return self.instanceId
}

func (self *Client) Authority() string {
	return self.authority
}

func (self *Client) Secure() bool {
	return self.settings.Secure
}

// reports `authed=false` if there is no token, then connects if there is
func (self *Client) Init() {
	self.post(func() {
		if !self.session.HasToken() {
			self.change(ChangeAuthed, false)
		}
		self.attemptConnection()
	})
}

// `session` replaces the current session if not nil
func (self *Client) Connect(session *Session) {
	if session != nil {
		session = session.Clone()
	}
	self.post(func() {
		if session != nil {
			identityFromToken(session)
			self.setSession(session)
		}
		self.attemptConnection()
	})
}

// replaces the session without connecting. The session is saved.
func (self *Client) SetSession(session *Session) {
	session = session.Clone()
	self.post(func() {
		identityFromToken(session)
		self.setSession(session)
	})
}

// sets the reconnect interval and closes the transport.
// `reconnect` 0 disables reconnecting.
func (self *Client) Disconnect(reconnect time.Duration) {
	self.post(func() {
		self.disconnect(reconnect)
	})
}

func (self *Client) Send(payload any, callback ReplyFunction) {
	self.post(func() {
		self.queue.enqueue(payload, callback)
		glog.V(LogLevelDebug).Infof("[q]%s enqueue (%d)\n", self.instanceId, self.queue.len())
		self.sendNext()
	})
}

// sends and waits for the reply
func (self *Client) SendAndWait(ctx context.Context, payload any) (any, error) {
	replies := make(chan any, 1)
	if !self.post(func() {
		self.queue.enqueue(payload, func(result any) {
			replies <- result
		})
		self.sendNext()
	}) {
		return nil, context.Canceled
	}
	select {
	case result := <-replies:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-self.ctx.Done():
		return nil, context.Canceled
	}
}

// sends a command wrapped with this client's instance id,
// so that it is recognized as an own write when delivered back
func (self *Client) SendCommand(command *Command, callback ReplyFunction) {
	inner := Message{
		"type": MessageTypeCommand,
		"verb": command.Verb,
		"path": command.Path,
	}
	if command.Value != nil {
		inner["value"] = command.Value
	}
	self.Send(Message{
		"type":    MessageTypeClient,
		"client":  self.instanceId.String(),
		"message": inner,
	}, callback)
}

// clears the session and all user state, then disconnects without reconnecting
func (self *Client) Logout() {
	self.post(func() {
		self.updated = time.Time{}
		self.profiles = Profiles{}
		self.settingsState = Settings{}
		self.tree.Reset(nil)
		self.setSession(&Session{})
		self.setAuthed(false)
		self.scheduleSave()
		self.disconnect(0)
	})
}

// an impersonation client for `identity`. It shares the settings and transport configuration
// but has its own loop, queue, and in memory storage. A previous impersonation client is
// logged out and closed first.
func (self *Client) Sudo(identity string, delegate Delegate) (*Client, error) {
	self.publishLock.Lock()
	previous := self.sudoClient
	self.sudoClient = nil
	session := self.publishedSession.Clone()
	self.publishLock.Unlock()

	if previous != nil {
		previous.Logout()
		previous.barrier()
		previous.Close()
	}

	session.Sudo = identity

	settings := *self.settings
	settings.Session = session
	settings.Dialer = self.dialer
	settings.Scheduler = self.scheduler
	// the queue length gauge tracks one queue
	settings.Metrics = nil
	sudoClient, err := NewClient(self.ctx, &settings, NewMemoryStorage(), delegate)
	if err != nil {
		return nil, err
	}

	self.publishLock.Lock()
	self.sudoClient = sudoClient
	self.publishLock.Unlock()

	sudoClient.Init()
	return sudoClient, nil
}

// waits until events posted before the call have run. Returns false if the client closed first.
func (self *Client) Sync() bool {
	return self.barrier()
}

func (self *Client) Close() {
	self.cancel()
}

// closed after the loop exits and the last state is written
func (self *Client) Done() <-chan struct{} {
	return self.done
}

func (self *Client) State() ClientState {
	self.publishLock.Lock()
	defer self.publishLock.Unlock()

	return self.publishedState
}

func (self *Client) Session() *Session {
	self.publishLock.Lock()
	defer self.publishLock.Unlock()

	return self.publishedSession.Clone()
}

func (self *Client) Profiles() Profiles {
	self.publishLock.Lock()
	defer self.publishLock.Unlock()

	return copyProfiles(self.publishedProfiles)
}

func (self *Client) Settings() Settings {
	self.publishLock.Lock()
	defer self.publishLock.Unlock()

	return copyValue(self.publishedSettings).(map[string]any)
}

// a copy of the state tree value at `path`
func (self *Client) Get(path Path) (any, bool) {
	return self.tree.Get(path)
}

// returns a function that removes the callback
func (self *Client) AddChangeCallback(callback ChangeFunction) func() {
	callbackId := self.changes.Add(callback)
	return func() {
		self.changes.Remove(callbackId)
	}
}

// `callback` runs on the client event loop for each applied command under `prefix`,
// and once for every observer when catch up completes.
// Returns a function that removes the observer.
func (self *Client) Observe(prefix Path, callback ObserveFunction) func() {
	return self.observers.add(prefix, callback)
}

func (self *Client) post(event func()) bool {
	self.eventsLock.Lock()
	defer self.eventsLock.Unlock()

	select {
	case <-self.ctx.Done():
		return false
	default:
	}
	self.events = append(self.events, event)
	select {
	case self.update <- struct{}{}:
	default:
	}
	return true
}

func (self *Client) run() {
	defer func() {
		self.shutdown()
		self.writerCancel()
		<-self.writer.Done()
		close(self.done)
	}()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-self.update:
		}
		for {
			self.eventsLock.Lock()
			events := self.events
			self.events = []func(){}
			self.eventsLock.Unlock()

			if len(events) == 0 {
				break
			}
			for _, event := range events {
				HandleError(event)
				self.publish()
			}
		}
	}
}

// waits until all events posted before the call have run
func (self *Client) barrier() bool {
	done := make(chan struct{})
	if !self.post(func() {
		close(done)
	}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-self.ctx.Done():
		return false
	}
}

func (self *Client) shutdown() {
	glog.V(LogLevelDebug).Infof("[c]%s shutdown\n", self.instanceId)
	self.stopTimer(&self.reconnectTimer)
	self.stopTimer(&self.heartbeatTimer)
	if self.stopTimer(&self.saveTimer) {
		// trailing save
		self.saveNow()
	}
	self.dialGeneration += 1
	self.dialing = false
	if self.handle != nil {
		self.handle.close()
		self.handle = nil
	}
}

func (self *Client) publish() {
	// the caught payload is a json value, copied so readers do not share maps with the loop
	state := ClientState{
		Connection:    self.connection,
		Connected:     self.connection == ConnectionStateAuthenticated,
		Authed:        self.authed,
		Caught:        self.caught,
		CaughtPayload: copyValue(self.caughtPayload),
		Retries:       self.retries,
		QueueLen:      self.queue.len(),
		Updated:       self.updated,
	}
	self.metrics.queue(state.QueueLen)

	self.publishLock.Lock()
	defer self.publishLock.Unlock()

	self.publishedState = state
	self.publishedSession = self.session.Clone()
	self.publishedProfiles = copyProfiles(self.profiles)
	self.publishedSettings = copyValue(self.settingsState).(map[string]any)
}

func (self *Client) change(key string, value any) {
	self.publish()
	event := &ChangeEvent{
		Key:   key,
		Value: value,
	}
	for _, callback := range self.changes.Get() {
		HandleError(func() {
			callback(event)
		})
	}
}

func (self *Client) setSession(session *Session) {
	self.session = session
	self.change(ChangeSession, session.Clone())
	self.scheduleSave()
}

func (self *Client) setAuthed(authed bool) {
	self.authed = authed
	self.change(ChangeAuthed, authed)
}

func (self *Client) setConnection(connection ConnectionState) {
	if self.connection == connection {
		return
	}
	connected := self.connection == ConnectionStateAuthenticated
	self.connection = connection
	glog.V(LogLevelDebug).Infof("[c]%s %s\n", self.instanceId, connection)
	if nextConnected := connection == ConnectionStateAuthenticated; connected != nextConnected {
		self.change(ChangeConnected, nextConnected)
	}
}

func (self *Client) attemptConnection() {
	if !self.session.HasToken() || self.handle != nil || self.dialing {
		return
	}
	self.stopTimer(&self.reconnectTimer)
	// a mismatch is only logged, the server decides whether the token is good
	tokenMatchesDomain(self.session.Token, self.settings.Domain)

	self.dialing = true
	self.dialGeneration += 1
	dialGeneration := self.dialGeneration
	self.setConnection(ConnectionStateConnecting)

	connectUrl := ConnectUrl(self.settings.Secure, self.authority)
	glog.V(LogLevelDebug).Infof("[c]%s dial %s (%d)\n", self.instanceId, connectUrl, self.retries)
	go func() {
		conn, err := self.dialer.Dial(self.ctx, connectUrl)
		posted := self.post(func() {
			self.onDial(dialGeneration, conn, err)
		})
		if !posted && conn != nil {
			conn.Close()
		}
	}()
}

func (self *Client) onDial(dialGeneration uint64, conn Conn, err error) {
	if dialGeneration != self.dialGeneration || !self.dialing {
		// abandoned by a disconnect
		if conn != nil {
			conn.Close()
		}
		return
	}
	self.dialing = false
	if err != nil {
		glog.Infof("[c]%s dial error = %s\n", self.instanceId, err)
		self.onClose()
		return
	}

	handle := newTransportHandle(self.ctx, conn, self.settings.SendBufferSize)
	self.handle = handle
	handle.run(
		func(message []byte) {
			self.post(func() {
				if self.handle != handle {
					return
				}
				self.receivedData(message)
			})
		},
		func(err error) {
			self.post(func() {
				if self.handle != handle {
					return
				}
				self.onClose()
			})
		},
	)
	self.onOpen()
}

func (self *Client) onOpen() {
	self.metrics.connect()
	self.queue.resetInFlight()
	self.lastSequenceNumber = 0
	self.retries = 0
	self.caught = false
	self.caughtPayload = nil
	self.setConnection(ConnectionStateOpen)

	handshake, err := EncodeHandshake(self.session)
	if err != nil {
		glog.Infof("[c]%s handshake encode error = %s\n", self.instanceId, err)
		return
	}
	self.cast(handshake, "handshake")
	self.sendNext()
}

func (self *Client) onClose() {
	self.handle = nil
	self.stopTimer(&self.heartbeatTimer)
	self.queue.resetInFlight()
	self.metrics.disconnect()
	self.setConnection(ConnectionStateClosed)
	self.retries += 1

	// lazy reconnect. Only hold a connection while there is something to send.
	if 0 < self.queue.len() && 0 < self.reconnect {
		glog.Infof("[c]%s closed, reconnect in %s (%d)\n", self.instanceId, self.reconnect, self.retries)
		self.setReconnectTimer(self.reconnect)
	} else {
		glog.V(LogLevelDebug).Infof("[c]%s closed (%d)\n", self.instanceId, self.retries)
	}
}

func (self *Client) disconnect(reconnect time.Duration) {
	self.reconnect = reconnect
	if reconnect <= 0 {
		self.stopTimer(&self.reconnectTimer)
	}
	if self.dialing {
		self.dialGeneration += 1
		self.dialing = false
		self.onClose()
	}
	if self.handle != nil {
		// the reader reports the close
		self.handle.close()
	}
}

func (self *Client) cast(message []byte, kind string) bool {
	if self.handle == nil {
		return false
	}
	if self.handle.ctx.Err() != nil {
		glog.V(LogLevelDebug).Infof("[c]%s drop %s, transport closed\n", self.instanceId, kind)
		return false
	}
	if !self.handle.write(message) {
		glog.Infof("[c]%s send buffer full, closing\n", self.instanceId)
		self.handle.close()
		return false
	}
	self.metrics.frameOut(kind)
	return true
}

func (self *Client) castFrame(kind string, args ...any) bool {
	frame, err := EncodeFrame(kind, args...)
	if err != nil {
		glog.Infof("[c]%s encode %s error = %s\n", self.instanceId, kind, err)
		return false
	}
	return self.cast(frame, kind)
}

// sends the queue head if authenticated and nothing is in flight.
// When disconnected, schedules one connection attempt.
func (self *Client) sendNext() {
	if self.queue.busy() {
		return
	}
	switch self.connection {
	case ConnectionStateAuthenticated:
		entry := self.queue.head()
		if entry == nil {
			return
		}
		sequenceNumber := self.lastSequenceNumber + 1
		frame, err := EncodeFrame(FrameSend, sequenceNumber, entry.payload)
		if err != nil {
			glog.Infof("[q]%s drop unencodable payload = %s\n", self.instanceId, err)
			self.queue.rejectHead()
			self.sendNext()
			return
		}
		self.queue.takeHead(sequenceNumber)
		self.lastSequenceNumber = sequenceNumber
		self.sentTime = self.scheduler.Now()
		glog.V(LogLevelDebug).Infof("[q]%s send %d\n", self.instanceId, sequenceNumber)
		self.cast(frame, FrameSend)
	case ConnectionStateClosed:
		if 0 < self.queue.len() && self.reconnectTimer == nil {
			self.scheduleConnection()
		}
	}
}

// exactly one attempt. Immediately for the first connection or when reconnecting is disabled,
// otherwise after the reconnect interval.
func (self *Client) scheduleConnection() {
	if self.retries == 0 || self.reconnect <= 0 {
		self.attemptConnection()
	} else {
		self.setReconnectTimer(self.reconnect)
	}
}

func (self *Client) setReconnectTimer(after time.Duration) {
	self.stopTimer(&self.reconnectTimer)
	var timer Timer
	timer = self.scheduler.AfterFunc(after, func() {
		self.post(func() {
			if self.reconnectTimer != timer {
				return
			}
			self.reconnectTimer = nil
			self.attemptConnection()
		})
	})
	self.reconnectTimer = timer
}

// the server sets the heartbeat cadence with each `pong`
func (self *Client) setHeartbeatTimer(after time.Duration) {
	self.stopTimer(&self.heartbeatTimer)
	if after <= 0 {
		return
	}
	var timer Timer
	timer = self.scheduler.AfterFunc(after, func() {
		self.post(func() {
			if self.heartbeatTimer != timer {
				return
			}
			self.heartbeatTimer = nil
			self.castFrame(FramePing)
		})
	})
	self.heartbeatTimer = timer
}

// true if the timer was set
func (self *Client) stopTimer(timer *Timer) bool {
	if *timer == nil {
		return false
	}
	(*timer).Stop()
	*timer = nil
	return true
}

// saves at most once per save interval. A save requested inside the interval
// is deferred to the end of the interval.
func (self *Client) scheduleSave() {
	if self.saveTimer != nil {
		// trailing save already scheduled
		return
	}
	now := self.scheduler.Now()
	reservation := self.saveLimiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		self.saveNow()
		return
	}
	var timer Timer
	timer = self.scheduler.AfterFunc(delay, func() {
		self.post(func() {
			if self.saveTimer != timer {
				return
			}
			self.saveTimer = nil
			self.saveNow()
		})
	})
	self.saveTimer = timer
}

func (self *Client) saveNow() {
	self.metrics.save()
	self.writer.write(&persistedState{
		updated:  self.updated,
		session:  self.session.Clone(),
		profiles: copyProfiles(self.profiles),
		settings: copyValue(self.settingsState).(map[string]any),
		state:    self.tree.Snapshot(),
	})
}

func copyProfiles(profiles Profiles) Profiles {
	c := Profiles{}
	for identity, profile := range profiles {
		if profile == nil {
			c[identity] = nil
			continue
		}
		c[identity] = copyValue(profile).(map[string]any)
	}
	return c
}
