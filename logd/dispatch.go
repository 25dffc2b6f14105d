package logd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
)

// builtin message types
const (
	MessageTypeLogin   = "login"
	MessageTypeLogout  = "logout"
	MessageTypeCommand = "command"
	// wraps a message authored by one client instance, `{type, client, message}`
	MessageTypeClient = "client"
)

// processes one inbound frame on the event loop. Nothing here returns an error:
// failures are logged and the stream continues.
func (self *Client) receivedData(data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		glog.Infof("[d]%s drop bad frame = %s\n", self.instanceId, err)
		return
	}
	glog.V(LogLevelTrace).Infof("[d]%s <- %s\n", self.instanceId, data)
	self.metrics.frameIn(frame.Kind)

	switch frame.Kind {
	case FrameConnected:
		glog.V(LogLevelDebug).Infof("[d]%s authenticated\n", self.instanceId)
		session := self.session.Clone()
		if err := session.Patch(frame.Arg(0)); err != nil {
			glog.Infof("[d]%s bad session patch = %s\n", self.instanceId, err)
		} else {
			self.setSession(session)
		}
		self.setConnection(ConnectionStateAuthenticated)
		self.setAuthed(true)
		self.castFrame(FramePing)
		self.sendNext()

	case FramePong:
		intervalMillis, err := frame.IntArg(0)
		if err != nil {
			glog.Infof("[d]%s bad pong = %s\n", self.instanceId, err)
			break
		}
		self.setHeartbeatTimer(time.Duration(intervalMillis) * time.Millisecond)

	case FrameError:
		self.receivedError(frame, data)

	case FrameReply:
		self.receivedReply(frame)

	case FrameCatchup, FrameForward:
		self.receivedLogItems(frame)

	case FrameCaught:
		var payload any
		if arg := frame.Arg(0); arg != nil {
			if err := json.Unmarshal(arg, &payload); err != nil {
				glog.Infof("[d]%s bad caught payload = %s\n", self.instanceId, err)
			}
		}
		self.caught = true
		self.caughtPayload = payload
		for _, profile := range self.profiles {
			DefaultSettings(profile, self.settingsState, self.delegate)
		}
		self.observers.reconcile(self.tree)
		self.change(ChangeCaught, payload)

	default:
		glog.Infof("[d]%s unrecognized frame = %s\n", self.instanceId, data)
	}

	self.updated = self.scheduler.Now()
	self.scheduleSave()
}

func (self *Client) receivedError(frame *Frame, data []byte) {
	kind, _ := frame.StringArg(0)
	self.metrics.errorFrame(kind)

	switch kind {
	case ErrorKindInit:
		glog.Errorf("[d]%s bad session data = %s\n", self.instanceId, data)
	case ErrorKindSession:
		glog.Infof("[d]%s session invalidated = %s\n", self.instanceId, data)
		self.setSession(&Session{})
		self.setAuthed(false)
		if self.connection == ConnectionStateAuthenticated {
			self.setConnection(ConnectionStateOpen)
		}
	case ErrorKindConn:
		glog.Infof("[d]%s failed to establish connection = %s\n", self.instanceId, data)
		self.setSession(self.session.Credentials())
	default:
		glog.Infof("[d]%s unexpected error = %s\n", self.instanceId, data)
		if entry := self.queue.rejectHead(); entry != nil {
			glog.V(LogLevelDebug).Infof("[q]%s reject %d\n", self.instanceId, entry.sequenceNumber)
		}
		self.sendNext()
	}
}

// the reply is for the head, whatever its shape
func (self *Client) receivedReply(frame *Frame) {
	entry := self.queue.headInFlight()
	if entry == nil {
		glog.Infof("[d]%s reply with nothing in flight\n", self.instanceId)
		return
	}
	if sequenceNumber, err := frame.IntArg(0); err != nil || uint64(sequenceNumber) != entry.sequenceNumber {
		glog.Infof("[d]%s reply sequence %s does not match %d\n", self.instanceId, frame.Arg(0), entry.sequenceNumber)
	}

	var result any
	if arg := frame.Arg(1); arg != nil {
		if err := json.Unmarshal(arg, &result); err != nil {
			glog.Infof("[d]%s bad reply result = %s\n", self.instanceId, err)
		}
	}

	self.metrics.reply(self.scheduler.Now().Sub(self.sentTime).Seconds())
	if entry.callback != nil {
		HandleError(func() {
			entry.callback(result)
		})
	}
	self.queue.completeHead()
	self.sendNext()
}

// `catchup` and `forward` are processed the same
func (self *Client) receivedLogItems(frame *Frame) {
	items, itemErrs, err := DecodeLogItems(frame.Arg(0))
	if err != nil {
		glog.Infof("[d]%s bad %s = %s\n", self.instanceId, frame.Kind, err)
		return
	}
	for _, itemErr := range itemErrs {
		glog.Infof("[d]%s skip %s item = %s\n", self.instanceId, frame.Kind, itemErr)
	}

	since := self.session.Since
	for _, item := range items {
		if self.handleBuiltin(item.Message) {
			HandleError(func() {
				self.delegate.HandleMessage(item.Message)
			})
		}
		since = MergeWith(self.settings.LogIdComparator, since, PositionAfter(item.Locus))
	}
	self.session.Since = since
	glog.V(LogLevelDebug).Infof("[d]%s %s %d items\n", self.instanceId, frame.Kind, len(items))
}

// applies the builtin effect of a message. Returns false if the message was not accepted.
func (self *Client) handleBuiltin(message Message) bool {
	switch message.Type() {
	case MessageTypeLogin:
		identity, _ := message.Object("session")["identity"].(string)
		profile := message.Object("profile")
		if profile == nil {
			profile = Profile{}
		}
		self.profiles[identity] = profile
		DefaultSettings(profile, self.settingsState, self.delegate)
		self.change(ChangeUser, copyValue(profile))
		return true

	case MessageTypeLogout:
		identity, _ := message.Object("session")["identity"].(string)
		delete(self.profiles, identity)
		return true

	case MessageTypeCommand:
		return self.applyCommand(message, false)

	case MessageTypeClient:
		inner := Message(message.Object("message"))
		if inner.Type() != MessageTypeCommand {
			return true
		}
		ownWrite := message.String("client") == self.instanceId.String()
		return self.applyCommand(inner, ownWrite)

	default:
		return true
	}
}

func (self *Client) applyCommand(message Message, ownWrite bool) bool {
	var applyErr error
	HandleError(func() {
		command, err := commandFromMessage(message)
		if err != nil {
			applyErr = err
			return
		}
		if err := self.tree.Apply(command); err != nil {
			applyErr = err
			return
		}
		self.observers.applied(self.tree, command.Path, self.caught, ownWrite)
	}, func(err error) {
		applyErr = err
	})
	if applyErr != nil {
		glog.Infof("[d]%s command failed = %s\n", self.instanceId, applyErr)
		self.metrics.commandFailed()
		return false
	}
	return true
}

// `{type: "command", verb, path, value}`
func commandFromMessage(message Message) (*Command, error) {
	verb := message.String("verb")
	if verb == "" {
		return nil, fmt.Errorf("command has no verb")
	}
	path, err := pathFromValue(message["path"])
	if err != nil {
		return nil, err
	}
	return &Command{
		Verb:  verb,
		Path:  path,
		Value: message["value"],
	}, nil
}

func pathFromValue(value any) (Path, error) {
	switch v := value.(type) {
	case nil:
		// the root is only written with an explicit `[]`
		return nil, fmt.Errorf("command has no path")
	case string:
		return Path{v}, nil
	case Path:
		return v, nil
	case []string:
		return Path(v), nil
	case []any:
		path := make(Path, 0, len(v))
		for _, key := range v {
			s, ok := key.(string)
			if !ok {
				return nil, fmt.Errorf("path key must be a string (%T)", key)
			}
			path = append(path, s)
		}
		return path, nil
	default:
		return nil, fmt.Errorf("path must be a list of keys or a key (%T)", value)
	}
}
