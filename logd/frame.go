package logd

import (
	"encoding/json"
	"errors"
	"fmt"
)

// frames are json arrays tagged by their first element.
// The handshake is the one exception: it is the bare session object.

const (
	// outbound
	FramePing = "ping"
	FrameSend = "send"

	// inbound
	FrameConnected = "connected"
	FramePong      = "pong"
	FrameError     = "error"
	FrameReply     = "reply"
	FrameCatchup   = "catchup"
	FrameForward   = "forward"
	FrameCaught    = "caught"
)

// kinds of `error` frame
const (
	ErrorKindInit    = "init"
	ErrorKindSession = "session"
	ErrorKindConn    = "conn"
)

type Frame struct {
	Kind string
	Args []json.RawMessage
}

func (self *Frame) Arg(i int) json.RawMessage {
	if i < len(self.Args) {
		return self.Args[i]
	}
	return nil
}

func (self *Frame) StringArg(i int) (string, error) {
	var value string
	if err := json.Unmarshal(self.Arg(i), &value); err != nil {
		return "", fmt.Errorf("%s[%d]: %w", self.Kind, i+1, err)
	}
	return value, nil
}

func (self *Frame) IntArg(i int) (int64, error) {
	value, err := unmarshalBoundary(self.Arg(i))
	if err != nil {
		return 0, fmt.Errorf("%s[%d]: %w", self.Kind, i+1, err)
	}
	return value, nil
}

func DecodeFrame(data []byte) (*Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	if len(parts) == 0 {
		return nil, errors.New("frame: empty")
	}
	var kind string
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return nil, fmt.Errorf("frame kind: %w", err)
	}
	return &Frame{
		Kind: kind,
		Args: parts[1:],
	}, nil
}

func EncodeFrame(kind string, args ...any) ([]byte, error) {
	parts := make([]any, 0, 1+len(args))
	parts = append(parts, kind)
	parts = append(parts, args...)
	return json.Marshal(parts)
}

func EncodeHandshake(session *Session) ([]byte, error) {
	return json.Marshal(session)
}

// an application message delivered in a `catchup` or `forward` batch
type Message map[string]any

func (self Message) Type() string {
	t, _ := self["type"].(string)
	return t
}

func (self Message) String(key string) string {
	s, _ := self[key].(string)
	return s
}

func (self Message) Object(key string) map[string]any {
	m, _ := self[key].(map[string]any)
	return m
}

type LogItem struct {
	Locus   Locus
	Message Message
}

// items are [locus, message]. The message first order [message, locus] is also accepted.
func (self *LogItem) UnmarshalJSON(src []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(src, &parts); err != nil {
		return fmt.Errorf("log item: %w", err)
	}
	if len(parts) != 2 {
		return fmt.Errorf("log item must be [locus, message] (%d parts)", len(parts))
	}
	locusPart, messagePart := parts[0], parts[1]
	if 0 < len(locusPart) && locusPart[0] == '{' {
		locusPart, messagePart = messagePart, locusPart
	}
	var item LogItem
	if err := json.Unmarshal(locusPart, &item.Locus); err != nil {
		return err
	}
	if err := json.Unmarshal(messagePart, &item.Message); err != nil {
		return fmt.Errorf("log item message: %w", err)
	}
	*self = item
	return nil
}

// decodes the items of a batch one by one, so that one bad item does not drop the batch
func DecodeLogItems(src json.RawMessage) ([]*LogItem, []error, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(src, &parts); err != nil {
		return nil, nil, fmt.Errorf("log items: %w", err)
	}
	items := make([]*LogItem, 0, len(parts))
	errs := []error{}
	for _, part := range parts {
		item := &LogItem{}
		if err := json.Unmarshal(part, item); err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, item)
	}
	return items, errs, nil
}
