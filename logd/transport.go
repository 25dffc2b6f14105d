package logd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// a duplex message connection. One frame per message.
// `ReadMessage` is called from a single reader goroutine and
// `WriteMessage` from a single writer goroutine.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(message []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// ws[s]://<authority>/connect
func ConnectUrl(secure bool, authority string) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   authority,
		Path:   "/connect",
	}
	return u.String()
}

type WebsocketDialerSettings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// zero means no read deadline. The server sets the heartbeat cadence with `pong`,
	// so a read deadline should be larger than the longest expected pong interval.
	ReadTimeout     time.Duration
	ReadBufferSize  int
	WriteBufferSize int
	Header          http.Header
}

func DefaultWebsocketDialerSettings() *WebsocketDialerSettings {
	return &WebsocketDialerSettings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      0,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
}

type WebsocketDialer struct {
	settings *WebsocketDialerSettings
}

func NewWebsocketDialerWithDefaults() *WebsocketDialer {
	return NewWebsocketDialer(DefaultWebsocketDialerSettings())
}

func NewWebsocketDialer(settings *WebsocketDialerSettings) *WebsocketDialer {
	return &WebsocketDialer{
		settings: settings,
	}
}

func (self *WebsocketDialer) Dial(ctx context.Context, connectUrl string) (Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: self.settings.HandshakeTimeout,
		ReadBufferSize:   self.settings.ReadBufferSize,
		WriteBufferSize:  self.settings.WriteBufferSize,
	}
	dial := func() (*websocket.Conn, error) {
		ws, _, err := dialer.DialContext(ctx, connectUrl, self.settings.Header)
		return ws, err
	}
	ws, err := TraceWithReturnError(fmt.Sprintf("[t]connect %s", connectUrl), dial)
	if err != nil {
		return nil, err
	}
	return &websocketConn{
		ws:       ws,
		settings: self.settings,
	}, nil
}

type websocketConn struct {
	ws       *websocket.Conn
	settings *WebsocketDialerSettings

	closeOnce sync.Once
}

func (self *websocketConn) ReadMessage() ([]byte, error) {
	for {
		if 0 < self.settings.ReadTimeout {
			self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		}
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			return message, nil
		default:
			glog.V(2).Infof("[tr]other=%d\n", messageType)
		}
	}
}

func (self *websocketConn) WriteMessage(message []byte) error {
	self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	// note that for websocket a deadline timeout cannot be recovered
	return self.ws.WriteMessage(websocket.TextMessage, message)
}

func (self *websocketConn) Close() error {
	var err error
	self.closeOnce.Do(func() {
		// control writes may run concurrently with the writer goroutine
		self.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(self.settings.WriteTimeout),
		)
		err = self.ws.Close()
	})
	return err
}

// the client side of one open connection. Writes go through a buffered channel
// drained by one writer goroutine. The reader goroutine posts frames to the client loop.
type transportHandle struct {
	ctx    context.Context
	cancel context.CancelFunc

	conn Conn
	send chan []byte
}

func newTransportHandle(ctx context.Context, conn Conn, sendBufferSize int) *transportHandle {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &transportHandle{
		ctx:    cancelCtx,
		cancel: cancel,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
}

// `receive` and `closed` are called from the reader goroutine
func (self *transportHandle) run(receive func([]byte), closed func(error)) {
	go func() {
		defer self.close()

		for {
			select {
			case <-self.ctx.Done():
				return
			case message := <-self.send:
				if err := self.conn.WriteMessage(message); err != nil {
					glog.Infof("[ts]-> error = %s\n", err)
					return
				}
				glog.V(2).Infof("[ts]-> %s\n", message)
			}
		}
	}()

	go func() {
		defer self.close()

		for {
			message, err := self.conn.ReadMessage()
			if err != nil {
				select {
				case <-self.ctx.Done():
				default:
					glog.Infof("[tr]<- error = %s\n", err)
				}
				closed(err)
				return
			}
			glog.V(2).Infof("[tr]<- %s\n", message)
			receive(message)
		}
	}()
}

// false if the send buffer is full
func (self *transportHandle) write(message []byte) bool {
	select {
	case <-self.ctx.Done():
		return false
	default:
	}
	select {
	case self.send <- message:
		return true
	default:
		return false
	}
}

// closing the conn unblocks the reader, which reports the close
func (self *transportHandle) close() {
	self.cancel()
	self.conn.Close()
}
