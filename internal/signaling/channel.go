// Package signaling owns the persistent progress connection to the call server
// for one call attempt.
//
// A Channel is single use: Open it once with the attempt's credentials, read
// typed progress events from Events, and Cancel it when the attempt ends.
// Connection failures never surface as errors; they arrive as a single
// terminated event with reason "closed" so callers have one failure path.
package signaling

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopcall/internal/proto"
)

var log = logging.Logger("signaling")

var ErrNotConnected = errors.New("signaling: channel not connected")

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
)

// Options tunes the websocket connection.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Dialer           *websocket.Dialer
}

// Channel is one progress-reporting connection tied to one set of credentials.
type Channel struct {
	opts Options

	events chan proto.ProgressEvent
	done   chan struct{}
	stop   sync.Once

	// sendMu orders sends on events against its close.
	sendMu       sync.Mutex
	eventsClosed bool

	mu     sync.Mutex
	opened bool
	closed bool
	conn   *websocket.Conn
	callID string
	cancel context.CancelFunc

	writeMu sync.Mutex
}

func New(opts Options) *Channel {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	}
	return &Channel{
		opts:   opts,
		events: make(chan proto.ProgressEvent),
		done:   make(chan struct{}),
	}
}

// Events delivers progress in server order. It is closed once the channel is
// closed, either by a terminal frame, a connection failure or Cancel.
func (c *Channel) Events() <-chan proto.ProgressEvent { return c.events }

// Open starts connecting and returns immediately. Calling Open twice, or after
// Cancel, does nothing.
func (c *Channel) Open(ctx context.Context, creds proto.SessionCredentials) {
	c.mu.Lock()
	if c.opened || c.closed {
		c.mu.Unlock()
		log.Warnf("SIGNAL [%s]: open ignored (opened=%v closed=%v)", creds.CallID, c.opened, c.closed)
		return
	}
	c.opened = true
	c.callID = creds.CallID
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.run(ctx, creds)
}

func (c *Channel) run(ctx context.Context, creds proto.SessionCredentials) {
	stopWatch := context.AfterFunc(ctx, c.Cancel)
	defer stopWatch()

	dctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	conn, _, err := c.opts.Dialer.DialContext(dctx, creds.ProgressURL, nil)
	cancel()
	if err != nil {
		log.Warnf("SIGNAL [%s]: connect failed: %v", creds.CallID, err)
		c.terminate(proto.ReasonClosed)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()
	log.Debugf("SIGNAL [%s]: connected to %s", creds.CallID, creds.ProgressURL)

	if err := c.write(proto.Hello{
		MessageType: proto.MessageHello,
		CallID:      creds.CallID,
		Auth:        creds.WebsocketToken,
	}); err != nil {
		log.Warnf("SIGNAL [%s]: hello failed: %v", creds.CallID, err)
		c.terminate(proto.ReasonClosed)
		return
	}

	// The server must answer hello within the handshake window.
	_ = conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	for {
		var f proto.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if !c.isClosed() {
				log.Warnf("SIGNAL [%s]: read: %v", creds.CallID, err)
			}
			c.terminate(proto.ReasonClosed)
			return
		}
		switch f.MessageType {
		case proto.MessageHello:
			_ = conn.SetReadDeadline(time.Time{})
		case proto.MessageProgress:
		case proto.MessageEcho:
			continue
		default:
			log.Debugf("SIGNAL [%s]: ignoring %q frame", creds.CallID, f.MessageType)
			continue
		}

		switch f.State {
		case proto.StateAlerting:
			c.emit(proto.ProgressEvent{Kind: proto.ProgressAlerting})
		case proto.StateConnecting:
			c.emit(proto.ProgressEvent{Kind: proto.ProgressConnecting})
		case proto.StateTerminated:
			c.terminate(proto.ParseReason(f.Reason))
			return
		default:
			log.Debugf("SIGNAL [%s]: progress %q", creds.CallID, f.State)
		}
	}
}

// NotifyMediaReady tells the server local and remote media are both up.
func (c *Channel) NotifyMediaReady() error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if conn == nil || closed {
		return ErrNotConnected
	}
	return c.write(proto.Action{MessageType: proto.MessageAction, Event: proto.ActionMediaUp})
}

// Cancel tears the channel down. No event is delivered after Cancel returns.
// Idempotent; safe before Open and after the server closed the channel.
func (c *Channel) Cancel() {
	c.shutdown(true)
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// emit delivers ev unless the channel is closing. shutdown closes done before
// taking sendMu, which unblocks a pending send.
func (c *Channel) emit(ev proto.ProgressEvent) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.eventsClosed {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Channel) terminate(reason proto.TerminationReason) {
	c.emit(proto.ProgressEvent{Kind: proto.ProgressTerminated, Reason: reason})
	c.shutdown(false)
}

func (c *Channel) shutdown(local bool) {
	c.stop.Do(func() { close(c.done) })

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn, cancel, callID := c.conn, c.cancel, c.callID
	c.mu.Unlock()

	c.sendMu.Lock()
	c.eventsClosed = true
	close(c.events)
	c.sendMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return
	}
	if local {
		if err := c.write(proto.Action{
			MessageType: proto.MessageAction,
			Event:       proto.ActionTerminate,
			Reason:      string(proto.ReasonCancel),
		}); err != nil {
			log.Debugf("SIGNAL [%s]: terminate not sent: %v", callID, err)
		}
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.opts.WriteTimeout))
	c.writeMu.Unlock()
	conn.Close()
	log.Debugf("SIGNAL [%s]: closed (local=%v)", callID, local)
}

func (c *Channel) write(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return conn.WriteJSON(v)
}
