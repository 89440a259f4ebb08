package remote

import (
	"context"
	goerrors "errors"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/butlergreece/capacitor-geolocation/pkg/bridge"
	"github.com/butlergreece/capacitor-geolocation/pkg/errors"
)

// errEventQueueFull reports a dropped event frame when the dispatch queue
// cannot keep up.
var errEventQueueFull = goerrors.New("event queue full, frame dropped")

// pendingCall represents an invoke waiting for its result frame.
type pendingCall struct {
	done   chan struct{}
	result []byte
	err    error
}

// Bridge is a NativeBridge backed by a websocket connection to a host
// process. Install it with bridge.SetNativeBridge after dialing.
type Bridge struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]*pendingCall
	nextID    atomic.Int64

	// Event frames are handed off to a dispatch goroutine: an event handler
	// may invoke back into the host, and that invoke needs the read loop
	// free to deliver its result.
	events chan Frame

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to a host at the given websocket URL and starts the read
// loop. The returned Bridge is ready to install.
func Dial(ctx context.Context, url string) (*Bridge, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		conn:    conn,
		pending: make(map[int64]*pendingCall),
		events:  make(chan Frame, 256),
		closed:  make(chan struct{}),
	}
	go b.readLoop()
	go b.dispatchLoop()
	return b, nil
}

// Close shuts the connection down and fails all outstanding invokes.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closed)
		err = b.conn.Close()
		b.failPending(bridge.ErrClosed)
	})
	return err
}

// InvokeMethod sends an invoke frame and blocks until the host responds or
// the connection closes.
func (b *Bridge) InvokeMethod(channel, method string, args []byte) ([]byte, error) {
	id := b.nextID.Add(1)
	call := &pendingCall{done: make(chan struct{})}

	b.pendingMu.Lock()
	b.pending[id] = call
	b.pendingMu.Unlock()

	frame := Frame{
		Type:    FrameInvoke,
		ID:      id,
		Channel: channel,
		Method:  method,
		Args:    args,
	}
	if err := b.writeFrame(frame); err != nil {
		b.pendingMu.Lock()
		delete(b.pending, id)
		b.pendingMu.Unlock()
		return nil, err
	}

	select {
	case <-call.done:
		return call.result, call.err
	case <-b.closed:
		return nil, bridge.ErrClosed
	}
}

// StartEventStream asks the host to start sending events for a channel.
func (b *Bridge) StartEventStream(channel string) error {
	return b.writeFrame(Frame{Type: FrameListen, Channel: channel})
}

// StopEventStream asks the host to stop sending events for a channel.
func (b *Bridge) StopEventStream(channel string) error {
	return b.writeFrame(Frame{Type: FrameCancel, Channel: channel})
}

func (b *Bridge) writeFrame(frame Frame) error {
	select {
	case <-b.closed:
		return bridge.ErrClosed
	default:
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.conn.WriteJSON(frame)
}

// readLoop routes inbound frames: results resolve pending invokes, events
// are handed to the channel registry. A read error tears the bridge down.
func (b *Bridge) readLoop() {
	for {
		var frame Frame
		if err := b.conn.ReadJSON(&frame); err != nil {
			select {
			case <-b.closed:
			default:
				errors.Report(&errors.PluginError{
					Op:   "remote.readLoop",
					Kind: errors.KindPlatform,
					Err:  err,
				})
			}
			b.Close()
			return
		}

		switch frame.Type {
		case FrameResult:
			b.resolvePending(frame)
		case FrameEvent, FrameEventError, FrameEventDone:
			select {
			case b.events <- frame:
			case <-b.closed:
				return
			default:
				errors.Report(&errors.PluginError{
					Op:      "remote.readLoop",
					Kind:    errors.KindPlatform,
					Channel: frame.Channel,
					Err:     errEventQueueFull,
				})
			}
		}
	}
}

// dispatchLoop delivers queued event frames to the channel registry in
// arrival order.
func (b *Bridge) dispatchLoop() {
	for {
		select {
		case <-b.closed:
			return
		case frame := <-b.events:
			switch frame.Type {
			case FrameEvent:
				bridge.HandleEvent(frame.Channel, frame.Data)
			case FrameEventError:
				code, message := "unknown", ""
				if frame.Error != nil {
					code, message = frame.Error.Code, frame.Error.Message
				}
				bridge.HandleEventError(frame.Channel, code, message)
			case FrameEventDone:
				bridge.HandleEventDone(frame.Channel)
			}
		}
	}
}

func (b *Bridge) resolvePending(frame Frame) {
	b.pendingMu.Lock()
	call, ok := b.pending[frame.ID]
	if ok {
		delete(b.pending, frame.ID)
	}
	b.pendingMu.Unlock()
	if !ok {
		return
	}

	if frame.Error != nil {
		call.err = bridge.NewChannelError(frame.Error.Code, frame.Error.Message)
	} else {
		call.result = frame.Result
	}
	close(call.done)
}

func (b *Bridge) failPending(err error) {
	b.pendingMu.Lock()
	pending := b.pending
	b.pending = make(map[int64]*pendingCall)
	b.pendingMu.Unlock()

	for _, call := range pending {
		call.err = err
		close(call.done)
	}
}
