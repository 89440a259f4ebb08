// Package remote implements a NativeBridge over a websocket connection.
// It lets the plugin run against a host process (such as the geosim
// simulator) instead of an embedded native shell, using a small JSON frame
// protocol.
package remote

import "encoding/json"

// Frame types exchanged between the plugin and the host.
const (
	// FrameInvoke carries a method call from the plugin to the host.
	FrameInvoke = "invoke"
	// FrameResult carries a method-call response from the host.
	FrameResult = "result"
	// FrameListen asks the host to start sending events for a channel.
	FrameListen = "listen"
	// FrameCancel asks the host to stop sending events for a channel.
	FrameCancel = "cancel"
	// FrameEvent carries one event from the host.
	FrameEvent = "event"
	// FrameEventError carries an event-stream error from the host.
	FrameEventError = "eventError"
	// FrameEventDone signals the end of an event stream.
	FrameEventDone = "eventDone"
)

// Frame is one message on the wire. Fields are populated according to Type.
type Frame struct {
	Type    string          `json:"type"`
	ID      int64           `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Method  string          `json:"method,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
}

// FrameError is a host-side failure attached to a result or event frame.
type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
