package bridge

import (
	"sync"
	"testing"
)

// recordingBridge counts stream starts/stops and records invocations.
type recordingBridge struct {
	mu      sync.Mutex
	starts  map[string]int
	stops   map[string]int
	invokes []string
	result  []byte
	err     error
}

func newRecordingBridge() *recordingBridge {
	return &recordingBridge{
		starts: make(map[string]int),
		stops:  make(map[string]int),
	}
}

func (b *recordingBridge) InvokeMethod(channel, method string, args []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invokes = append(b.invokes, channel+"."+method)
	if b.err != nil {
		return nil, b.err
	}
	if b.result != nil {
		return b.result, nil
	}
	return DefaultCodec.Encode(nil)
}

func (b *recordingBridge) StartEventStream(channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts[channel]++
	return nil
}

func (b *recordingBridge) StopEventStream(channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stops[channel]++
	return nil
}

func (b *recordingBridge) startCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.starts[channel]
}

func (b *recordingBridge) stopCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stops[channel]
}

func TestEventChannelSingleHostStream(t *testing.T) {
	rb := newRecordingBridge()
	SetNativeBridge(rb)
	t.Cleanup(ResetForTest)

	ch := NewEventChannel("test/events/single")

	sub1 := ch.Listen(EventHandler{OnEvent: func(any) {}})
	sub2 := ch.Listen(EventHandler{OnEvent: func(any) {}})

	if got := rb.startCount("test/events/single"); got != 1 {
		t.Errorf("expected 1 host stream start for two listeners, got %d", got)
	}

	sub1.Cancel()
	if got := rb.stopCount("test/events/single"); got != 0 {
		t.Errorf("expected no stop while a listener remains, got %d", got)
	}

	sub2.Cancel()
	if got := rb.stopCount("test/events/single"); got != 1 {
		t.Errorf("expected stop after last listener canceled, got %d", got)
	}
}

func TestEventChannelDispatchFanOut(t *testing.T) {
	SetupTestBridge(t.Cleanup)

	ch := NewEventChannel("test/events/fanout")

	var got1, got2 []any
	ch.Listen(EventHandler{OnEvent: func(data any) { got1 = append(got1, data) }})
	sub2 := ch.Listen(EventHandler{OnEvent: func(data any) { got2 = append(got2, data) }})

	ch.dispatchEvent("a")
	sub2.Cancel()
	ch.dispatchEvent("b")

	if len(got1) != 2 {
		t.Errorf("expected first listener to receive 2 events, got %d", len(got1))
	}
	if len(got2) != 1 {
		t.Errorf("expected canceled listener to receive 1 event, got %d", len(got2))
	}
}

func TestEventChannelDispatchDone(t *testing.T) {
	SetupTestBridge(t.Cleanup)

	ch := NewEventChannel("test/events/done")

	done := 0
	sub := ch.Listen(EventHandler{OnDone: func() { done++ }})

	ch.dispatchDone()

	if done != 1 {
		t.Errorf("expected OnDone once, got %d", done)
	}
	if !sub.IsCanceled() {
		t.Error("expected subscription canceled after done")
	}
}

func TestMethodChannelInvoke(t *testing.T) {
	rb := newRecordingBridge()
	var err error
	rb.result, err = DefaultCodec.Encode(map[string]any{"ok": true})
	if err != nil {
		t.Fatal(err)
	}
	SetNativeBridge(rb)
	t.Cleanup(ResetForTest)

	ch := NewMethodChannel("test/method")
	result, err := ch.Invoke("ping", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := result.(map[string]any)
	if !ok || m["ok"] != true {
		t.Errorf("unexpected result: %#v", result)
	}
	if len(rb.invokes) != 1 || rb.invokes[0] != "test/method.ping" {
		t.Errorf("unexpected invocations: %v", rb.invokes)
	}
}

func TestInvokeWithoutBridge(t *testing.T) {
	t.Cleanup(ResetForTest)
	ResetForTest()

	ch := NewMethodChannel("test/method/nobridge")
	if _, err := ch.Invoke("ping", nil); err != ErrBridgeUnavailable {
		t.Errorf("expected ErrBridgeUnavailable, got %v", err)
	}
}

func TestHandleMethodCall(t *testing.T) {
	SetupTestBridge(t.Cleanup)

	ch := NewMethodChannel("test/incoming")
	ch.SetHandler(func(method string, args any) (any, error) {
		if method != "echo" {
			return nil, ErrMethodNotFound
		}
		return args, nil
	})

	args, _ := DefaultCodec.Encode(map[string]any{"v": "hello"})
	result, err := HandleMethodCall("test/incoming", "echo", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, _ := DefaultCodec.Decode(result)
	m, ok := decoded.(map[string]any)
	if !ok || m["v"] != "hello" {
		t.Errorf("unexpected result: %#v", decoded)
	}

	if _, err := HandleMethodCall("test/incoming", "missing", nil); err != ErrMethodNotFound {
		t.Errorf("expected ErrMethodNotFound, got %v", err)
	}
	if _, err := HandleMethodCall("test/unknown-channel", "echo", nil); err != ErrChannelNotFound {
		t.Errorf("expected ErrChannelNotFound, got %v", err)
	}
}

func TestHandleEventRoutesToChannel(t *testing.T) {
	SetupTestBridge(t.Cleanup)

	ch := NewEventChannel("test/events/routed")
	var got []any
	ch.Listen(EventHandler{OnEvent: func(data any) { got = append(got, data) }})

	payload, _ := DefaultCodec.Encode(map[string]any{"n": float64(7)})
	if err := HandleEvent("test/events/routed", payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}

	var errs []error
	ch.Listen(EventHandler{OnError: func(err error) { errs = append(errs, err) }})
	if err := HandleEventError("test/events/routed", "unavailable", "gps off"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 error event, got %d", len(errs))
	}
}

func TestChannelErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *ChannelError
		want string
	}{
		{"code and message", NewChannelError("denied", "user denied"), "denied: user denied"},
		{"code only", NewChannelError("denied", ""), "denied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestEventDeliveryUsesRegisteredDispatch(t *testing.T) {
	SetupTestBridge(t.Cleanup)

	var queue []func()
	RegisterDispatch(func(cb func()) { queue = append(queue, cb) })

	ch := NewEventChannel("test/dispatched")
	var events []any
	var errs []error
	done := false
	ch.Listen(EventHandler{
		OnEvent: func(data any) { events = append(events, data) },
		OnError: func(err error) { errs = append(errs, err) },
		OnDone:  func() { done = true },
	})

	HandleEvent("test/dispatched", []byte(`{"n": 1}`))
	HandleEventError("test/dispatched", "sourceLost", "gps gone")

	if len(events) != 0 || len(errs) != 0 {
		t.Fatal("delivery ran before the scheduled callback")
	}
	for _, cb := range queue {
		cb()
	}
	queue = queue[:0]
	if len(events) != 1 {
		t.Errorf("got %d events, want 1", len(events))
	}
	if len(errs) != 1 {
		t.Errorf("got %d errors, want 1", len(errs))
	}

	HandleEventDone("test/dispatched")
	if done {
		t.Fatal("done ran before the scheduled callback")
	}
	for _, cb := range queue {
		cb()
	}
	if !done {
		t.Error("done not delivered")
	}
}
