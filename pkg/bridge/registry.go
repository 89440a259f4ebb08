package bridge

import (
	"fmt"
	"sync"

	"github.com/butlergreece/capacitor-geolocation/pkg/errors"
)

// channelRegistry manages all registered bridge channels.
type channelRegistry struct {
	methodChannels map[string]*MethodChannel
	eventChannels  map[string]*EventChannel
	mu             sync.RWMutex
}

var registry = &channelRegistry{
	methodChannels: make(map[string]*MethodChannel),
	eventChannels:  make(map[string]*EventChannel),
}

func (r *channelRegistry) registerMethod(name string, ch *MethodChannel) {
	r.mu.Lock()
	r.methodChannels[name] = ch
	r.mu.Unlock()
}

func (r *channelRegistry) registerEvent(name string, ch *EventChannel) {
	r.mu.Lock()
	r.eventChannels[name] = ch
	r.mu.Unlock()
}

func (r *channelRegistry) getMethodChannel(name string) *MethodChannel {
	r.mu.RLock()
	ch := r.methodChannels[name]
	r.mu.RUnlock()
	return ch
}

func (r *channelRegistry) getEventChannel(name string) *EventChannel {
	r.mu.RLock()
	ch := r.eventChannels[name]
	r.mu.RUnlock()
	return ch
}

// nativeBridge is the interface to the host platform.
// This is set by the embedding application during initialization.
var (
	nativeBridge   NativeBridge
	nativeBridgeMu sync.RWMutex
)

// builtinInits holds functions that re-register the built-in event listeners
// set up during package init (app state, etc.). Each init() function appends
// its listener setup here so that ResetForTest can replay them after
// clearing subscriptions.
var builtinInits []func()

// registerBuiltinInit registers a function that sets up built-in event
// listeners. The registered function will be replayed by ResetForTest.
func registerBuiltinInit(fn func()) {
	builtinInits = append(builtinInits, fn)
}

// NativeBridge defines the interface for calling host platform code.
type NativeBridge interface {
	// InvokeMethod calls a method on the host side.
	InvokeMethod(channel, method string, args []byte) ([]byte, error)

	// StartEventStream tells the host to start sending events for a channel.
	StartEventStream(channel string) error

	// StopEventStream tells the host to stop sending events for a channel.
	StopEventStream(channel string) error
}

// SetNativeBridge sets the native bridge implementation.
// Called by the embedding application during initialization.
//
// After setting the bridge, SetNativeBridge starts event streams for any
// event channels that acquired subscriptions before the bridge was available
// (e.g., during package init). This ensures that init-time Listen calls are
// not silently lost. Startup errors are dispatched to subscribers' error
// handlers.
func SetNativeBridge(b NativeBridge) {
	nativeBridgeMu.Lock()
	nativeBridge = b
	nativeBridgeMu.Unlock()

	registry.mu.RLock()
	channels := make([]*EventChannel, 0, len(registry.eventChannels))
	for _, ch := range registry.eventChannels {
		channels = append(channels, ch)
	}
	registry.mu.RUnlock()

	for _, ch := range channels {
		ch.mu.Lock()
		shouldStart := len(ch.subscriptions) > 0 && !ch.started
		if shouldStart {
			ch.started = true
		}
		ch.mu.Unlock()

		if shouldStart {
			if err := startEventStream(ch.name); err != nil {
				ch.mu.Lock()
				ch.started = false
				ch.mu.Unlock()
				ch.dispatchError(err)
			}
		}
	}
}

func currentBridge() NativeBridge {
	nativeBridgeMu.RLock()
	b := nativeBridge
	nativeBridgeMu.RUnlock()
	return b
}

func hasBridge() bool {
	return currentBridge() != nil
}

// invokeHost calls a method on the host side.
func invokeHost(channel, method string, args any) (any, error) {
	b := currentBridge()
	if b == nil {
		return nil, ErrBridgeUnavailable
	}

	argsData, err := DefaultCodec.Encode(args)
	if err != nil {
		return nil, err
	}

	resultData, err := b.InvokeMethod(channel, method, argsData)
	if err != nil {
		return nil, err
	}

	return DefaultCodec.Decode(resultData)
}

// startEventStream notifies the host to start sending events.
func startEventStream(channel string) error {
	b := currentBridge()
	if b == nil {
		errors.Report(&errors.PluginError{
			Op:      "bridge.startEventStream",
			Kind:    errors.KindPlatform,
			Channel: channel,
			Err:     ErrBridgeUnavailable,
		})
		return ErrBridgeUnavailable
	}
	if err := b.StartEventStream(channel); err != nil {
		errors.Report(&errors.PluginError{
			Op:      "bridge.startEventStream",
			Kind:    errors.KindPlatform,
			Channel: channel,
			Err:     err,
		})
		return err
	}
	return nil
}

// stopEventStream notifies the host to stop sending events.
func stopEventStream(channel string) error {
	b := currentBridge()
	if b == nil {
		errors.Report(&errors.PluginError{
			Op:      "bridge.stopEventStream",
			Kind:    errors.KindPlatform,
			Channel: channel,
			Err:     ErrBridgeUnavailable,
		})
		return ErrBridgeUnavailable
	}
	if err := b.StopEventStream(channel); err != nil {
		errors.Report(&errors.PluginError{
			Op:      "bridge.stopEventStream",
			Kind:    errors.KindPlatform,
			Channel: channel,
			Err:     err,
		})
		return err
	}
	return nil
}

// HandleMethodCall is called from the bridge when the host invokes a Go method.
func HandleMethodCall(channel, method string, argsData []byte) ([]byte, error) {
	ch := registry.getMethodChannel(channel)
	if ch == nil {
		return nil, ErrChannelNotFound
	}

	args, err := DefaultCodec.Decode(argsData)
	if err != nil {
		return nil, err
	}

	result, err := ch.handleCall(method, args)
	if err != nil {
		return nil, err
	}

	return DefaultCodec.Encode(result)
}

// ErrChannelNotRegistered is returned when an event is received for an unregistered channel.
var ErrChannelNotRegistered = fmt.Errorf("event channel not registered")

// HandleEvent is called from the bridge when the host sends an event.
func HandleEvent(channel string, eventData []byte) error {
	ch := registry.getEventChannel(channel)
	if ch == nil {
		err := fmt.Errorf("%w: %s", ErrChannelNotRegistered, channel)
		errors.Report(&errors.PluginError{
			Op:      "bridge.HandleEvent",
			Kind:    errors.KindPlatform,
			Channel: channel,
			Err:     err,
		})
		return err
	}

	data, err := DefaultCodec.Decode(eventData)
	if err != nil {
		ch.dispatchError(err)
		return err
	}

	ch.dispatchEvent(data)
	return nil
}

// HandleEventError is called from the bridge when an event stream errors.
func HandleEventError(channel string, code, message string) error {
	ch := registry.getEventChannel(channel)
	if ch == nil {
		err := fmt.Errorf("%w: %s", ErrChannelNotRegistered, channel)
		errors.Report(&errors.PluginError{
			Op:      "bridge.HandleEventError",
			Kind:    errors.KindPlatform,
			Channel: channel,
			Err:     err,
		})
		return err
	}

	ch.dispatchError(NewChannelError(code, message))
	return nil
}

// HandleEventDone is called from the bridge when an event stream ends.
func HandleEventDone(channel string) error {
	ch := registry.getEventChannel(channel)
	if ch == nil {
		err := fmt.Errorf("%w: %s", ErrChannelNotRegistered, channel)
		errors.Report(&errors.PluginError{
			Op:      "bridge.HandleEventDone",
			Kind:    errors.KindPlatform,
			Channel: channel,
			Err:     err,
		})
		return err
	}

	ch.dispatchDone()
	return nil
}

// ResetForTest resets all global bridge state for test isolation.
// It clears the native bridge, resets the cached app state, removes all
// event subscriptions, and re-registers the built-in init-time listeners so
// that the package behaves as if freshly initialized. This should only be
// called from tests.
func ResetForTest() {
	nativeBridgeMu.Lock()
	nativeBridge = nil
	nativeBridgeMu.Unlock()

	AppState.mu.Lock()
	AppState.state = AppStateActive
	AppState.handlers = AppState.handlers[:0]
	AppState.mu.Unlock()

	registry.mu.RLock()
	channels := make([]*EventChannel, 0, len(registry.eventChannels))
	for _, ch := range registry.eventChannels {
		channels = append(channels, ch)
	}
	registry.mu.RUnlock()

	for _, ch := range channels {
		ch.mu.Lock()
		ch.subscriptions = ch.subscriptions[:0]
		ch.started = false
		ch.mu.Unlock()
	}

	dispatchMu.Lock()
	dispatchFunc = nil
	dispatchMu.Unlock()

	for _, fn := range builtinInits {
		fn()
	}
}
