package bridge

import (
	"sync"

	"github.com/butlergreece/capacitor-geolocation/pkg/errors"
)

// AppState is the singleton application state service. The host shell feeds
// it foreground/background transitions, which the plugin uses to restart
// location monitoring after the app returns to the foreground.
var AppState = &AppStateService{
	channel:  NewMethodChannel("app/state"),
	events:   NewEventChannel("app/state/events"),
	state:    AppStateActive,
	handlers: make([]AppStateHandler, 0),
}

// AppStateService manages application foreground/background state.
type AppStateService struct {
	channel  *MethodChannel
	events   *EventChannel
	state    AppStateValue
	handlers []AppStateHandler
	mu       sync.RWMutex
}

// AppStateValue represents the current application state.
type AppStateValue string

const (
	// AppStateActive indicates the app is visible and responding to user input.
	AppStateActive AppStateValue = "active"

	// AppStateInactive indicates the app is transitioning (e.g., receiving a
	// phone call or showing a system dialog).
	AppStateInactive AppStateValue = "inactive"

	// AppStateBackground indicates the app is not visible but still running.
	AppStateBackground AppStateValue = "background"
)

// AppStateHandler is called when the application state changes.
type AppStateHandler func(state AppStateValue)

func init() {
	setupAppStateListeners()
	registerBuiltinInit(setupAppStateListeners)
}

func setupAppStateListeners() {
	AppState.events.Listen(EventHandler{
		OnEvent: func(data any) {
			m, ok := data.(map[string]any)
			if !ok {
				errors.Report(&errors.PluginError{
					Op:      "appstate.parseEvent",
					Kind:    errors.KindParsing,
					Channel: "app/state/events",
					Err: &errors.ParseError{
						Channel:  "app/state/events",
						DataType: "AppStateValue",
						Got:      data,
					},
				})
				return
			}
			state, ok := m["state"].(string)
			if !ok {
				errors.Report(&errors.PluginError{
					Op:      "appstate.parseEvent",
					Kind:    errors.KindParsing,
					Channel: "app/state/events",
					Err: &errors.ParseError{
						Channel:  "app/state/events",
						DataType: "AppStateValue",
						Got:      data,
					},
				})
				return
			}
			AppState.updateState(AppStateValue(state))
		},
		OnError: func(err error) {
			errors.Report(&errors.PluginError{
				Op:      "appstate.streamError",
				Kind:    errors.KindPlatform,
				Channel: "app/state/events",
				Err:     err,
			})
		},
	})

	// Handle method calls from the host (older shells push state this way).
	AppState.channel.SetHandler(func(method string, args any) (any, error) {
		switch method {
		case "didChangeState":
			if m, ok := args.(map[string]any); ok {
				if state, ok := m["state"].(string); ok {
					AppState.updateState(AppStateValue(state))
				}
			}
			return nil, nil
		default:
			return nil, ErrMethodNotFound
		}
	})
}

// State returns the current application state.
func (a *AppStateService) State() AppStateValue {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// AddHandler registers a handler to be called on state changes.
// Returns a function that can be called to remove the handler.
func (a *AppStateService) AddHandler(handler AppStateHandler) func() {
	a.mu.Lock()
	a.handlers = append(a.handlers, handler)
	index := len(a.handlers) - 1
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		if index < len(a.handlers) {
			a.handlers = append(a.handlers[:index], a.handlers[index+1:]...)
		}
		a.mu.Unlock()
	}
}

// IsActive returns true if the app is in the active state.
func (a *AppStateService) IsActive() bool {
	return a.State() == AppStateActive
}

// IsBackground returns true if the app is backgrounded.
func (a *AppStateService) IsBackground() bool {
	return a.State() == AppStateBackground
}

// updateState updates the application state and notifies handlers.
func (a *AppStateService) updateState(newState AppStateValue) {
	a.mu.Lock()
	if a.state == newState {
		a.mu.Unlock()
		return
	}
	a.state = newState
	handlers := make([]AppStateHandler, len(a.handlers))
	copy(handlers, a.handlers)
	a.mu.Unlock()

	for _, h := range handlers {
		h(newState)
	}
}
