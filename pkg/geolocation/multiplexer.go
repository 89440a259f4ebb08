package geolocation

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/butlergreece/capacitor-geolocation/pkg/bridge"
	"github.com/butlergreece/capacitor-geolocation/pkg/errors"
)

// Channel names for the host location provider.
const (
	providerChannelName      = "geolocation/provider"
	updatesChannelName       = "geolocation/updates"
	authorizationChannelName = "geolocation/authorization"
)

// Options configures a position request.
type Options struct {
	// HighAccuracy requests the highest available accuracy (may use more power).
	HighAccuracy bool
}

// WatchCallback receives repeated position fixes, or errors, for a watch.
// Exactly one of position and err is non-nil per delivery.
type WatchCallback func(position *Position, err error)

// watchEntry is a persistent subscription identified by an opaque id.
type watchEntry struct {
	id           string
	highAccuracy bool
	callback     WatchCallback
	removed      atomic.Bool
}

func (w *watchEntry) deliver(pos *Position, err error) {
	if w.removed.Load() {
		return
	}
	w.callback(pos, err)
}

// oneShotResult carries the outcome of a single-shot request.
type oneShotResult struct {
	pos Position
	err error
}

// oneShotEntry is a pending single-shot position request.
type oneShotEntry struct {
	highAccuracy bool
	result       chan oneShotResult
}

func (o *oneShotEntry) resolve(res oneShotResult) {
	select {
	case o.result <- res:
	default:
	}
}

// Multiplexer binds one underlying location-update stream and one
// authorization-state stream to any number of outstanding logical requests:
// single-shot position requests, watch subscriptions and pending permission
// requests. It never opens more than one continuous monitoring session on
// the host, regardless of how many watches are active.
type Multiplexer struct {
	provider   *bridge.MethodChannel
	updates    *bridge.EventChannel
	authEvents *bridge.EventChannel
	authStream *bridge.Stream[authorizationSnapshot]

	mu             sync.Mutex
	watches        map[string]*watchEntry
	oneShots       map[*oneShotEntry]struct{}
	permWaiters    []chan PermissionStatusMap
	monitoring     bool
	monitorHighAcc bool
	fixInFlight    bool
	promptInFlight bool
	updatesBound   bool
	authBound      bool
	updatesSub     *bridge.Subscription
	authUnsub      func()

	removeAppStateHandler func()
}

// NewMultiplexer creates the multiplexer and hooks it to the app state
// service so monitoring is restarted when the app returns to the foreground.
func NewMultiplexer() *Multiplexer {
	m := &Multiplexer{
		provider:   bridge.NewMethodChannel(providerChannelName),
		updates:    bridge.NewEventChannel(updatesChannelName),
		authEvents: bridge.NewEventChannel(authorizationChannelName),
		watches:    make(map[string]*watchEntry),
		oneShots:   make(map[*oneShotEntry]struct{}),
	}
	m.authStream = bridge.NewStream(authorizationChannelName, m.authEvents, parseAuthorization)
	m.removeAppStateHandler = bridge.AppState.AddHandler(func(state bridge.AppStateValue) {
		if state == bridge.AppStateActive {
			m.restartMonitoring()
		}
	})
	return m
}

// Close tears down the multiplexer: the app state hook is removed and both
// event subscriptions are canceled. Pending requests are not resolved.
func (m *Multiplexer) Close() {
	if m.removeAppStateHandler != nil {
		m.removeAppStateHandler()
		m.removeAppStateHandler = nil
	}
	m.mu.Lock()
	updatesSub, authUnsub := m.updatesSub, m.authUnsub
	m.updatesSub, m.authUnsub = nil, nil
	m.updatesBound, m.authBound = false, false
	m.mu.Unlock()
	if updatesSub != nil {
		updatesSub.Cancel()
	}
	if authUnsub != nil {
		authUnsub()
	}
}

// bind subscribes to the update and authorization streams. Guard flags keep
// each stream bound at most once no matter how many requests arrive.
func (m *Multiplexer) bind() {
	m.mu.Lock()
	needUpdates := !m.updatesBound
	if needUpdates {
		m.updatesBound = true
	}
	needAuth := !m.authBound
	if needAuth {
		m.authBound = true
	}
	m.mu.Unlock()

	if needUpdates {
		sub := m.updates.Listen(bridge.EventHandler{
			OnEvent: m.handleUpdate,
			OnError: m.handleUpdateError,
			OnDone:  m.handleUpdatesDone,
		})
		m.mu.Lock()
		m.updatesSub = sub
		m.mu.Unlock()
	}
	if needAuth {
		// The typed stream parses snapshots and reports stream errors itself.
		unsub := m.authStream.Listen(m.applyAuthorization)
		m.mu.Lock()
		m.authUnsub = unsub
		m.mu.Unlock()
	}
}

// RequestOnce registers a single-shot position request and resolves on the
// next delivered fix or propagated error. Location services being globally
// disabled fails fast before any permission or registry work. When the
// authorization flow has not run yet, the request is held and the prompt is
// triggered; a denied or restricted outcome fails the request without ever
// querying the location source.
func (m *Multiplexer) RequestOnce(ctx context.Context, opts Options) (*Position, error) {
	enabled, err := m.servicesEnabled()
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, ErrLocationServicesDisabled
	}

	snap, err := m.checkAuthorization()
	if err != nil {
		return nil, err
	}
	state := snap.location
	if state.blocked() {
		return nil, state.permissionError()
	}

	m.bind()

	entry := &oneShotEntry{
		highAccuracy: opts.HighAccuracy,
		result:       make(chan oneShotResult, 1),
	}

	m.mu.Lock()
	m.oneShots[entry] = struct{}{}
	prime := false
	prompt := false
	if state.granted() {
		prime = !m.fixInFlight
		if prime {
			m.fixInFlight = true
		}
	} else {
		prompt = !m.promptInFlight
		if prompt {
			m.promptInFlight = true
		}
	}
	m.mu.Unlock()

	if prime {
		if err := m.primeFix(opts.HighAccuracy); err != nil {
			m.removeOneShot(entry)
			return nil, err
		}
	} else if prompt {
		if err := m.triggerPrompt(); err != nil {
			m.removeOneShot(entry)
			return nil, err
		}
	}

	select {
	case res := <-entry.result:
		if res.err != nil {
			return nil, res.err
		}
		return &res.pos, nil
	case <-ctx.Done():
		m.removeOneShot(entry)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, bridge.ErrTimeout
		}
		return nil, bridge.ErrCanceled
	}
}

// Watch registers a persistent subscription under the caller-supplied id.
// The first watch under granted authorization starts the single continuous
// monitoring session; further watches share it. A watch registered while
// access is denied receives the permission error immediately but stays in
// the registry so a later authorization change can still serve it.
func (m *Multiplexer) Watch(id string, opts Options, callback WatchCallback) error {
	if id == "" || callback == nil {
		return ErrInvalidArguments
	}

	enabled, err := m.servicesEnabled()
	if err != nil {
		return err
	}
	if !enabled {
		return ErrLocationServicesDisabled
	}

	snap, err := m.checkAuthorization()
	if err != nil {
		return err
	}
	state := snap.location

	m.bind()

	entry := &watchEntry{
		id:           id,
		highAccuracy: opts.HighAccuracy,
		callback:     callback,
	}

	m.mu.Lock()
	if _, exists := m.watches[id]; exists {
		m.mu.Unlock()
		return ErrInvalidArguments
	}
	m.watches[entry.id] = entry
	start := false
	prompt := false
	if state.granted() && !m.monitoring {
		m.monitoring = true
		m.monitorHighAcc = opts.HighAccuracy
		start = true
	}
	if !state.determined() && !m.promptInFlight {
		m.promptInFlight = true
		prompt = true
	}
	m.mu.Unlock()

	if start {
		if err := m.startMonitoring(opts.HighAccuracy); err != nil {
			entry.deliver(nil, err)
		}
	}
	if prompt {
		if err := m.triggerPrompt(); err != nil {
			entry.deliver(nil, err)
		}
	}
	if state.blocked() {
		entry.deliver(nil, state.permissionError())
	}

	return nil
}

// ClearWatch removes a watch by id. Clearing the last remaining watch stops
// the continuous monitoring session. An unknown id is a no-op; an empty id
// is an error.
func (m *Multiplexer) ClearWatch(id string) error {
	if id == "" {
		return ErrInvalidArguments
	}

	m.mu.Lock()
	entry, ok := m.watches[id]
	if ok {
		entry.removed.Store(true)
		delete(m.watches, id)
	}
	stop := ok && len(m.watches) == 0 && m.monitoring
	if stop {
		m.monitoring = false
	}
	m.mu.Unlock()

	if stop {
		return m.stopMonitoring()
	}
	return nil
}

// CheckPermissions returns the mapped public status of both permissions.
// Read-only: the registry is not touched and no prompt is shown.
func (m *Multiplexer) CheckPermissions() (PermissionStatusMap, error) {
	snap, err := m.checkAuthorization()
	if err != nil {
		return PermissionStatusMap{}, err
	}
	return snap.statuses(), nil
}

// RequestPermissions resolves immediately with the current status when the
// authorization flow already ran. Otherwise it registers a waiter, triggers
// exactly one prompt, and resolves with the post-prompt status.
func (m *Multiplexer) RequestPermissions(ctx context.Context) (PermissionStatusMap, error) {
	snap, err := m.checkAuthorization()
	if err != nil {
		return PermissionStatusMap{}, err
	}
	if snap.location.determined() {
		return snap.statuses(), nil
	}

	m.bind()

	waiter := make(chan PermissionStatusMap, 1)
	m.mu.Lock()
	m.permWaiters = append(m.permWaiters, waiter)
	prompt := !m.promptInFlight
	if prompt {
		m.promptInFlight = true
	}
	m.mu.Unlock()

	if prompt {
		if err := m.triggerPrompt(); err != nil {
			m.removePermWaiter(waiter)
			return PermissionStatusMap{}, err
		}
	}

	select {
	case statuses := <-waiter:
		return statuses, nil
	case <-ctx.Done():
		m.removePermWaiter(waiter)
		if ctx.Err() == context.DeadlineExceeded {
			return PermissionStatusMap{}, bridge.ErrTimeout
		}
		return PermissionStatusMap{}, bridge.ErrCanceled
	}
}

// handleUpdate delivers a fix to every interested caller: pending one-shots
// are fulfilled and removed, watches keep receiving.
func (m *Multiplexer) handleUpdate(data any) {
	pos, err := parsePosition(data)
	if err != nil {
		errors.Report(&errors.PluginError{
			Op:      "geolocation.parseUpdate",
			Kind:    errors.KindParsing,
			Channel: updatesChannelName,
			Err:     err,
		})
		return
	}

	m.mu.Lock()
	m.fixInFlight = false
	oneShots := make([]*oneShotEntry, 0, len(m.oneShots))
	for e := range m.oneShots {
		oneShots = append(oneShots, e)
		delete(m.oneShots, e)
	}
	watches := make([]*watchEntry, 0, len(m.watches))
	for _, w := range m.watches {
		watches = append(watches, w)
	}
	m.mu.Unlock()

	for _, e := range oneShots {
		e.resolve(oneShotResult{pos: pos})
	}
	for _, w := range watches {
		p := pos
		w.deliver(&p, nil)
	}
}

// handleUpdateError fails pending one-shots with the mapped error. Watches
// receive the error but remain registered, so a transient unavailability
// does not kill a long-lived subscription.
func (m *Multiplexer) handleUpdateError(err error) {
	mapped := mapHostError(err)

	m.mu.Lock()
	m.fixInFlight = false
	oneShots := make([]*oneShotEntry, 0, len(m.oneShots))
	for e := range m.oneShots {
		oneShots = append(oneShots, e)
		delete(m.oneShots, e)
	}
	watches := make([]*watchEntry, 0, len(m.watches))
	for _, w := range m.watches {
		watches = append(watches, w)
	}
	m.mu.Unlock()

	for _, e := range oneShots {
		e.resolve(oneShotResult{err: mapped})
	}
	for _, w := range watches {
		w.deliver(nil, mapped)
	}
}

// handleUpdatesDone clears the stream binding so a later request rebinds.
func (m *Multiplexer) handleUpdatesDone() {
	m.mu.Lock()
	m.updatesSub = nil
	m.updatesBound = false
	m.fixInFlight = false
	m.mu.Unlock()
}

// applyAuthorization runs the fan-out for an authorization change, in fixed
// order: pending permission requests resolve first, then a denying state
// fails pending position requests (watches stay registered), then a granting
// state primes held one-shots and starts monitoring for watches.
func (m *Multiplexer) applyAuthorization(snap authorizationSnapshot) {
	state := snap.location

	m.mu.Lock()
	m.promptInFlight = false

	waiters := m.permWaiters
	m.permWaiters = nil
	statuses := snap.statuses()

	var failedOneShots []*oneShotEntry
	var notifiedWatches []*watchEntry
	var permErr error
	primeHighAcc := false
	prime := false
	start := false
	startHighAcc := false

	switch {
	case state.blocked():
		permErr = state.permissionError()
		// The host revokes the session along with access; a later grant
		// must start a fresh one.
		m.monitoring = false
		m.fixInFlight = false
		for e := range m.oneShots {
			failedOneShots = append(failedOneShots, e)
			delete(m.oneShots, e)
		}
		for _, w := range m.watches {
			notifiedWatches = append(notifiedWatches, w)
		}
	case state.granted():
		for e := range m.oneShots {
			if e.highAccuracy {
				primeHighAcc = true
			}
		}
		prime = len(m.oneShots) > 0 && !m.fixInFlight
		if prime {
			m.fixInFlight = true
		}
		if len(m.watches) > 0 && !m.monitoring {
			m.monitoring = true
			for _, w := range m.watches {
				if w.highAccuracy {
					startHighAcc = true
				}
			}
			m.monitorHighAcc = startHighAcc
			start = true
		}
	}
	m.mu.Unlock()

	for _, waiter := range waiters {
		select {
		case waiter <- statuses:
		default:
		}
	}
	for _, e := range failedOneShots {
		e.resolve(oneShotResult{err: permErr})
	}
	for _, w := range notifiedWatches {
		w.deliver(nil, permErr)
	}
	if prime {
		if err := m.primeFix(primeHighAcc); err != nil {
			m.handleUpdateError(err)
		}
	}
	if start {
		if err := m.startMonitoring(startHighAcc); err != nil {
			m.mu.Lock()
			m.monitoring = false
			watches := make([]*watchEntry, 0, len(m.watches))
			for _, w := range m.watches {
				watches = append(watches, w)
			}
			m.mu.Unlock()
			for _, w := range watches {
				w.deliver(nil, err)
			}
		}
	}
}

// restartMonitoring forcibly restarts the continuous session after the app
// returns to the foreground: backgrounding may have invalidated the host's
// delivery channel. Stop, drop the stream binding, start, rebind. One-shot
// and permission requests are unaffected.
func (m *Multiplexer) restartMonitoring() {
	m.mu.Lock()
	if len(m.watches) == 0 || !m.monitoring {
		m.mu.Unlock()
		return
	}
	highAcc := m.monitorHighAcc
	sub := m.updatesSub
	m.updatesSub = nil
	m.updatesBound = false
	m.mu.Unlock()

	if err := m.stopMonitoring(); err != nil {
		errors.Report(&errors.PluginError{
			Op:      "geolocation.restartMonitoring",
			Kind:    errors.KindLocation,
			Channel: providerChannelName,
			Err:     err,
		})
	}
	if sub != nil {
		sub.Cancel()
	}
	if err := m.startMonitoring(highAcc); err != nil {
		errors.Report(&errors.PluginError{
			Op:      "geolocation.restartMonitoring",
			Kind:    errors.KindLocation,
			Channel: providerChannelName,
			Err:     err,
		})
	}
	m.bind()
}

func (m *Multiplexer) removeOneShot(entry *oneShotEntry) {
	m.mu.Lock()
	delete(m.oneShots, entry)
	m.mu.Unlock()
}

func (m *Multiplexer) removePermWaiter(waiter chan PermissionStatusMap) {
	m.mu.Lock()
	for i, w := range m.permWaiters {
		if w == waiter {
			m.permWaiters = append(m.permWaiters[:i], m.permWaiters[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
}

// servicesEnabled asks the host whether location sensing is globally on.
func (m *Multiplexer) servicesEnabled() (bool, error) {
	result, err := m.provider.Invoke("isEnabled", nil)
	if err != nil {
		return false, mapHostError(err)
	}
	if r := bridge.ParseMap(result); r != nil {
		return bridge.ParseBool(r["enabled"]), nil
	}
	return false, nil
}

// checkAuthorization queries the host's current authorization snapshot.
func (m *Multiplexer) checkAuthorization() (authorizationSnapshot, error) {
	result, err := m.provider.Invoke("checkAuthorization", nil)
	if err != nil {
		return authorizationSnapshot{}, mapHostError(err)
	}
	snap, parseErr := parseAuthorization(result)
	if parseErr != nil {
		return authorizationSnapshot{}, ErrPositionUnavailable
	}
	return snap, nil
}

// primeFix asks the source for a single fix (single-fix mode).
func (m *Multiplexer) primeFix(highAccuracy bool) error {
	_, err := m.provider.Invoke("requestFix", map[string]any{
		"highAccuracy": highAccuracy,
	})
	if err != nil {
		m.mu.Lock()
		m.fixInFlight = false
		m.mu.Unlock()
		return mapHostError(err)
	}
	return nil
}

func (m *Multiplexer) startMonitoring(highAccuracy bool) error {
	_, err := m.provider.Invoke("startMonitoring", map[string]any{
		"highAccuracy": highAccuracy,
	})
	if err != nil {
		return mapHostError(err)
	}
	return nil
}

func (m *Multiplexer) stopMonitoring() error {
	_, err := m.provider.Invoke("stopMonitoring", nil)
	if err != nil {
		return mapHostError(err)
	}
	return nil
}

// triggerPrompt asks the host to show the authorization dialog. The outcome
// arrives on the authorization event channel.
func (m *Multiplexer) triggerPrompt() error {
	_, err := m.provider.Invoke("requestAuthorization", nil)
	if err != nil {
		m.mu.Lock()
		m.promptInFlight = false
		m.mu.Unlock()
		return mapHostError(err)
	}
	return nil
}

// watchCount reports the number of registered watches.
func (m *Multiplexer) watchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}
