package host

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/butlergreece/capacitor-geolocation/pkg/remote"
)

// session handles one websocket connection: it answers provider method
// calls, tracks which event channels the peer is listening on, and runs at
// most one monitoring loop at a time.
type session struct {
	conn   *websocket.Conn
	source Source
	logger *slog.Logger

	writeMu sync.Mutex

	mu          sync.Mutex
	listening   map[string]bool
	fine        string
	coarse      string
	decision    string
	promptDelay time.Duration
	enabled     bool
	monitorStop chan struct{}
	closed      bool
}

func newSession(conn *websocket.Conn, source Source, sc scenario, logger *slog.Logger) *session {
	return &session{
		conn:        conn,
		source:      source,
		logger:      logger,
		listening:   make(map[string]bool),
		fine:        sc.fine,
		coarse:      sc.coarse,
		decision:    sc.decision,
		promptDelay: sc.promptDelay,
		enabled:     sc.enabled,
	}
}

func (s *session) run() {
	s.logger.Debug("session started")
	defer s.teardown()

	for {
		var frame remote.Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("session read error", "err", err)
			}
			return
		}

		switch frame.Type {
		case remote.FrameInvoke:
			s.handleInvoke(frame)
		case remote.FrameListen:
			s.mu.Lock()
			s.listening[frame.Channel] = true
			s.mu.Unlock()
		case remote.FrameCancel:
			s.mu.Lock()
			delete(s.listening, frame.Channel)
			s.mu.Unlock()
		}
	}
}

func (s *session) teardown() {
	s.mu.Lock()
	s.closed = true
	stop := s.monitorStop
	s.monitorStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	s.conn.Close()
	s.logger.Debug("session closed")
}

func (s *session) handleInvoke(frame remote.Frame) {
	if frame.Channel != providerChannel {
		// Plugin-originated traffic on other channels (watch deliveries to
		// the shell, lifecycle notifications) is acknowledged, not served:
		// geosim has no shell to forward it to.
		s.logger.Debug("acknowledged non-provider invoke", "channel", frame.Channel, "method", frame.Method)
		s.reply(frame.ID, map[string]any{})
		return
	}

	s.logger.Debug("invoke", "method", frame.Method)
	switch frame.Method {
	case "isEnabled":
		s.mu.Lock()
		enabled := s.enabled
		s.mu.Unlock()
		s.reply(frame.ID, map[string]any{"enabled": enabled})

	case "checkAuthorization":
		s.reply(frame.ID, s.authSnapshot())

	case "requestAuthorization":
		s.reply(frame.ID, map[string]any{})
		s.runPrompt()

	case "requestFix":
		s.handleRequestFix(frame)

	case "startMonitoring":
		s.handleStartMonitoring(frame)

	case "stopMonitoring":
		s.stopMonitor()
		s.reply(frame.ID, map[string]any{})

	default:
		s.replyError(frame.ID, codeNotImplemented, "unknown method: "+frame.Method)
	}
}

// authSnapshot returns the current state pair in wire form.
func (s *session) authSnapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]any{
		"location":       s.fine,
		"coarseLocation": s.coarse,
	}
}

// runPrompt applies the scripted decision after the configured delay and
// broadcasts the resulting state. A prompt on an already determined state
// only re-broadcasts, which is what the real dialogs do when asked twice.
func (s *session) runPrompt() {
	apply := func() {
		s.mu.Lock()
		if s.fine == authNotDetermined {
			switch s.decision {
			case "deny":
				s.fine, s.coarse = authDenied, authDenied
			case "restrict":
				s.fine, s.coarse = authRestricted, authRestricted
			default:
				s.fine, s.coarse = authWhenInUse, authWhenInUse
			}
			s.logger.Info("prompt resolved", "decision", s.decision, "state", s.fine)
		}
		s.mu.Unlock()
		s.emitEvent(authorizationChannel, s.authSnapshot())
	}

	if s.promptDelay > 0 {
		time.AfterFunc(s.promptDelay, apply)
		return
	}
	apply()
}

func (s *session) handleRequestFix(frame remote.Frame) {
	if code, msg := s.denyReason(); code != "" {
		s.replyError(frame.ID, code, msg)
		return
	}
	s.reply(frame.ID, map[string]any{})
	s.emitEvent(updatesChannel, s.source.Next().payload())
}

func (s *session) handleStartMonitoring(frame remote.Frame) {
	if code, msg := s.denyReason(); code != "" {
		s.replyError(frame.ID, code, msg)
		return
	}

	var args struct {
		HighAccuracy bool `json:"highAccuracy"`
	}
	if len(frame.Args) > 0 {
		if err := json.Unmarshal(frame.Args, &args); err != nil {
			s.replyError(frame.ID, codeInvalidArguments, "bad startMonitoring args")
			return
		}
	}

	s.mu.Lock()
	if s.monitorStop != nil || s.closed {
		// Idempotent: a second start keeps the running session.
		s.mu.Unlock()
		s.reply(frame.ID, map[string]any{})
		return
	}
	stop := make(chan struct{})
	s.monitorStop = stop
	s.mu.Unlock()

	s.reply(frame.ID, map[string]any{})
	s.logger.Info("monitoring started", "highAccuracy", args.HighAccuracy)
	go s.monitorLoop(stop)
}

func (s *session) stopMonitor() {
	s.mu.Lock()
	stop := s.monitorStop
	s.monitorStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
		s.logger.Info("monitoring stopped")
	}
}

// monitorLoop emits one fix immediately and then one per source interval
// until stopped.
func (s *session) monitorLoop(stop <-chan struct{}) {
	s.emitEvent(updatesChannel, s.source.Next().payload())

	ticker := time.NewTicker(s.source.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.emitEvent(updatesChannel, s.source.Next().payload())
		}
	}
}

// denyReason maps the current scenario to a request-blocking error code, or
// returns empty strings when requests may proceed.
func (s *session) denyReason() (code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return codeServicesDisabled, "location services are disabled"
	}
	switch s.fine {
	case authDenied:
		return codePermissionDenied, "location permission denied"
	case authRestricted:
		return codePermissionRestricted, "location access restricted"
	case authWhenInUse, authAlways:
		return "", ""
	default:
		return codePermissionDenied, "location permission not granted"
	}
}

func (s *session) reply(id int64, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		s.replyError(id, codeInvalidArguments, "unencodable result")
		return
	}
	s.writeFrame(remote.Frame{Type: remote.FrameResult, ID: id, Result: data})
}

func (s *session) replyError(id int64, code, message string) {
	s.writeFrame(remote.Frame{
		Type:  remote.FrameResult,
		ID:    id,
		Error: &remote.FrameError{Code: code, Message: message},
	})
}

// emitEvent sends an event frame if the peer is listening on the channel.
func (s *session) emitEvent(channel string, data any) {
	s.mu.Lock()
	listening := s.listening[channel] && !s.closed
	s.mu.Unlock()
	if !listening {
		return
	}

	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("event marshal failed", "channel", channel, "err", err)
		return
	}
	s.writeFrame(remote.Frame{Type: remote.FrameEvent, Channel: channel, Data: payload})
}

func (s *session) writeFrame(frame remote.Frame) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(frame); err != nil {
		s.logger.Debug("write failed", "err", err)
	}
}
