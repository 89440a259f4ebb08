package host

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/butlergreece/capacitor-geolocation/cmd/geosim/internal/config"
)

// Channel and wire constants shared with the plugin side.
const (
	providerChannel      = "geolocation/provider"
	updatesChannel       = "geolocation/updates"
	authorizationChannel = "geolocation/authorization"
	appStateChannel      = "app/state/events"

	codePermissionDenied     = "permissionDenied"
	codePermissionRestricted = "permissionRestricted"
	codeServicesDisabled     = "locationServicesDisabled"
	codeInvalidArguments     = "invalidArguments"
	codeNotImplemented       = "notImplemented"
)

// Authorization states, mirroring the platform vocabulary.
const (
	authNotDetermined = "notDetermined"
	authWhenInUse     = "authorizedWhenInUse"
	authAlways        = "authorizedAlways"
	authDenied        = "denied"
	authRestricted    = "restricted"
)

// Server is the simulated host. Each websocket connection gets its own
// session with a fresh copy of the scripted scenario, so parallel clients do
// not see each other's prompt outcomes.
type Server struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	source   Source
	scenario scenario
}

// scenario is the per-connection starting state derived from configuration.
type scenario struct {
	fine        string
	coarse      string
	decision    string
	promptDelay time.Duration
	enabled     bool
}

// NewServer builds a server from scenario configuration. A nil config runs
// the friendly default: services on, prompt not yet shown, prompt grants.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	source, err := NewSource(cfg.Source)
	if err != nil {
		return nil, err
	}

	sc := scenario{
		fine:     cfg.Authorization.Initial,
		coarse:   cfg.Authorization.CoarseInitial,
		decision: cfg.Authorization.PromptDecision,
		enabled:  true,
	}
	if sc.fine == "" {
		sc.fine = authNotDetermined
	}
	if sc.coarse == "" {
		sc.coarse = sc.fine
	}
	if sc.decision == "" {
		sc.decision = "grant"
	}
	if cfg.Authorization.PromptDelayMs > 0 {
		sc.promptDelay = time.Duration(cfg.Authorization.PromptDelayMs) * time.Millisecond
	}
	if cfg.Services.Enabled != nil {
		sc.enabled = *cfg.Services.Enabled
	}

	return &Server{
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		source:   source,
		scenario: sc,
	}, nil
}

// SourceName reports the active fix source for startup logging.
func (s *Server) SourceName() string { return s.source.Name() }

// ServeHTTP upgrades the connection and runs the session until the peer
// disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	sess := newSession(conn, s.source, s.scenario, s.logger.With("remote", r.RemoteAddr))
	sess.run()
}
