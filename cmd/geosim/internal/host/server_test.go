package host_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/butlergreece/capacitor-geolocation/cmd/geosim/internal/config"
	"github.com/butlergreece/capacitor-geolocation/cmd/geosim/internal/host"
	"github.com/butlergreece/capacitor-geolocation/pkg/bridge"
	"github.com/butlergreece/capacitor-geolocation/pkg/geolocation"
	"github.com/butlergreece/capacitor-geolocation/pkg/remote"
)

// startHost serves the scenario over a real websocket, dials it with the
// remote bridge and installs that as the native bridge. The whole plugin
// stack runs against it unmodified.
func startHost(t *testing.T, cfg *config.Config) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	server, err := host.NewServer(cfg, logger)
	require.NoError(t, err)

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rb, err := remote.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"))
	require.NoError(t, err)
	t.Cleanup(func() { rb.Close() })

	bridge.SetNativeBridge(rb)
	t.Cleanup(bridge.ResetForTest)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func boolPtr(b bool) *bool { return &b }

const replayLog = `$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A
$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47
$GPRMC,123521,A,4807.100,N,01131.100,E,010.0,090.0,230394,003.1,W*6E
`

func writeReplayLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "track.nmea")
	require.NoError(t, os.WriteFile(path, []byte(replayLog), 0o644))
	return path
}

func routeScenario(initial, decision string) *config.Config {
	return &config.Config{
		Authorization: config.AuthConfig{Initial: initial, PromptDecision: decision},
		Source: config.SourceConfig{
			Type: "route",
			Route: config.RouteConfig{
				Latitude:     48.8584,
				Longitude:    2.2945,
				RadiusMeters: 100,
				SpeedMps:     5,
				IntervalMs:   25,
			},
		},
	}
}

func TestEndToEndRequestOnceWithPromptGrant(t *testing.T) {
	startHost(t, routeScenario("notDetermined", "grant"))
	m := geolocation.NewMultiplexer()
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pos, err := m.RequestOnce(ctx, geolocation.Options{HighAccuracy: true})
	require.NoError(t, err)
	assert.InDelta(t, 48.8584, pos.Latitude, 0.01)
	assert.InDelta(t, 2.2945, pos.Longitude, 0.01)
	assert.False(t, pos.Timestamp.IsZero())
}

func TestEndToEndRequestOnceDenied(t *testing.T) {
	startHost(t, routeScenario("notDetermined", "deny"))
	m := geolocation.NewMultiplexer()
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := m.RequestOnce(ctx, geolocation.Options{})
	assert.ErrorIs(t, err, geolocation.ErrPermissionDenied)
}

func TestEndToEndServicesDisabled(t *testing.T) {
	cfg := routeScenario("authorizedWhenInUse", "grant")
	cfg.Services.Enabled = boolPtr(false)
	startHost(t, cfg)
	m := geolocation.NewMultiplexer()
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := m.RequestOnce(ctx, geolocation.Options{})
	assert.ErrorIs(t, err, geolocation.ErrLocationServicesDisabled)
}

func TestEndToEndWatchStreamsFixes(t *testing.T) {
	startHost(t, routeScenario("authorizedWhenInUse", "grant"))
	m := geolocation.NewMultiplexer()
	defer m.Close()

	var mu sync.Mutex
	var fixes []geolocation.Position
	err := m.Watch("watch-1", geolocation.Options{}, func(pos *geolocation.Position, err error) {
		if !assert.NoError(t, err) {
			return
		}
		mu.Lock()
		fixes = append(fixes, *pos)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fixes) >= 3
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, m.ClearWatch("watch-1"))

	mu.Lock()
	after := len(fixes)
	mu.Unlock()
	// The monitoring loop stops; allow a tick already in flight.
	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	assert.LessOrEqual(t, len(fixes), after+1)
	mu.Unlock()
}

func TestEndToEndWatchNMEAReplay(t *testing.T) {
	path := writeReplayLog(t)
	cfg := &config.Config{
		Authorization: config.AuthConfig{Initial: "authorizedAlways"},
		Source: config.SourceConfig{
			Type: "nmea",
			NMEA: config.NMEAConfig{File: path, IntervalMs: 20, Loop: true},
		},
	}
	startHost(t, cfg)
	m := geolocation.NewMultiplexer()
	defer m.Close()

	var mu sync.Mutex
	var fixes []geolocation.Position
	err := m.Watch("nmea-watch", geolocation.Options{}, func(pos *geolocation.Position, err error) {
		if !assert.NoError(t, err) {
			return
		}
		mu.Lock()
		fixes = append(fixes, *pos)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(fixes) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.InDelta(t, 48.1173, fixes[0].Latitude, 1e-3)
	require.NotNil(t, fixes[0].Altitude)
}

func TestEndToEndRequestPermissions(t *testing.T) {
	cfg := routeScenario("notDetermined", "restrict")
	cfg.Authorization.PromptDelayMs = 20
	startHost(t, cfg)
	m := geolocation.NewMultiplexer()
	defer m.Close()

	statuses, err := m.CheckPermissions()
	require.NoError(t, err)
	assert.Equal(t, geolocation.PermissionPrompt, statuses.Location)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	statuses, err = m.RequestPermissions(ctx)
	require.NoError(t, err)
	assert.Equal(t, geolocation.PermissionDenied, statuses.Location)
	assert.Equal(t, geolocation.PermissionDenied, statuses.CoarseLocation)
}

func TestNonProviderInvokeIsAcknowledged(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	server, err := host.NewServer(routeScenario("authorizedWhenInUse", "grant"), logger)
	require.NoError(t, err)

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// A watch delivery forwarded to the shell surface must not fail just
	// because the simulator has no shell behind it.
	require.NoError(t, conn.WriteJSON(remote.Frame{
		Type:    remote.FrameInvoke,
		ID:      1,
		Channel: "geolocation",
		Method:  "watchResult",
		Args:    json.RawMessage(`{"watchId":"w1"}`),
	}))

	var reply remote.Frame
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, remote.FrameResult, reply.Type)
	assert.Equal(t, int64(1), reply.ID)
	assert.Nil(t, reply.Error)

	// Provider-channel unknowns still fail loudly.
	require.NoError(t, conn.WriteJSON(remote.Frame{
		Type:    remote.FrameInvoke,
		ID:      2,
		Channel: "geolocation/provider",
		Method:  "selfDestruct",
	}))
	require.NoError(t, conn.ReadJSON(&reply))
	require.NotNil(t, reply.Error)
}
