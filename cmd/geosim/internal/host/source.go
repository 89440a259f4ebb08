package host

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/butlergreece/capacitor-geolocation/cmd/geosim/internal/config"
)

const (
	defaultInterval = time.Second
	// Earth radius in meters, for the small-offset route math.
	earthRadius = 6371000.0
)

// Source produces position fixes on demand. Next is called once per fix
// request and once per monitoring tick, and must be safe for concurrent use.
type Source interface {
	Name() string
	Interval() time.Duration
	Next() Fix
}

// NewSource builds the configured fix source. An empty source config yields
// a route source circling a default center.
func NewSource(cfg config.SourceConfig) (Source, error) {
	switch cfg.Type {
	case "", "route":
		return newRouteSource(cfg.Route), nil
	case "nmea":
		return newNMEASource(cfg.NMEA)
	default:
		return nil, fmt.Errorf("unknown source type: %q", cfg.Type)
	}
}

// routeSource drives a point around a circle at constant speed. Successive
// calls derive the position from wall-clock elapsed time, so fixes stay
// consistent across single requests and monitoring ticks.
type routeSource struct {
	centerLat float64
	centerLon float64
	radius    float64
	speed     float64
	interval  time.Duration
	start     time.Time
}

func newRouteSource(cfg config.RouteConfig) *routeSource {
	s := &routeSource{
		centerLat: cfg.Latitude,
		centerLon: cfg.Longitude,
		radius:    cfg.RadiusMeters,
		speed:     cfg.SpeedMps,
		interval:  defaultInterval,
		start:     time.Now(),
	}
	if s.centerLat == 0 && s.centerLon == 0 {
		// Somewhere recognizable rather than the Gulf of Guinea.
		s.centerLat, s.centerLon = 37.7749, -122.4194
	}
	if s.radius <= 0 {
		s.radius = 100
	}
	if s.speed <= 0 {
		s.speed = 1.4
	}
	if cfg.IntervalMs > 0 {
		s.interval = time.Duration(cfg.IntervalMs) * time.Millisecond
	}
	return s
}

func (s *routeSource) Name() string            { return "route" }
func (s *routeSource) Interval() time.Duration { return s.interval }

func (s *routeSource) Next() Fix {
	now := time.Now()
	elapsed := now.Sub(s.start).Seconds()
	angle := elapsed * s.speed / s.radius

	dLat := s.radius * math.Cos(angle) / earthRadius * (180 / math.Pi)
	dLon := s.radius * math.Sin(angle) / earthRadius * (180 / math.Pi) /
		math.Cos(s.centerLat*math.Pi/180)

	speed := s.speed
	// Heading is tangent to the circle.
	heading := math.Mod(angle*(180/math.Pi)+90, 360)
	if heading < 0 {
		heading += 360
	}
	return Fix{
		Timestamp: now,
		Latitude:  s.centerLat + dLat,
		Longitude: s.centerLon + dLon,
		Accuracy:  5,
		Speed:     &speed,
		Heading:   &heading,
	}
}

// nmeaSource replays a preloaded fix list, optionally looping.
type nmeaSource struct {
	fixes    []Fix
	interval time.Duration
	loop     bool

	mu    sync.Mutex
	index int
}

func newNMEASource(cfg config.NMEAConfig) (*nmeaSource, error) {
	fixes, err := LoadNMEAFixes(cfg.File)
	if err != nil {
		return nil, err
	}
	if len(fixes) == 0 {
		return nil, fmt.Errorf("no valid RMC fixes in %s", cfg.File)
	}
	interval := defaultInterval
	if cfg.IntervalMs > 0 {
		interval = time.Duration(cfg.IntervalMs) * time.Millisecond
	}
	return &nmeaSource{fixes: fixes, interval: interval, loop: cfg.Loop}, nil
}

func (s *nmeaSource) Name() string            { return "nmea" }
func (s *nmeaSource) Interval() time.Duration { return s.interval }

// Next returns the next recorded fix with the timestamp rewritten to now.
// Past the end of a non-looping track the last fix repeats.
func (s *nmeaSource) Next() Fix {
	s.mu.Lock()
	fix := s.fixes[s.index]
	if s.index < len(s.fixes)-1 {
		s.index++
	} else if s.loop {
		s.index = 0
	}
	s.mu.Unlock()

	fix.Timestamp = time.Now()
	return fix
}
