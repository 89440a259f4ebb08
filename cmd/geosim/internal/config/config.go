// Package config loads the optional geosim.yaml scenario configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
	"gopkg.in/yaml.v3"
)

// DefaultListen is the default websocket listen address.
const DefaultListen = ":7422"

// Config represents the optional geosim.yaml configuration.
type Config struct {
	Listen        string        `yaml:"listen,omitempty"`
	App           AppConfig     `yaml:"app"`
	Authorization AuthConfig    `yaml:"authorization"`
	Services      ServiceConfig `yaml:"services"`
	Source        SourceConfig  `yaml:"source"`
}

// AppConfig identifies the simulated host application.
type AppConfig struct {
	ID string `yaml:"id,omitempty"`
}

// AuthConfig scripts the simulated authorization state machine.
type AuthConfig struct {
	// Initial is the fine-location state before any prompt:
	// notDetermined, authorizedWhenInUse, authorizedAlways, denied, restricted.
	Initial string `yaml:"initial,omitempty"`
	// CoarseInitial overrides the coarse-location state; defaults to Initial.
	CoarseInitial string `yaml:"coarseInitial,omitempty"`
	// PromptDecision is the outcome of the simulated dialog: grant, deny or restrict.
	PromptDecision string `yaml:"promptDecision,omitempty"`
	// PromptDelayMs delays the simulated user response.
	PromptDelayMs int `yaml:"promptDelayMs,omitempty"`
}

// ServiceConfig scripts global location-services availability.
type ServiceConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// SourceConfig selects and configures the position fix source.
type SourceConfig struct {
	// Type is "route" (synthetic circular route) or "nmea" (sentence replay).
	Type  string      `yaml:"type,omitempty"`
	Route RouteConfig `yaml:"route"`
	NMEA  NMEAConfig  `yaml:"nmea"`
}

// RouteConfig configures the synthetic circular route source.
type RouteConfig struct {
	Latitude     float64 `yaml:"latitude,omitempty"`
	Longitude    float64 `yaml:"longitude,omitempty"`
	RadiusMeters float64 `yaml:"radiusMeters,omitempty"`
	SpeedMps     float64 `yaml:"speedMps,omitempty"`
	IntervalMs   int     `yaml:"intervalMs,omitempty"`
}

// NMEAConfig configures the NMEA replay source.
type NMEAConfig struct {
	File       string `yaml:"file,omitempty"`
	IntervalMs int    `yaml:"intervalMs,omitempty"`
	Loop       bool   `yaml:"loop,omitempty"`
}

// Resolved contains resolved configuration values with defaults applied.
type Resolved struct {
	Listen string
	AppID  string
	Config *Config
}

// LoadOptional reads geosim.yaml from dir if present.
func LoadOptional(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, "geosim.yaml"))
}

// LoadFile reads a configuration file; a missing file yields defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Authorization.Initial {
	case "", "notDetermined", "authorizedWhenInUse", "authorizedAlways", "denied", "restricted":
	default:
		return fmt.Errorf("invalid authorization.initial: %q", c.Authorization.Initial)
	}
	switch c.Authorization.PromptDecision {
	case "", "grant", "deny", "restrict":
	default:
		return fmt.Errorf("invalid authorization.promptDecision: %q", c.Authorization.PromptDecision)
	}
	switch c.Source.Type {
	case "", "route", "nmea":
	default:
		return fmt.Errorf("invalid source.type: %q", c.Source.Type)
	}
	if c.Source.Type == "nmea" && c.Source.NMEA.File == "" {
		return fmt.Errorf("source.type nmea requires source.nmea.file")
	}
	return nil
}

// Resolve loads geosim.yaml (if present) and fills in defaults. The app id
// falls back to one derived from the consuming app's go.mod module path.
func Resolve(dir string) (*Resolved, error) {
	cfg, err := LoadOptional(dir)
	if err != nil {
		return nil, err
	}

	listen := strings.TrimSpace(cfg.Listen)
	if listen == "" {
		listen = DefaultListen
	}

	appID := strings.TrimSpace(cfg.App.ID)
	if appID == "" {
		appID = defaultAppID(dir)
	}

	return &Resolved{
		Listen: listen,
		AppID:  appID,
		Config: cfg,
	}, nil
}

// defaultAppID derives a reverse-DNS identifier from the go.mod module path
// of dir, falling back to a fixed id when no module is found.
func defaultAppID(dir string) string {
	path, err := modulePath(dir)
	if err != nil {
		return "com.example.geosim"
	}

	parts := strings.Split(path, "/")
	if len(parts) < 2 || !strings.Contains(parts[0], ".") {
		return "com.example." + sanitizeSegment(parts[len(parts)-1])
	}

	host := strings.Split(parts[0], ".")
	for i, j := 0, len(host)-1; i < j; i, j = i+1, j-1 {
		host[i], host[j] = host[j], host[i]
	}

	segments := host
	for _, p := range parts[1:] {
		if s := sanitizeSegment(p); s != "" {
			segments = append(segments, s)
		}
	}
	return strings.Join(segments, ".")
}

func modulePath(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}
	path := modfile.ModulePath(data)
	if path == "" {
		return "", fmt.Errorf("could not determine module path from go.mod")
	}
	return path, nil
}

func sanitizeSegment(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			sb.WriteRune('_')
		}
	}
	return strings.Trim(sb.String(), "_")
}
