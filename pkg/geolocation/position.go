package geolocation

import (
	"fmt"
	"time"

	"github.com/butlergreece/capacitor-geolocation/pkg/bridge"
)

// Position represents a single location fix from the device.
type Position struct {
	// Timestamp is when the reading was taken.
	Timestamp time.Time
	// Latitude is the latitude in degrees.
	Latitude float64
	// Longitude is the longitude in degrees.
	Longitude float64
	// Accuracy is the estimated horizontal accuracy in meters.
	Accuracy float64
	// Altitude is the altitude in meters, nil when the host has no reading.
	Altitude *float64
	// AltitudeAccuracy is the estimated vertical accuracy in meters, nil when unknown.
	AltitudeAccuracy *float64
	// Speed is the speed in meters per second, nil when unknown.
	Speed *float64
	// Heading is the direction of travel in degrees, nil when unknown.
	Heading *float64
}

// parsePosition converts raw event data from the host into a Position.
func parsePosition(data any) (Position, error) {
	m := bridge.ParseMap(data)
	if m == nil {
		return Position{}, fmt.Errorf("expected map, got %T", data)
	}
	lat, latOK := bridge.ToFloat64(m["latitude"])
	lon, lonOK := bridge.ToFloat64(m["longitude"])
	if !latOK || !lonOK {
		return Position{}, fmt.Errorf("position missing coordinates: %v", m)
	}
	acc, _ := bridge.ToFloat64(m["accuracy"])
	return Position{
		Timestamp:        bridge.ParseTime(m["timestamp"]),
		Latitude:         lat,
		Longitude:        lon,
		Accuracy:         acc,
		Altitude:         optionalFloat(m, "altitude"),
		AltitudeAccuracy: optionalFloat(m, "altitudeAccuracy"),
		Speed:            optionalFloat(m, "speed"),
		Heading:          optionalFloat(m, "heading"),
	}, nil
}

func optionalFloat(m map[string]any, key string) *float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	f, ok := bridge.ToFloat64(v)
	if !ok {
		return nil
	}
	return &f
}

// toPayload serializes the position for the application shell:
// {timestamp, coords: {latitude, longitude, accuracy, altitude,
// altitudeAccuracy, speed, heading}}.
func (p *Position) toPayload() map[string]any {
	coords := map[string]any{
		"latitude":         p.Latitude,
		"longitude":        p.Longitude,
		"accuracy":         p.Accuracy,
		"altitude":         floatOrNil(p.Altitude),
		"altitudeAccuracy": floatOrNil(p.AltitudeAccuracy),
		"speed":            floatOrNil(p.Speed),
		"heading":          floatOrNil(p.Heading),
	}
	return map[string]any{
		"timestamp": p.Timestamp.UnixMilli(),
		"coords":    coords,
	}
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
