// Package host implements the native side of the plugin bridge as a
// websocket server: a scripted authorization state machine plus a position
// fix source, speaking the frame protocol the remote bridge dials into.
package host

import "time"

// Fix is one simulated position reading.
type Fix struct {
	Timestamp time.Time
	Latitude  float64
	Longitude float64
	Accuracy  float64
	Altitude  *float64
	Speed     *float64
	Heading   *float64
}

// payload serializes the fix the way a native host reports it: a flat map
// with a millisecond timestamp and optional fields omitted when unknown.
func (f Fix) payload() map[string]any {
	m := map[string]any{
		"timestamp": f.Timestamp.UnixMilli(),
		"latitude":  f.Latitude,
		"longitude": f.Longitude,
		"accuracy":  f.Accuracy,
	}
	if f.Altitude != nil {
		m["altitude"] = *f.Altitude
	}
	if f.Speed != nil {
		m["speed"] = *f.Speed
	}
	if f.Heading != nil {
		m["heading"] = *f.Heading
	}
	return m
}
