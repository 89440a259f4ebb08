package geolocation

import (
	"fmt"

	"github.com/butlergreece/capacitor-geolocation/pkg/bridge"
)

// AuthorizationState is the host platform's location-permission grant level.
type AuthorizationState string

const (
	// AuthorizationNotDetermined means the user has not been asked yet.
	AuthorizationNotDetermined AuthorizationState = "notDetermined"
	// AuthorizationWhenInUse means foreground access is granted.
	AuthorizationWhenInUse AuthorizationState = "authorizedWhenInUse"
	// AuthorizationAlways means background access is granted.
	AuthorizationAlways AuthorizationState = "authorizedAlways"
	// AuthorizationDenied means the user denied access.
	AuthorizationDenied AuthorizationState = "denied"
	// AuthorizationRestricted means a system policy prevents access.
	AuthorizationRestricted AuthorizationState = "restricted"
)

// granted reports whether location requests may be issued.
func (s AuthorizationState) granted() bool {
	return s == AuthorizationWhenInUse || s == AuthorizationAlways
}

// blocked reports whether access is denied or restricted.
func (s AuthorizationState) blocked() bool {
	return s == AuthorizationDenied || s == AuthorizationRestricted
}

// determined reports whether the authorization flow has been resolved.
func (s AuthorizationState) determined() bool {
	return s != AuthorizationNotDetermined && s != ""
}

// permissionError returns the public error for a blocked state.
func (s AuthorizationState) permissionError() error {
	if s == AuthorizationRestricted {
		return ErrPermissionRestricted
	}
	return ErrPermissionDenied
}

// PermissionStatus is the public permission state exposed to the shell.
type PermissionStatus string

const (
	// PermissionGranted indicates access has been granted.
	PermissionGranted PermissionStatus = "granted"
	// PermissionDenied indicates access is denied or restricted.
	PermissionDenied PermissionStatus = "denied"
	// PermissionPrompt indicates the user has not been asked yet.
	PermissionPrompt PermissionStatus = "prompt"
)

// PermissionStatus maps the host state to the public status: authorized
// levels collapse to granted, denied and restricted collapse to denied.
func (s AuthorizationState) PermissionStatus() PermissionStatus {
	switch {
	case s.granted():
		return PermissionGranted
	case s.blocked():
		return PermissionDenied
	default:
		return PermissionPrompt
	}
}

// PermissionStatusMap carries the public status of both location permissions.
type PermissionStatusMap struct {
	Location       PermissionStatus `json:"location"`
	CoarseLocation PermissionStatus `json:"coarseLocation"`
}

// authorizationSnapshot is the host's current state for both permissions.
type authorizationSnapshot struct {
	location AuthorizationState
	coarse   AuthorizationState
}

// statuses maps the snapshot to the public status pair.
func (s authorizationSnapshot) statuses() PermissionStatusMap {
	return PermissionStatusMap{
		Location:       s.location.PermissionStatus(),
		CoarseLocation: s.coarse.PermissionStatus(),
	}
}

// parseAuthorization converts raw host data into a snapshot. The coarse
// permission falls back to the fine one when the host reports only one state.
func parseAuthorization(data any) (authorizationSnapshot, error) {
	m := bridge.ParseMap(data)
	if m == nil {
		return authorizationSnapshot{}, fmt.Errorf("expected map, got %T", data)
	}
	loc := AuthorizationState(bridge.ParseString(m["location"]))
	if loc == "" {
		return authorizationSnapshot{}, fmt.Errorf("authorization missing location state: %v", m)
	}
	coarse := AuthorizationState(bridge.ParseString(m["coarseLocation"]))
	if coarse == "" {
		coarse = loc
	}
	return authorizationSnapshot{location: loc, coarse: coarse}, nil
}
