package geolocation

import (
	"errors"

	"github.com/butlergreece/capacitor-geolocation/pkg/bridge"
)

// Errors surfaced to callers. Host-level failures are always mapped to one
// of these; no raw host error crosses the plugin boundary.
var (
	// ErrPermissionDenied indicates the user denied location access.
	ErrPermissionDenied = errors.New("geolocation: permission denied")

	// ErrPermissionRestricted indicates a system policy prevents location access.
	ErrPermissionRestricted = errors.New("geolocation: permission restricted")

	// ErrLocationServicesDisabled indicates location sensing is globally off
	// on the device.
	ErrLocationServicesDisabled = errors.New("geolocation: location services disabled")

	// ErrPositionUnavailable indicates the location source failed or reported
	// itself unavailable. Watches stay registered across this error.
	ErrPositionUnavailable = errors.New("geolocation: position unavailable")

	// ErrInvalidArguments indicates malformed caller input (e.g. ClearWatch
	// without an id).
	ErrInvalidArguments = errors.New("geolocation: invalid arguments")
)

// Error codes used on the wire between the plugin and its hosts.
const (
	ErrorCodePermissionDenied     = "permissionDenied"
	ErrorCodePermissionRestricted = "permissionRestricted"
	ErrorCodeServicesDisabled     = "locationServicesDisabled"
	ErrorCodePositionUnavailable  = "positionUnavailable"
	ErrorCodeInvalidArguments     = "invalidArguments"
)

// mapHostError translates an error from the host side into the public
// taxonomy. Unrecognized host failures collapse to ErrPositionUnavailable.
func mapHostError(err error) error {
	if err == nil {
		return nil
	}
	var chErr *bridge.ChannelError
	if errors.As(err, &chErr) {
		switch chErr.Code {
		case ErrorCodePermissionDenied:
			return ErrPermissionDenied
		case ErrorCodePermissionRestricted:
			return ErrPermissionRestricted
		case ErrorCodeServicesDisabled:
			return ErrLocationServicesDisabled
		case ErrorCodeInvalidArguments:
			return ErrInvalidArguments
		default:
			return ErrPositionUnavailable
		}
	}
	if errors.Is(err, bridge.ErrInvalidArguments) {
		return ErrInvalidArguments
	}
	if errors.Is(err, bridge.ErrBridgeUnavailable) ||
		errors.Is(err, bridge.ErrTimeout) ||
		errors.Is(err, bridge.ErrCanceled) {
		return err
	}
	return ErrPositionUnavailable
}

// errorCode maps a public error back to its wire code for the shell surface.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return ErrorCodePermissionDenied
	case errors.Is(err, ErrPermissionRestricted):
		return ErrorCodePermissionRestricted
	case errors.Is(err, ErrLocationServicesDisabled):
		return ErrorCodeServicesDisabled
	case errors.Is(err, ErrInvalidArguments):
		return ErrorCodeInvalidArguments
	default:
		return ErrorCodePositionUnavailable
	}
}

// toChannelError wraps a public error for delivery across the bridge.
func toChannelError(err error) *bridge.ChannelError {
	if err == nil {
		return nil
	}
	var chErr *bridge.ChannelError
	if errors.As(err, &chErr) {
		return chErr
	}
	return bridge.NewChannelError(errorCode(err), err.Error())
}
