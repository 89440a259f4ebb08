package geolocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/butlergreece/capacitor-geolocation/pkg/bridge"
)

func TestPermissionStatusMapping(t *testing.T) {
	tests := []struct {
		state AuthorizationState
		want  PermissionStatus
	}{
		{AuthorizationNotDetermined, PermissionPrompt},
		{AuthorizationWhenInUse, PermissionGranted},
		{AuthorizationAlways, PermissionGranted},
		{AuthorizationDenied, PermissionDenied},
		{AuthorizationRestricted, PermissionDenied},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.PermissionStatus())
		})
	}
}

func TestPermissionError(t *testing.T) {
	assert.ErrorIs(t, AuthorizationDenied.permissionError(), ErrPermissionDenied)
	assert.ErrorIs(t, AuthorizationRestricted.permissionError(), ErrPermissionRestricted)
}

func TestParseAuthorization(t *testing.T) {
	snap, err := parseAuthorization(map[string]any{
		"location":       "authorizedWhenInUse",
		"coarseLocation": "denied",
	})
	require.NoError(t, err)
	assert.Equal(t, AuthorizationWhenInUse, snap.location)
	assert.Equal(t, AuthorizationDenied, snap.coarse)
}

func TestParseAuthorizationCoarseFallback(t *testing.T) {
	snap, err := parseAuthorization(map[string]any{"location": "denied"})
	require.NoError(t, err)
	assert.Equal(t, AuthorizationDenied, snap.coarse)
}

func TestParseAuthorizationInvalid(t *testing.T) {
	_, err := parseAuthorization(nil)
	assert.Error(t, err)

	_, err = parseAuthorization(map[string]any{"coarseLocation": "granted"})
	assert.Error(t, err)
}

func TestMapHostError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"denied code", bridge.NewChannelError(ErrorCodePermissionDenied, "no"), ErrPermissionDenied},
		{"restricted code", bridge.NewChannelError(ErrorCodePermissionRestricted, "policy"), ErrPermissionRestricted},
		{"disabled code", bridge.NewChannelError(ErrorCodeServicesDisabled, "off"), ErrLocationServicesDisabled},
		{"arguments code", bridge.NewChannelError(ErrorCodeInvalidArguments, "bad"), ErrInvalidArguments},
		{"unknown code", bridge.NewChannelError("mystery", "boom"), ErrPositionUnavailable},
		{"plain error", assert.AnError, ErrPositionUnavailable},
		{"bridge unavailable", bridge.ErrBridgeUnavailable, bridge.ErrBridgeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapHostError(tt.in), tt.want)
		})
	}
}

func TestErrorCodeRoundTrip(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{ErrPermissionDenied, ErrorCodePermissionDenied},
		{ErrPermissionRestricted, ErrorCodePermissionRestricted},
		{ErrLocationServicesDisabled, ErrorCodeServicesDisabled},
		{ErrInvalidArguments, ErrorCodeInvalidArguments},
		{ErrPositionUnavailable, ErrorCodePositionUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.code, errorCode(tt.err))
		})
	}
}
