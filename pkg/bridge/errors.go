package bridge

import "errors"

// Standard errors for bridge channel operations.
var (
	// ErrChannelNotFound indicates the requested channel does not exist.
	ErrChannelNotFound = errors.New("bridge channel not found")

	// ErrMethodNotFound indicates the method is not implemented on the host side.
	ErrMethodNotFound = errors.New("method not implemented")

	// ErrInvalidArguments indicates the arguments passed to the method were invalid.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrBridgeUnavailable indicates no native bridge has been installed.
	ErrBridgeUnavailable = errors.New("native bridge unavailable")

	// ErrTimeout indicates the operation exceeded its deadline. For permission
	// requests, this means the user did not respond to the dialog in time.
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled indicates the operation was canceled via context cancellation.
	ErrCanceled = errors.New("operation was canceled")

	// ErrClosed is returned when operating on a closed channel or bridge.
	ErrClosed = errors.New("bridge: channel closed")
)

// ChannelError represents an error returned from the host side.
type ChannelError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *ChannelError) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// NewChannelError creates a new ChannelError with the given code and message.
func NewChannelError(code, message string) *ChannelError {
	return &ChannelError{Code: code, Message: message}
}

// NewChannelErrorWithDetails creates a new ChannelError with additional details.
func NewChannelErrorWithDetails(code, message string, details any) *ChannelError {
	return &ChannelError{Code: code, Message: message, Details: details}
}
