package errors

import (
	"fmt"
	"log/slog"
	"os"
)

// LogHandler is an ErrorHandler that logs errors to stderr.
type LogHandler struct {
	// Verbose enables detailed output including stack traces.
	Verbose bool
}

// HandleError logs a PluginError to stderr.
func (h *LogHandler) HandleError(err *PluginError) {
	if err == nil {
		return
	}
	if h.Verbose {
		fmt.Fprintf(os.Stderr, "[geolocation error] %s [%s]", err.Op, err.Kind)
		if err.Channel != "" {
			fmt.Fprintf(os.Stderr, " channel=%s", err.Channel)
		}
		fmt.Fprintf(os.Stderr, ": %v\n", err.Err)
		if err.StackTrace != "" {
			fmt.Fprintf(os.Stderr, "Stack trace:\n%s\n", err.StackTrace)
		}
	} else {
		fmt.Fprintf(os.Stderr, "[geolocation error] %s: %v\n", err.Op, err.Err)
	}
}

// HandlePanic logs a PanicError to stderr.
func (h *LogHandler) HandlePanic(err *PanicError) {
	if err == nil {
		return
	}
	if err.Op != "" {
		fmt.Fprintf(os.Stderr, "[geolocation panic] %s: %v\n", err.Op, err.Value)
	} else {
		fmt.Fprintf(os.Stderr, "[geolocation panic] %v\n", err.Value)
	}
	if h.Verbose && err.StackTrace != "" {
		fmt.Fprintf(os.Stderr, "Stack trace:\n%s\n", err.StackTrace)
	}
}

// SlogHandler is an ErrorHandler that forwards errors to a slog.Logger.
type SlogHandler struct {
	Logger *slog.Logger
}

// NewSlogHandler creates a SlogHandler. A nil logger uses slog.Default.
func NewSlogHandler(logger *slog.Logger) *SlogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogHandler{Logger: logger}
}

// HandleError logs a PluginError through the configured logger.
func (h *SlogHandler) HandleError(err *PluginError) {
	if err == nil {
		return
	}
	attrs := []any{
		slog.String("op", err.Op),
		slog.String("kind", err.Kind.String()),
	}
	if err.Channel != "" {
		attrs = append(attrs, slog.String("channel", err.Channel))
	}
	attrs = append(attrs, slog.Any("err", err.Err))
	h.Logger.Error("plugin error", attrs...)
}

// HandlePanic logs a PanicError through the configured logger.
func (h *SlogHandler) HandlePanic(err *PanicError) {
	if err == nil {
		return
	}
	h.Logger.Error("plugin panic",
		slog.String("op", err.Op),
		slog.Any("value", err.Value),
	)
}
