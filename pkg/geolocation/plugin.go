// Package geolocation exposes device geolocation to the application shell:
// single-shot position, continuous watch subscriptions, and permission
// query/request, bridged to the host platform's location provider.
package geolocation

import (
	"context"

	"github.com/google/uuid"

	"github.com/butlergreece/capacitor-geolocation/pkg/bridge"
	"github.com/butlergreece/capacitor-geolocation/pkg/errors"
)

// pluginChannelName is the channel the application shell dispatches on.
const pluginChannelName = "geolocation"

// Plugin is the shell-facing geolocation surface. It exposes the same five
// operations both as Go methods and as bridge method calls, and forwards
// watch deliveries back to the shell as repeated "watchResult" invocations.
type Plugin struct {
	mux     *Multiplexer
	channel *bridge.MethodChannel
}

// New creates the plugin and registers its method-channel handler.
func New() *Plugin {
	p := &Plugin{
		mux:     NewMultiplexer(),
		channel: bridge.NewMethodChannel(pluginChannelName),
	}
	p.channel.SetHandler(p.handleCall)
	return p
}

// Close unregisters the plugin's host hooks.
func (p *Plugin) Close() {
	p.mux.Close()
}

// GetCurrentPosition returns a single position fix.
func (p *Plugin) GetCurrentPosition(ctx context.Context, opts Options) (*Position, error) {
	return p.mux.RequestOnce(ctx, opts)
}

// WatchPosition registers a watch and returns its opaque id. The callback
// receives repeated fixes (or errors) until ClearWatch is called with the id.
func (p *Plugin) WatchPosition(opts Options, callback WatchCallback) (string, error) {
	id := uuid.NewString()
	if err := p.mux.Watch(id, opts, callback); err != nil {
		return "", err
	}
	return id, nil
}

// ClearWatch cancels a watch by id.
func (p *Plugin) ClearWatch(id string) error {
	return p.mux.ClearWatch(id)
}

// CheckPermissions returns the current permission statuses without prompting.
func (p *Plugin) CheckPermissions() (PermissionStatusMap, error) {
	return p.mux.CheckPermissions()
}

// RequestPermissions prompts the user if needed and returns the resulting
// permission statuses.
func (p *Plugin) RequestPermissions(ctx context.Context) (PermissionStatusMap, error) {
	return p.mux.RequestPermissions(ctx)
}

// handleCall dispatches an incoming shell call to the plugin operation.
func (p *Plugin) handleCall(method string, args any) (any, error) {
	switch method {
	case "getCurrentPosition":
		return p.handleGetCurrentPosition(args)
	case "watchPosition":
		return p.handleWatchPosition(args)
	case "clearWatch":
		return p.handleClearWatch(args)
	case "checkPermissions":
		return p.handleCheckPermissions()
	case "requestPermissions":
		return p.handleRequestPermissions()
	default:
		return nil, bridge.ErrMethodNotFound
	}
}

func (p *Plugin) handleGetCurrentPosition(args any) (any, error) {
	pos, err := p.mux.RequestOnce(context.Background(), optionsFromArgs(args))
	if err != nil {
		return nil, toChannelError(err)
	}
	return pos.toPayload(), nil
}

func (p *Plugin) handleWatchPosition(args any) (any, error) {
	id := uuid.NewString()
	err := p.mux.Watch(id, optionsFromArgs(args), func(pos *Position, deliveryErr error) {
		p.forwardWatchResult(id, pos, deliveryErr)
	})
	if err != nil {
		return nil, toChannelError(err)
	}
	return map[string]any{"id": id}, nil
}

// forwardWatchResult pushes one watch delivery back to the shell as a
// repeated "watchResult" invocation carrying the watch id.
func (p *Plugin) forwardWatchResult(id string, pos *Position, deliveryErr error) {
	payload := map[string]any{"watchId": id}
	if deliveryErr != nil {
		chErr := toChannelError(deliveryErr)
		payload["error"] = map[string]any{"code": chErr.Code, "message": chErr.Message}
	} else {
		payload["position"] = pos.toPayload()
	}
	if _, err := p.channel.Invoke("watchResult", payload); err != nil {
		errors.Report(&errors.PluginError{
			Op:      "geolocation.forwardWatchResult",
			Kind:    errors.KindPlatform,
			Channel: pluginChannelName,
			Err:     err,
		})
	}
}

func (p *Plugin) handleClearWatch(args any) (any, error) {
	m := bridge.ParseMap(args)
	if m == nil {
		return nil, toChannelError(ErrInvalidArguments)
	}
	id := bridge.ParseString(m["id"])
	if err := p.mux.ClearWatch(id); err != nil {
		return nil, toChannelError(err)
	}
	return nil, nil
}

func (p *Plugin) handleCheckPermissions() (any, error) {
	statuses, err := p.mux.CheckPermissions()
	if err != nil {
		return nil, toChannelError(err)
	}
	return statusPayload(statuses), nil
}

func (p *Plugin) handleRequestPermissions() (any, error) {
	statuses, err := p.mux.RequestPermissions(context.Background())
	if err != nil {
		return nil, toChannelError(err)
	}
	return statusPayload(statuses), nil
}

func optionsFromArgs(args any) Options {
	m := bridge.ParseMap(args)
	if m == nil {
		return Options{}
	}
	return Options{HighAccuracy: bridge.ParseBool(m["enableHighAccuracy"])}
}

func statusPayload(statuses PermissionStatusMap) map[string]any {
	return map[string]any{
		"location":       string(statuses.Location),
		"coarseLocation": string(statuses.CoarseLocation),
	}
}
