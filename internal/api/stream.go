package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-map/internal/location"
	"github.com/joeblew999/plat-map/internal/logger"
)

// SSE wraps a Datastar SSE generator.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE creates a Datastar SSE helper from a Huma streaming context.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// RegisterStreams registers the Datastar SSE routes.
func (h *APIHandler) RegisterStreams(api huma.API) {
	huma.Get(api, "/api/v1/location/stream", h.LocationStream, huma.OperationTags("location"))
	huma.Get(api, "/api/v1/events", h.Events, huma.OperationTags("events"))
}

// streamBuffer bounds how far a slow client may fall behind before fixes are dropped.
const streamBuffer = 16

// LocationStream registers one hub listener per client for the life of the
// request. Fixes are patched into the "location" signal, status changes into
// "locationStatus".
func (h *APIHandler) LocationStream(ctx context.Context, input *struct{}) (*huma.StreamResponse, error) {
	if h.svc.Hub == nil {
		return nil, huma.Error503ServiceUnavailable("location hub not available")
	}

	fixes := make(chan location.Fix, streamBuffer)
	statuses := make(chan location.Status, streamBuffer)
	l := &location.ListenerFuncs{
		Location: func(f location.Fix) {
			select {
			case fixes <- f:
			default:
			}
		},
		Status: func(s location.Status) {
			select {
			case statuses <- s:
			default:
			}
		},
	}
	if err := h.svc.Hub.AddListener(l); err != nil {
		return nil, huma.Error503ServiceUnavailable("location updates unavailable", err)
	}

	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			defer func() {
				if err := h.svc.Hub.RemoveListener(l); err != nil {
					logger.L().Warn("location_stream_remove_error", "err", err)
				}
			}()
			sse := NewSSE(humaCtx)
			done := humaCtx.Context().Done()

			for {
				var err error
				select {
				case <-done:
					return
				case f := <-fixes:
					err = sse.MarshalAndPatchSignals(map[string]any{"location": f})
				case s := <-statuses:
					err = sse.MarshalAndPatchSignals(map[string]any{"locationStatus": s.String()})
				}
				if err != nil {
					return
				}
			}
		},
	}, nil
}

// Events streams layer change events. Each event patches the "layers" signal
// with the current list and dispatches a resource-changed DOM event.
func (h *APIHandler) Events(ctx context.Context, input *struct{}) (*huma.StreamResponse, error) {
	if h.svc.Bus == nil {
		return nil, huma.Error503ServiceUnavailable("event bus not available")
	}

	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			sse := NewSSE(humaCtx)
			ch := h.svc.Bus.Subscribe()
			defer h.svc.Bus.Unsubscribe(ch)
			done := humaCtx.Context().Done()

			for {
				select {
				case <-done:
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					if ev.Resource == "layers" && h.svc.Layer != nil {
						if err := sse.MarshalAndPatchSignals(map[string]any{"layers": h.svc.Layer.List()}); err != nil {
							return
						}
					}
					sse.DispatchCustomEvent("resource-changed", ev)
				}
			}
		},
	}, nil
}
