// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-map/internal/cache"
	"github.com/joeblew999/plat-map/internal/layer"
	"github.com/joeblew999/plat-map/internal/location"
	"github.com/joeblew999/plat-map/internal/service"
	"github.com/joeblew999/plat-map/internal/track"
)

// Services holds the dependencies for API handlers. Any of them may be nil.
type Services struct {
	Layer *service.LayerService
	Bus   *service.EventBus
	Hub   *location.Hub
	Track *track.Recorder
	Last  *cache.LastFix
}

// RegisterRoutes registers every Register* method of the API handler.
func RegisterRoutes(api huma.API, svc *Services) {
	huma.AutoRegister(api, NewAPIHandler(svc))
}

// Types

type IDInput struct {
	ID int `path:"id" minimum:"0" doc:"Layer ID, stable across restarts" example:"0"`
}

type LayerOutput struct {
	Body service.LayerInfo
}

type LayersOutput struct {
	Body []service.LayerInfo
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	if svc == nil {
		svc = &Services{}
	}
	return &APIHandler{svc: svc}
}

func status(code int) func(*huma.Operation) {
	return func(o *huma.Operation) { o.DefaultStatus = code }
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterLayers registers layer CRUD routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Post(api, "/api/v1/layers", h.CreateLayer, huma.OperationTags("layers"), status(http.StatusCreated))
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, huma.OperationTags("layers"))
	huma.Patch(api, "/api/v1/layers/{id}", h.PatchLayer, huma.OperationTags("layers"))
	huma.Delete(api, "/api/v1/layers/{id}", h.DeleteLayer, huma.OperationTags("layers"), status(http.StatusOK))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: "1.0.0"}}, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	if h.svc.Layer == nil {
		return &LayersOutput{Body: []service.LayerInfo{}}, nil
	}
	return &LayersOutput{Body: h.svc.Layer.List()}, nil
}

func (h *APIHandler) CreateLayer(ctx context.Context, input *struct{ Body service.LayerCreate }) (*LayerOutput, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error503ServiceUnavailable("layer service not available")
	}
	created, err := h.svc.Layer.Create(input.Body)
	if err != nil {
		return nil, layerError(err)
	}
	return &LayerOutput{Body: created}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error503ServiceUnavailable("layer service not available")
	}
	info, err := h.svc.Layer.Get(input.ID)
	if err != nil {
		return nil, layerError(err)
	}
	return &LayerOutput{Body: info}, nil
}

func (h *APIHandler) PatchLayer(ctx context.Context, input *struct {
	IDInput
	Body service.LayerPatch
}) (*LayerOutput, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error503ServiceUnavailable("layer service not available")
	}
	updated, err := h.svc.Layer.Update(input.ID, input.Body)
	if err != nil {
		return nil, layerError(err)
	}
	return &LayerOutput{Body: updated}, nil
}

func (h *APIHandler) DeleteLayer(ctx context.Context, input *IDInput) (*struct{ Body MessageBody }, error) {
	if h.svc.Layer == nil {
		return nil, huma.Error503ServiceUnavailable("layer service not available")
	}
	if err := h.svc.Layer.Delete(input.ID); err != nil {
		return nil, layerError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Layer deleted"}}, nil
}

func layerError(err error) error {
	switch {
	case errors.Is(err, service.ErrLayerNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrInvalidLayer):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, layer.ErrPartialDelete):
		return huma.Error500InternalServerError("layer only partly deleted", err)
	}
	return huma.Error500InternalServerError("layer operation failed", err)
}
