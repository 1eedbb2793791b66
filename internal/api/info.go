package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

// InfoHandler reports what the running server has wired.
type InfoHandler struct {
	dataDir string
	svc     *Services
	redis   bool
}

func NewInfoHandler(dataDir string, svc *Services, redis bool) *InfoHandler {
	return &InfoHandler{dataDir: dataDir, svc: svc, redis: redis}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

type InfoBody struct {
	Name      string   `json:"name" doc:"Service name"`
	Version   string   `json:"version" doc:"Service version"`
	DataDir   string   `json:"data_dir" doc:"Data directory path"`
	DB        bool     `json:"db" doc:"Whether the track database is available"`
	Redis     bool     `json:"redis" doc:"Whether the last fix is mirrored to Redis"`
	Listeners int      `json:"listeners" doc:"Registered location listeners"`
	Fixes     int      `json:"fixes" doc:"Recorded fixes"`
	Features  []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	body := InfoBody{
		Name:     "plat-map",
		Version:  "0.1.0",
		DataDir:  h.dataDir,
		DB:       h.svc.Track != nil,
		Redis:    h.redis,
		Features: []string{"layers"},
	}
	if h.svc.Hub != nil {
		body.Listeners = h.svc.Hub.Len()
		body.Features = append(body.Features, "location")
	}
	if h.svc.Track != nil {
		n, err := h.svc.Track.Count(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("counting fixes", err)
		}
		body.Fixes = n
		body.Features = append(body.Features, "track")
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}
