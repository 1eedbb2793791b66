package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-map/internal/location"
)

type FixOutput struct {
	Body location.Fix
}

type TrackInput struct {
	Limit int `query:"limit" default:"100" minimum:"1" maximum:"10000" doc:"Maximum number of fixes, newest first"`
}

type TrackBody struct {
	Fixes  []location.Fix `json:"fixes" doc:"Recorded fixes, newest first"`
	Extent []float64      `json:"extent,omitempty" doc:"Bounding box [minLon, minLat, maxLon, maxLat] of the whole track"`
}

type TrackGeoJSONOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// RegisterLocation registers the location history routes.
func (h *APIHandler) RegisterLocation(api huma.API) {
	huma.Get(api, "/api/v1/location/last", h.GetLastFix, huma.OperationTags("location"))
	huma.Get(api, "/api/v1/location/track", h.GetTrack, huma.OperationTags("location"))
	huma.Get(api, "/api/v1/location/track/geojson", h.GetTrackGeoJSON, huma.OperationTags("location"))
}

func (h *APIHandler) GetLastFix(ctx context.Context, input *struct{}) (*FixOutput, error) {
	if h.svc.Last == nil {
		return nil, huma.Error503ServiceUnavailable("location cache not available")
	}
	fix, ok, err := h.svc.Last.Get(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading last fix", err)
	}
	if !ok {
		return nil, huma.Error404NotFound("no fix yet")
	}
	return &FixOutput{Body: fix}, nil
}

func (h *APIHandler) GetTrack(ctx context.Context, input *TrackInput) (*struct{ Body TrackBody }, error) {
	if h.svc.Track == nil {
		return nil, huma.Error503ServiceUnavailable("track recorder not available")
	}
	fixes, err := h.svc.Track.Recent(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading track", err)
	}
	body := TrackBody{Fixes: fixes}
	b, ok, err := h.svc.Track.Extent(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading track extent", err)
	}
	if ok {
		body.Extent = []float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()}
	}
	return &struct{ Body TrackBody }{Body: body}, nil
}

// GetTrackGeoJSON returns the recent track as a LineString feature in
// chronological order, plus one point feature for the newest fix.
func (h *APIHandler) GetTrackGeoJSON(ctx context.Context, input *TrackInput) (*TrackGeoJSONOutput, error) {
	if h.svc.Track == nil {
		return nil, huma.Error503ServiceUnavailable("track recorder not available")
	}
	fixes, err := h.svc.Track.Recent(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading track", err)
	}

	fc := geojson.NewFeatureCollection()
	if len(fixes) > 0 {
		line := make(orb.LineString, 0, len(fixes))
		for i := len(fixes) - 1; i >= 0; i-- {
			line = append(line, fixes[i].Point)
		}
		track := geojson.NewFeature(line)
		track.Properties["kind"] = "track"
		track.Properties["fixes"] = len(fixes)
		fc.Append(track)

		last := geojson.NewFeature(fixes[0].Point)
		last.Properties["kind"] = "last"
		last.Properties["provider"] = string(fixes[0].Provider)
		last.Properties["accuracy"] = fixes[0].Accuracy
		last.Properties["time"] = fixes[0].Time
		fc.Append(last)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, huma.Error500InternalServerError("encoding track", err)
	}
	return &TrackGeoJSONOutput{ContentType: "application/geo+json", Body: data}, nil
}
