// Package service contains the business logic behind the plat-map API.
package service

// LayerInfo is the API view of a layer.
// Huma reads the tags for OpenAPI and validation.
type LayerInfo struct {
	ID       int         `json:"id" doc:"Layer identifier within its group" example:"0"`
	Name     string      `json:"name" doc:"Display name" example:"Roads"`
	Type     string      `json:"type" doc:"Layer variant" example:"local_tms"`
	Visible  bool        `json:"visible" doc:"Whether the layer is drawn"`
	MinZoom  float64     `json:"minZoom" doc:"Lowest zoom the layer is drawn at" example:"0"`
	MaxZoom  float64     `json:"maxZoom" doc:"Highest zoom the layer is drawn at" example:"25"`
	Path     string      `json:"path" doc:"Layer directory"`
	Extent   []float64   `json:"extent,omitempty" doc:"Bounding box [minLon, minLat, maxLon, maxLat]"`
	Children []LayerInfo `json:"children,omitempty" doc:"Child layers of a group"`
}

// LayerCreate is the body for creating a layer.
type LayerCreate struct {
	Name string `json:"name" required:"true" minLength:"1" maxLength:"100" doc:"Display name" example:"Roads"`
	Type string `json:"type,omitempty" enum:"group,local_tms,remote_tms,local_vector,remote_vector,track" default:"local_vector" doc:"Layer variant"`
}

// LayerPatch changes some fields of a layer. Absent fields are left alone.
type LayerPatch struct {
	Name    *string  `json:"name,omitempty" maxLength:"100" doc:"Display name"`
	Visible *bool    `json:"visible,omitempty" doc:"Whether the layer is drawn"`
	MinZoom *float64 `json:"minZoom,omitempty" minimum:"0" doc:"Lowest zoom"`
	MaxZoom *float64 `json:"maxZoom,omitempty" minimum:"0" doc:"Highest zoom"`
}
