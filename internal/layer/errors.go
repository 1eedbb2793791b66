package layer

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the layer has no configuration file on disk.
	ErrNotFound = errors.New("layer config not found")
	// ErrCorrupt means the configuration file is not a valid JSON document.
	ErrCorrupt = errors.New("layer config corrupt")
	// ErrIncompatibleSchema means a required field is missing or has the wrong type.
	ErrIncompatibleSchema = errors.New("layer config has incompatible schema")
	// ErrPartialDelete means some of the layer directory is still on disk.
	ErrPartialDelete = errors.New("layer partially deleted")
	// ErrDeleted is returned by operations on a layer that was already deleted.
	ErrDeleted = errors.New("layer deleted")
	// ErrDuplicateID is returned when a group already holds a child with the same id.
	ErrDuplicateID = errors.New("duplicate layer id")
)

// FieldError reports a required field that is missing or malformed.
type FieldError struct {
	Field   string
	Missing bool
	Got     any
}

func (e *FieldError) Error() string {
	if e.Missing {
		return fmt.Sprintf("field %q is missing", e.Field)
	}
	return fmt.Sprintf("field %q has unexpected value %v (%T)", e.Field, e.Got, e.Got)
}

func (e *FieldError) Unwrap() error { return ErrIncompatibleSchema }

// DeleteError reports a recursive delete that left files behind.
type DeleteError struct {
	Path string
	Err  error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("deleting %s: %v", e.Path, e.Err)
}

func (e *DeleteError) Unwrap() []error { return []error{ErrPartialDelete, e.Err} }

// reason maps a load error to a short label for metrics and logs.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCorrupt):
		return "corrupt"
	case errors.Is(err, ErrIncompatibleSchema):
		return "schema"
	case errors.Is(err, ErrDeleted):
		return "deleted"
	}
	return "io"
}
