package layer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
)

// Document is the key-value form of a persisted entity.
type Document map[string]any

// ReadDocument reads and parses a configuration file.
func ReadDocument(file string) (Document, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, file, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: %s: not an object", ErrCorrupt, file)
	}
	return doc, nil
}

func (d Document) String(key string) (string, error) {
	v, ok := d[key]
	if !ok {
		return "", &FieldError{Field: key, Missing: true}
	}
	s, ok := v.(string)
	if !ok {
		return "", &FieldError{Field: key, Got: v}
	}
	return s, nil
}

func (d Document) Bool(key string) (bool, error) {
	v, ok := d[key]
	if !ok {
		return false, &FieldError{Field: key, Missing: true}
	}
	b, ok := v.(bool)
	if !ok {
		return false, &FieldError{Field: key, Got: v}
	}
	return b, nil
}

func (d Document) Float(key string) (float64, error) {
	v, ok := d[key]
	if !ok {
		return 0, &FieldError{Field: key, Missing: true}
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, &FieldError{Field: key, Got: v}
	}
	return f, nil
}

// FloatOr returns the numeric value at key, or def when the key is absent.
func (d Document) FloatOr(key string, def float64) (float64, error) {
	if _, ok := d[key]; !ok {
		return def, nil
	}
	return d.Float(key)
}

func (d Document) Int(key string) (int, error) {
	f, err := d.Float(key)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, &FieldError{Field: key, Got: d[key]}
	}
	return int(f), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
