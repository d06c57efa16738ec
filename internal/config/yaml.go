package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// asJSON hands JSON config through untouched and re-encodes YAML config as
// JSON, so Parse can run one strict decoder (DisallowUnknownFields) over
// both formats.
func asJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse yaml %s: %w", filepath.Base(path), err)
	}
	j, err := json.Marshal(stringifyKeys(v))
	if err != nil {
		return nil, fmt.Errorf("convert yaml %s: %w", filepath.Base(path), err)
	}
	return j, nil
}

// stringifyKeys rewrites map keys to strings so json.Marshal accepts the
// decoded YAML tree.
func stringifyKeys(v any) any {
	switch x := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[fmt.Sprint(k)] = stringifyKeys(e)
		}
		return m
	case map[string]any:
		for k, e := range x {
			x[k] = stringifyKeys(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = stringifyKeys(e)
		}
		return x
	}
	return v
}
