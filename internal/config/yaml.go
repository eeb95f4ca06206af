package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAMLName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// sourceJSON returns data as JSON so both formats go through the strict
// decoder in Decode. format is "json" or "yaml".
func sourceJSON(name string, data []byte) (out []byte, format string, err error) {
	if !isYAMLName(name) {
		return data, "json", nil
	}
	out, err = yamlToJSON(data)
	return out, "yaml", err
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml config: %w", err)
	}
	switch doc.(type) {
	case nil:
		return []byte("{}"), nil
	case map[string]any, map[any]any:
	default:
		return nil, errors.New("yaml config: top level must be a mapping")
	}
	b, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml config: %w", err)
	}
	return b, nil
}

// stringKeys rewrites nested maps so every key is a string.
func stringKeys(v any) any {
	switch x := v.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = stringKeys(val)
		}
		return m
	case map[string]any:
		for k, val := range x {
			x[k] = stringKeys(val)
		}
		return x
	case []any:
		for i, val := range x {
			x[i] = stringKeys(val)
		}
		return x
	}
	return v
}
