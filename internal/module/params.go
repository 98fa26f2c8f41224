package module

import (
	"fmt"
	"strings"
)

// Helper functions for parameter extraction

// RequireString returns a non-empty scalar parameter as a string.
func RequireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", &ParamError{Param: key, Reason: "is missing"}
	}

	var s string
	switch val := v.(type) {
	case string:
		s = val
	case int, int64, uint64, float64, bool:
		s = fmt.Sprint(val)
	default:
		return "", &ParamError{Param: key, Reason: "must be a string"}
	}

	if strings.TrimSpace(s) == "" {
		return "", &ParamError{Param: key, Reason: "cannot be empty"}
	}
	return s, nil
}

// GetString returns a string parameter or defaultValue.
func GetString(params map[string]any, key, defaultValue string) string {
	v, ok := params[key]
	if !ok {
		return defaultValue
	}
	s, ok := v.(string)
	if !ok {
		return defaultValue
	}
	return s
}

// GetBool returns a boolean parameter. The YAML boolean true and the string
// "true" both count as true.
func GetBool(params map[string]any, key string) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

// GetMap returns a mapping parameter, or an empty map.
func GetMap(params map[string]any, key string) (map[string]any, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return make(map[string]any), nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, &ParamError{Param: key, Reason: "must be a mapping"}
	}
	return m, nil
}
