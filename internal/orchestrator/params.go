package orchestrator

import (
	"encoding/json"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tibame201020/opencv-custom-sub001/internal/errors"
)

// ParseParam parses "key=value". Values that are valid JSON keep their JSON
// type; anything else is a string. An empty value yields nil, which
// SetParams treats as a removal.
func ParseParam(s string) (string, any, error) {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, errors.NewValidationError("expected key=value").WithField("param").WithValue(s)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return key, nil, nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil && decoded != nil {
		return key, decoded, nil
	}
	return key, raw, nil
}

// ParseParams parses each "key=value" pair in order into one map.
func ParseParams(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, err := ParseParam(p)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// LoadParamsFile reads a YAML (or JSON) mapping of params.
func LoadParamsFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read params file %s", path)
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, errors.NewValidationError("params file is not a YAML mapping").
			WithField("params_file").WithValue(path).WithCause(err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
