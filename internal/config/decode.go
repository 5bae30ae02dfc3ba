package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Decode strictly decodes data into a Config. path only selects the format:
// ".yaml"/".yml" is YAML, anything else JSON. Unknown fields and trailing
// data are errors.
//
// String values may reference environment variables as ${NAME}, so secrets
// such as relay.webhook and ops.token can stay out of the file. Unset
// variables expand to "".
func Decode(path string, data []byte) (*Config, error) {
	tree, format, err := decodeTree(path, data)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, fmt.Errorf("%s config: document is empty", format)
	}
	jb, err := json.Marshal(expandTree(tree))
	if err != nil {
		return nil, fmt.Errorf("%s config: %w", format, err)
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s config: %w", format, err)
	}
	return &cfg, nil
}

// decodeTree parses either format into plain maps, slices and scalars.
func decodeTree(path string, data []byte) (any, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, "yaml", fmt.Errorf("yaml config: %w", err)
		}
		return v, "yaml", nil
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, "json", nil
		}
		return nil, "json", fmt.Errorf("json config: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, "json", errors.New("json config: trailing data")
		}
		return nil, "json", fmt.Errorf("json config: %w", err)
	}
	return v, "json", nil
}

// expandTree stringifies YAML map keys and expands ${NAME} in string values.
func expandTree(in any) any {
	switch x := in.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = expandTree(v)
		}
		return m
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = expandTree(v)
		}
		return m
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = expandTree(x[i])
		}
		return out
	case string:
		return expandEnv(x)
	default:
		return in
	}
}

// expandEnv replaces ${NAME} only. A bare $ stays literal since layouts and
// messages use it; os.ExpandEnv would eat "$5".
func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		b.WriteString(s[:i])
		b.WriteString(os.Getenv(s[i+2 : i+2+j]))
		s = s[i+2+j+1:]
	}
	b.WriteString(s)
	return b.String()
}

// ParseDurationField parses a non-negative Go duration; "" is 0. Errors name
// the config path.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for "" and "0s".
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
