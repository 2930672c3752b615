package runconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// Load reads, validates, and normalizes a run configuration file.
//
// The format is chosen by extension (.yaml/.yml or .json); other extensions
// try YAML first. Relative directories in the file are resolved against the
// directory containing it.
func Load(path string) (*RunConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run config not found: %w", err)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading run config: %w", err)
		}
		return nil, fmt.Errorf("failed to read run config: %w", err)
	}

	cfg, err := LoadFromBytes(data, path)
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve run config path: %w", err)
	}
	cfg.ResolvePaths(filepath.Dir(absPath))
	return cfg, nil
}

// LoadFromBytes parses and validates a run configuration from raw bytes.
//
// The path parameter is only used for format detection. Relative
// directories are left as written.
func LoadFromBytes(data []byte, path string) (*RunConfiguration, error) {
	if len(data) == 0 {
		return nil, errors.New("run config is empty")
	}

	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(jsonData, &raw); err != nil {
		return nil, fmt.Errorf("run config must be a mapping: %w", err)
	}

	cfg, err := decode(raw)
	if err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader reads a run configuration from r.
func LoadFromReader(r io.Reader, path string) (*RunConfiguration, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read run config: %w", err)
	}
	return LoadFromBytes(data, path)
}

// decode maps the generic document onto RunConfiguration and splits the
// output switches out of the leftover keys.
func decode(raw map[string]any) (*RunConfiguration, error) {
	var cfg RunConfiguration
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &cfg,
		TagName: "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("build run config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode run config: %w", err)
	}

	cfg.Flags = make(map[string]bool, len(cfg.Extra))
	var unknown []string
	for k, v := range cfg.Extra {
		if !strings.HasPrefix(k, "lout") {
			unknown = append(unknown, k)
			continue
		}
		b, ok := v.(bool)
		if !ok {
			return nil, &ConfigError{Field: k, Message: fmt.Sprintf("output switch must be a boolean, got %T", v)}
		}
		cfg.Flags[k] = b
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &ConfigError{Field: unknown[0], Message: "unknown key"}
	}
	cfg.Extra = nil
	return &cfg, nil
}

// toJSON converts YAML or JSON input to JSON for schema validation.
func toJSON(data []byte, path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in run config: %w", err)
		}
		return data, nil
	case ".yaml", ".yml":
		return yamlToJSON(data)
	default:
		jsonData, err := yamlToJSON(data)
		if err == nil {
			return jsonData, nil
		}
		var raw any
		if jsonErr := json.Unmarshal(data, &raw); jsonErr == nil {
			return data, nil
		}
		return nil, fmt.Errorf("failed to parse run config (tried YAML and JSON): %w", err)
	}
}

func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in run config: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert run config to JSON: %w", err)
	}
	return jsonData, nil
}
