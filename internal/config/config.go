// Package config loads build settings from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// IDMappings configures identifier-mapping compilation.
type IDMappings struct {
	Enabled    *bool  `yaml:"enabled"`
	OutputPath string `yaml:"output_path"`
}

// Config holds the optional run-on-server.yaml settings. Unset fields fall
// back to the CLI defaults; pointer fields distinguish unset from false.
type Config struct {
	ClientModule string     `yaml:"client_module"`
	OutDir       string     `yaml:"out_dir"`
	EvalRequire  *bool      `yaml:"eval_require"`
	IDMappings   IDMappings `yaml:"id_mappings"`
	Exclude      []string   `yaml:"exclude"`
	MaxFileSize  int        `yaml:"max_file_size"`
}

// Load reads and strictly decodes a config file. Unknown keys are an error
// so a typo cannot silently disable a setting.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}
