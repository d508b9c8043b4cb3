package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/flyimg/internal/options"
	"gopkg.in/yaml.v3"
)

// optionsDocument mirrors the parameters file of a Flyimg deployment.
type optionsDocument struct {
	Separator string              `yaml:"options_separator"`
	Keys      *options.KeyMapping `yaml:"options_keys"`
	Defaults  options.Options     `yaml:"default_options"`
}

// LoadOptionsFile reads a YAML options document. A missing separator falls
// back to ",", a missing key table to the built-in one.
func LoadOptionsFile(path string) (options.Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return options.Config{}, fmt.Errorf("resolve options file %s: %w", path, err)
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return options.Config{}, fmt.Errorf("options file not found: %s", abs)
		}
		return options.Config{}, fmt.Errorf("read options file %s: %w", abs, err)
	}

	cfg, err := ParseOptionsDocument(raw)
	if err != nil {
		return options.Config{}, fmt.Errorf("parse options file %s: %w", abs, err)
	}
	return cfg, nil
}

// ParseOptionsDocument decodes an options document held in memory. An empty
// document yields the default configuration.
func ParseOptionsDocument(raw []byte) (options.Config, error) {
	var doc optionsDocument
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return options.Config{}, err
	}

	cfg := options.DefaultConfig()
	if sep := doc.Separator; strings.TrimSpace(sep) != "" {
		cfg.Separator = sep
	}
	if doc.Keys != nil && doc.Keys.Len() > 0 {
		cfg.Keys = *doc.Keys
	}
	cfg.Defaults = doc.Defaults
	return cfg, nil
}

// OptionsConfig loads the options document named by FLYIMG_OPTIONS_FILE, or
// the defaults when none is set.
func (f FlyimgConfig) OptionsConfig() (options.Config, error) {
	if strings.TrimSpace(f.OptionsFile) == "" {
		return options.DefaultConfig(), nil
	}
	return LoadOptionsFile(f.OptionsFile)
}
