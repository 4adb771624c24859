package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// An empty file is a valid all-defaults config.
			err = nil
		} else {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found; soft
// problems are logged and do not fail the load.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Capture.QueueCapacity < 0 {
		errs = append(errs, fmt.Errorf("capture.queue_capacity %d is negative", cfg.Capture.QueueCapacity))
	} else if cfg.Capture.QueueCapacity > 0 && cfg.Capture.QueueCapacity < 1024 {
		slog.Warn("capture.queue_capacity is small; sustained capture may drop frames",
			"queue_capacity", cfg.Capture.QueueCapacity,
		)
	}

	if cfg.Source.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("source.block_size %d is negative", cfg.Source.BlockSize))
	}
	if cfg.Source.WAVPath != "" && !strings.EqualFold(filepath.Ext(cfg.Source.WAVPath), ".wav") {
		errs = append(errs, fmt.Errorf("source.wav_path %q is not a .wav file", cfg.Source.WAVPath))
	}
	if cfg.Source.WAVPath == "" && cfg.Source.Realtime {
		slog.Warn("source.realtime is set but source.wav_path is empty; no built-in source will run")
	}

	if cfg.Output.Namespace != "" && strings.ContainsAny(cfg.Output.Namespace, `/\`) {
		errs = append(errs, fmt.Errorf("output.namespace %q must be a single path element", cfg.Output.Namespace))
	}

	return errors.Join(errs...)
}
