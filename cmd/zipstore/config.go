package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds settings shared by all commands. Values come from the
// optional YAML file named by --config and are overridden by flags.
type Config struct {
	TailSize      int64             `yaml:"tail_size"`
	Root          string            `yaml:"root"`
	Strict        bool              `yaml:"strict"`
	CacheDir      string            `yaml:"cache_dir"`
	CacheMaxBytes int64             `yaml:"cache_max_bytes"`
	BlockSize     int64             `yaml:"block_size"`
	Headers       map[string]string `yaml:"headers"`
	Retries       int               `yaml:"retries"`
	Timeout       time.Duration     `yaml:"timeout"`
	Concurrency   int               `yaml:"concurrency"`
}

// loadConfig reads a YAML config file. An empty path returns the zero Config.
func loadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.TailSize < 0:
		return errors.New("tail_size must be >= 0")
	case c.CacheMaxBytes < 0:
		return errors.New("cache_max_bytes must be >= 0")
	case c.BlockSize < 0:
		return errors.New("block_size must be >= 0")
	case c.Retries < 0:
		return errors.New("retries must be >= 0")
	case c.Timeout < 0:
		return errors.New("timeout must be >= 0")
	case c.Concurrency < 0:
		return errors.New("concurrency must be >= 0")
	}
	return nil
}

// httpHeaders converts the configured headers to an http.Header.
func (c *Config) httpHeaders() http.Header {
	if len(c.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}

// parseHeader splits a "Name: value" flag argument.
func parseHeader(s string) (string, string, error) {
	name, value, ok := strings.Cut(s, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", fmt.Errorf("invalid header %q, want \"Name: value\"", s)
	}
	return name, strings.TrimSpace(value), nil
}
