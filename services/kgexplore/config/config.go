// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the kgexplore service configuration.
//
// Loading starts from the embedded default.yaml, overlays an optional file,
// then applies environment overrides and validates the result.
package config

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/kgexplore/pkg/logging"
)

// MaxFileSize is the largest accepted configuration file.
const MaxFileSize = 1024 * 1024

// Environment variables that override file values.
const (
	EnvDataDir     = "KGEXPLORE_DATA_DIR"
	EnvHTTPPort    = "KGEXPLORE_HTTP_PORT"
	EnvWeaviateURL = "KGEXPLORE_WEAVIATE_URL"
	EnvLogLevel    = "KGEXPLORE_LOG_LEVEL"
	EnvStoragePath = "KGEXPLORE_STORAGE_PATH"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

//go:embed default.yaml
var defaultYAML []byte

var configLoadErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kgexplore_config_load_errors_total",
	Help: "Total configuration load errors",
})

var tracer = otel.Tracer("kgexplore.config")

// Duration is a time.Duration that decodes from strings such as "250ms".
type Duration time.Duration

// UnmarshalYAML accepts a Go duration string or an integer nanosecond count.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	if n, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration.
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Logging   LoggingConfig             `yaml:"logging"`
	Telemetry TelemetryConfig           `yaml:"telemetry"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	Storage   StorageConfig             `yaml:"storage"`
	FullText  FullTextConfig            `yaml:"fulltext"`
	Data      DataConfig                `yaml:"data"`
	Analyses  map[string]AnalysisConfig `yaml:"analyses"`
}

type ServerConfig struct {
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	RefreshRate       float64  `yaml:"refresh_rate"`
	RefreshBurst      int      `yaml:"refresh_burst"`
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	Traces       string `yaml:"traces"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Metrics      string `yaml:"metrics"`
}

type SchedulerConfig struct {
	Workers                  int  `yaml:"workers"`
	EvictSettled             bool `yaml:"evict_settled"`
	MaxRuns                  int  `yaml:"max_runs"`
	RejectCyclicRequirements bool `yaml:"reject_cyclic_requirements"`
}

type StorageConfig struct {
	Path       string   `yaml:"path"`
	InMemory   bool     `yaml:"in_memory"`
	SyncWrites bool     `yaml:"sync_writes"`
	GCInterval Duration `yaml:"gc_interval"`
}

// Full-text backends.
const (
	BackendMemory   = "memory"
	BackendWeaviate = "weaviate"
)

type FullTextConfig struct {
	Backend string `yaml:"backend"`
	URL     string `yaml:"url"`
	Class   string `yaml:"class"`
}

type DataConfig struct {
	Dir      string   `yaml:"dir"`
	Watch    bool     `yaml:"watch"`
	Debounce Duration `yaml:"debounce"`
}

// AnalysisConfig holds per-service switches.
type AnalysisConfig struct {
	Disabled bool `yaml:"disabled"`
}

// Disabled returns the names of disabled analyses.
func (c *Config) Disabled() map[string]bool {
	out := make(map[string]bool, len(c.Analyses))
	for name, a := range c.Analyses {
		if a.Disabled {
			out[name] = true
		}
	}
	return out
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg, err := parse(defaultYAML, nil)
	if err != nil {
		panic(fmt.Sprintf("embedded default config: %v", err))
	}
	return cfg
}

// Load builds the configuration.
//
// Description:
//
//	Starts from the embedded defaults, overlays path when non-empty, applies
//	environment overrides, and validates.
//
// Inputs:
//
//	ctx - Context for tracing.
//	path - Optional YAML file. Empty uses defaults only.
//	logger - Receives load diagnostics. Nil discards them.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - Read, parse, or validation failure. Validation errors wrap
//	        ErrInvalidConfig.
func Load(ctx context.Context, path string, logger *slog.Logger) (*Config, error) {
	_, span := tracer.Start(ctx, "config.Load")
	defer span.End()
	logger = logging.OrNop(logger)

	cfg, err := load(path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		configLoadErrors.Inc()
		return nil, err
	}

	source := "embedded"
	if path != "" {
		source = path
	}
	span.SetAttributes(attribute.String("source", source))
	logger.Debug("configuration loaded", slog.String("source", source))
	return cfg, nil
}

func load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := readLimited(path)
		if err != nil {
			return nil, err
		}
		if cfg, err = parse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidConfig, path, MaxFileSize)
	}
	return data, nil
}

// parse decodes data over base, or over a zero Config when base is nil.
// Unknown keys are rejected.
func parse(data []byte, base *Config) (*Config, error) {
	cfg := base
	if cfg == nil {
		cfg = &Config{}
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		c.Data.Dir = v
	}
	if v, ok := lookup(EnvHTTPPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a port", ErrInvalidConfig, EnvHTTPPort, v)
		}
		c.Server.Port = port
	}
	if v, ok := lookup(EnvWeaviateURL); ok && v != "" {
		c.FullText.URL = v
		c.FullText.Backend = BackendWeaviate
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup(EnvStoragePath); ok && v != "" {
		c.Storage.Path = v
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RefreshRate <= 0 {
		return invalid("server.refresh_rate must be positive")
	}
	if c.Server.RefreshBurst < 1 {
		return invalid("server.refresh_burst must be at least 1")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level: %v", err)
	}
	switch c.Telemetry.Traces {
	case "none", "stdout", "otlp":
	default:
		return invalid("telemetry.traces %q", c.Telemetry.Traces)
	}
	switch c.Telemetry.Metrics {
	case "none", "prometheus", "stdout":
	default:
		return invalid("telemetry.metrics %q", c.Telemetry.Metrics)
	}
	if c.Scheduler.Workers < 0 {
		return invalid("scheduler.workers must not be negative")
	}
	if c.Scheduler.MaxRuns < 0 {
		return invalid("scheduler.max_runs must not be negative")
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return invalid("storage.path is required unless storage.in_memory is set")
	}
	switch c.FullText.Backend {
	case BackendMemory:
	case BackendWeaviate:
		if c.FullText.URL == "" {
			return invalid("fulltext.url is required for the weaviate backend")
		}
	default:
		return invalid("fulltext.backend %q", c.FullText.Backend)
	}
	if c.Data.Dir == "" {
		return invalid("data.dir is required")
	}
	if c.Data.Debounce < 0 {
		return invalid("data.debounce must not be negative")
	}
	return nil
}
