// Package config loads the legend YAML configuration file.
//
// Unknown keys are rejected. Keys left out keep the values of Default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/hanpama/legend/internal/validation"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     Server     `yaml:"server"`
	Execution  Execution  `yaml:"execution"`
	Validation Validation `yaml:"validation"`
	NativeCode NativeCode `yaml:"nativeCode"`
	Stores     Stores     `yaml:"stores"`
	Logging    Logging    `yaml:"logging"`
	Otel       Otel       `yaml:"otel"`
}

type Server struct {
	Addr         string        `yaml:"addr"`
	Timeout      time.Duration `yaml:"timeout"`
	Pretty       bool          `yaml:"pretty"`
	MaxBodyBytes int64         `yaml:"maxBodyBytes"`
	CORSOrigins  []string      `yaml:"corsOrigins"`
}

type Execution struct {
	// MemoryLimit bounds the estimated size of one graph fetch batch in bytes.
	MemoryLimit int64 `yaml:"memoryLimit"`
	// BatchSize applies to graph fetch nodes that do not set one.
	BatchSize int `yaml:"batchSize"`
	// RealizeInMemory realizes allocation results before binding them.
	RealizeInMemory bool `yaml:"realizeInMemory"`
	// TemplateCacheSize bounds the parsed templates kept.
	TemplateCacheSize int `yaml:"templateCacheSize"`
}

type Validation struct {
	StrictDateFormats []string `yaml:"strictDateFormats"`
	DateTimeFormats   []string `yaml:"dateTimeFormats"`
}

type NativeCode struct {
	// AllowPackages restricts the library packages generated code may use.
	// Empty allows every package.
	AllowPackages []string `yaml:"allowPackages"`
	CacheSize     int      `yaml:"cacheSize"`
	Isolate       bool     `yaml:"isolate"`
}

type Stores struct {
	Relational Relational `yaml:"relational"`
	InMemory   InMemory   `yaml:"inMemory"`
	Service    Service    `yaml:"service"`
}

type Relational struct {
	Driver       string            `yaml:"driver"`
	Connections  map[string]string `yaml:"connections"`
	MaxOpenConns int               `yaml:"maxOpenConns"`
}

type InMemory struct {
	// Datasets maps dataset names to JSON files holding an array of objects.
	Datasets        map[string]string `yaml:"datasets"`
	FilterCacheSize int               `yaml:"filterCacheSize"`
}

type Service struct {
	// Endpoints maps fully qualified service names to addresses.
	Endpoints           map[string][]string `yaml:"endpoints"`
	RPCTimeout          time.Duration       `yaml:"rpcTimeout"`
	MaxConnsPerEndpoint int                 `yaml:"maxConnsPerEndpoint"`
	ValuesField         string              `yaml:"valuesField"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables rotated file output in addition to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

type Otel struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:    ":6300",
			Timeout: 30 * time.Second,
		},
		Execution: Execution{
			MemoryLimit:       50 << 20,
			BatchSize:         1000,
			TemplateCacheSize: 256,
		},
		Validation: Validation{
			StrictDateFormats: slices.Clone(validation.DefaultStrictDateFormats),
			DateTimeFormats:   slices.Clone(validation.DefaultDateTimeFormats),
		},
		NativeCode: NativeCode{
			CacheSize: 512,
			Isolate:   true,
		},
		Stores: Stores{
			Relational: Relational{Driver: "sqlite", MaxOpenConns: 4},
			InMemory:   InMemory{FilterCacheSize: 128},
			Service: Service{
				RPCTimeout:          3 * time.Second,
				MaxConnsPerEndpoint: 2,
				ValuesField:         "values",
			},
		},
		Logging: Logging{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Otel: Otel{Service: "legend"},
	}
}

// Load reads the file at path over Default. An empty path returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes data over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports every inconsistent value of c.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Server.Addr != "", "server.addr is required")
	check(c.Server.Timeout >= 0, "server.timeout must not be negative")
	check(c.Server.MaxBodyBytes >= 0, "server.maxBodyBytes must not be negative")
	check(c.Execution.MemoryLimit > 0, "execution.memoryLimit must be positive")
	check(c.Execution.BatchSize > 0, "execution.batchSize must be positive")
	check(c.Execution.TemplateCacheSize >= 0, "execution.templateCacheSize must not be negative")
	check(len(c.Validation.StrictDateFormats) > 0, "validation.strictDateFormats must not be empty")
	check(len(c.Validation.DateTimeFormats) > 0, "validation.dateTimeFormats must not be empty")
	check(c.NativeCode.CacheSize > 0, "nativeCode.cacheSize must be positive")
	check(c.Stores.Relational.Driver != "", "stores.relational.driver is required")
	check(c.Stores.Relational.MaxOpenConns >= 0, "stores.relational.maxOpenConns must not be negative")
	for name, dsn := range c.Stores.Relational.Connections {
		check(dsn != "", "stores.relational.connections.%s: empty DSN", name)
	}
	for name, file := range c.Stores.InMemory.Datasets {
		check(file != "", "stores.inMemory.datasets.%s: empty file", name)
	}
	for svc, addrs := range c.Stores.Service.Endpoints {
		check(len(addrs) > 0, "stores.service.endpoints.%s: no address", svc)
	}
	check(c.Stores.Service.RPCTimeout >= 0, "stores.service.rpcTimeout must not be negative")
	check(c.Stores.Service.ValuesField != "", "stores.service.valuesField is required")
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		check(false, "logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	check(c.Logging.Format == "json" || c.Logging.Format == "console", "logging.format %q is not json or console", c.Logging.Format)
	check(c.Otel.Endpoint == "" || c.Otel.Service != "", "otel.service is required with otel.endpoint")
	return errors.Join(errs...)
}
