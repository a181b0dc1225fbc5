// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package config holds the connection settings of a ZTeraDB client.
//
// A Config is read-only once built. Programs may assemble one by hand, or
// load it with Load from a map and from ZTERADB_* environment variables:
//
//	cfg, err := config.Load(config.FromMap(defaults), config.FromEnv())
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Env selects the ZTeraDB environment the database lives in.
type Env string

const (
	Dev     Env = "dev"
	Staging Env = "staging"
	QA      Env = "qa"
	Prod    Env = "prod"
)

func (e Env) valid() bool {
	switch e {
	case Dev, Staging, QA, Prod:
		return true
	}
	return false
}

// ResponseDataType is the serialization the server uses for records.
type ResponseDataType string

const JSON ResponseDataType = "json"

// Defaults applied by ApplyDefaults.
const (
	DefaultPoolMin        = 0
	DefaultPoolMax        = 1
	DefaultConnectTimeout = 10 * time.Second
	DefaultAcquireTimeout = 30 * time.Second
)

// ErrInvalidConfig matches every validation error returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the connection configuration.
type Config struct {
	ClientKey        string           `koanf:"client_key"`
	AccessKey        string           `koanf:"access_key"`
	SecretKey        string           `koanf:"secret_key"`
	DatabaseID       string           `koanf:"database_id"`
	Env              Env              `koanf:"env"`
	ResponseDataType ResponseDataType `koanf:"response_data_type"`
	// ConnectTimeout bounds dialing plus the handshake of one connection.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	Pool           Pool          `koanf:"pool"`
}

// Pool sizes and paces the connection pool.
type Pool struct {
	// Min connections are opened eagerly and kept open.
	Min int `koanf:"min"`
	// Max bounds the connections serving requests at once.
	Max int `koanf:"max"`
	// AcquireTimeout bounds the wait for a free connection. Zero waits
	// for as long as the caller's context allows.
	AcquireTimeout time.Duration `koanf:"acquire_timeout"`
	// IdleTimeout closes connections above Min unused for that long. Zero
	// keeps them.
	IdleTimeout time.Duration `koanf:"idle_timeout"`
	// HealthInterval is the period of the idle connection check. Zero
	// disables it.
	HealthInterval time.Duration `koanf:"health_interval"`
	// DialRate limits new connections per second. Zero means no limit.
	DialRate  float64 `koanf:"dial_rate"`
	DialBurst int     `koanf:"dial_burst"`
}

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.ResponseDataType == "" {
		c.ResponseDataType = JSON
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Pool.Max == 0 {
		c.Pool.Max = DefaultPoolMax
		if c.Pool.Min > c.Pool.Max {
			c.Pool.Max = c.Pool.Min
		}
	}
	if c.Pool.AcquireTimeout == 0 {
		c.Pool.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.Pool.DialRate > 0 && c.Pool.DialBurst == 0 {
		c.Pool.DialBurst = 1
	}
}

// Validate reports every problem with c, joined into one error matching
// ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}
	check(strings.TrimSpace(c.ClientKey) != "", "client_key is required")
	check(strings.TrimSpace(c.AccessKey) != "", "access_key is required")
	check(strings.TrimSpace(c.SecretKey) != "", "secret_key is required")
	check(strings.TrimSpace(c.DatabaseID) != "", "database_id is required")
	check(c.Env.valid(), "env %q is not one of dev, staging, qa or prod", c.Env)
	check(c.ResponseDataType == JSON, "response_data_type %q is not supported", c.ResponseDataType)
	check(c.ConnectTimeout >= 0, "connect_timeout cannot be negative")
	check(c.Pool.Min >= 0, "pool.min cannot be negative")
	check(c.Pool.Max >= 1, "pool.max must be at least 1")
	check(c.Pool.Min <= c.Pool.Max, "pool.min %d is greater than pool.max %d", c.Pool.Min, c.Pool.Max)
	check(c.Pool.AcquireTimeout >= 0, "pool.acquire_timeout cannot be negative")
	check(c.Pool.IdleTimeout >= 0, "pool.idle_timeout cannot be negative")
	check(c.Pool.HealthInterval >= 0, "pool.health_interval cannot be negative")
	check(c.Pool.DialRate >= 0, "pool.dial_rate cannot be negative")
	check(c.Pool.DialBurst >= 0, "pool.dial_burst cannot be negative")
	return errors.Join(errs...)
}

// LogValue implements slog.LogValuer. Credentials other than the client key
// are left out.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("client_key", c.ClientKey),
		slog.String("database_id", c.DatabaseID),
		slog.String("env", string(c.Env)),
		slog.Int("pool_min", c.Pool.Min),
		slog.Int("pool_max", c.Pool.Max),
	)
}

// ErrDefaultAlreadySet is returned by SetDefault after the first success.
var ErrDefaultAlreadySet = errors.New("default config already set")

var defaultConfig atomic.Pointer[Config]

// SetDefault installs c as the process wide default used when no Config is
// given explicitly. It can succeed only once per process and the default is
// never torn down. c is validated and copied.
func SetDefault(c *Config) error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	cp := *c
	if !defaultConfig.CompareAndSwap(nil, &cp) {
		return ErrDefaultAlreadySet
	}
	return nil
}

// Default returns a copy of the process wide default, if one was set.
func Default() (*Config, bool) {
	c := defaultConfig.Load()
	if c == nil {
		return nil, false
	}
	cp := *c
	return &cp, true
}
