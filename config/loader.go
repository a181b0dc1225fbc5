// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes the environment variables read by FromEnv.
const EnvPrefix = "ZTERADB_"

// envAliases maps the variable names used by existing ZTeraDB deployments to
// config keys.
var envAliases = map[string]string{
	"min_conn":      "pool.min",
	"max_conn":      "pool.max",
	"response_type": "response_data_type",
}

// Load builds a Config from providers, later ones overriding earlier ones,
// then applies defaults and validates the result.
func Load(providers ...koanf.Provider) (*Config, error) {
	k := koanf.New(".")
	for _, p := range providers {
		if err := k.Load(p, nil); err != nil {
			return nil, fmt.Errorf("cannot load config: %w", err)
		}
	}
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromMap returns a provider reading m. Nested keys may be given as nested
// maps or with dots, as in "pool.max".
func FromMap(m map[string]any) koanf.Provider {
	return confmap.Provider(m, ".")
}

// FromEnv returns a provider reading ZTERADB_* variables.
// ZTERADB_DATABASE_ID sets database_id, ZTERADB_POOL_MAX sets pool.max, and
// the aliases ZTERADB_MIN_CONN, ZTERADB_MAX_CONN and ZTERADB_RESPONSE_TYPE
// are understood.
func FromEnv() koanf.Provider {
	return env.Provider(EnvPrefix, ".", envKey)
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if alias, ok := envAliases[key]; ok {
		return alias
	}
	if rest, ok := strings.CutPrefix(key, "pool_"); ok {
		return "pool." + rest
	}
	return key
}
