// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 GymKeeper Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/gymkeeper/gymkeeper/internal/xdg"
)

// EnvPrefix prefixes GymKeeper environment variables. Nested keys are
// separated by a double underscore: GYMKEEPER_AUTH__BCRYPT_COST.
const EnvPrefix = "GYMKEEPER_"

// envAliases maps conventional variable names to config keys.
var envAliases = map[string]string{
	"DATABASE_URL": "database.url",
	"JWT_SECRET":   "auth.jwt_secret",
}

// Options controls where Load reads from.
type Options struct {
	// ConfigFile is an explicit YAML file. It must exist when set. When
	// empty, the XDG config file is read if present.
	ConfigFile string

	// EnvFile is a dotenv file loaded into the process environment if it
	// exists. Variables already set are not overridden.
	EnvFile string

	// Flags are applied last. Only flags registered with FlagKeys are read.
	Flags *pflag.FlagSet

	// Environ replaces os.Environ, for tests.
	Environ func() []string
}

// FlagKeys maps command-line flag names to config keys.
var FlagKeys = map[string]string{
	"addr":         "server.addr",
	"database-url": "database.url",
	"metrics-addr": "observability.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"auto-migrate": "database.auto_migrate",
}

// Load builds the configuration and validates it.
func Load(opts Options) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	if err := loadFile(k, opts.ConfigFile); err != nil {
		return nil, err
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("env_file", opts.EnvFile).Wrap(err)
		}
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ
	}
	if err := loadEnv(k, environ()); err != nil {
		return nil, err
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	if k.String("database.url") == "" {
		dataDir, err := xdg.DataDir()
		if err != nil {
			return nil, err
		}
		if err := k.Set("database.url", "sqlite3://"+filepath.Join(dataDir, "gymkeeper.db")); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", "database.url").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = xdg.ConfigFile(); err != nil {
			return nil //nolint:nilerr // no home directory means no default file
		}
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return oops.Code("CONFIG_LOAD_FAILED").With("config_file", path).Wrap(err)
	}
	if err := ValidateYAML(data); err != nil {
		return oops.With("config_file", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("config_file", path).Wrap(err)
	}
	return nil
}

func loadEnv(k *koanf.Koanf, environ []string) error {
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		key, ok := envKey(name)
		if !ok {
			continue
		}
		var val any = value
		if key == "server.allowed_origins" {
			val = splitList(value)
		}
		if err := k.Set(key, val); err != nil {
			return oops.Code("CONFIG_LOAD_FAILED").With("env", name).Wrap(err)
		}
	}
	return nil
}

func envKey(name string) (string, bool) {
	if key, ok := envAliases[name]; ok {
		return key, true
	}
	rest, ok := strings.CutPrefix(name, EnvPrefix)
	if !ok || rest == "" {
		return "", false
	}
	return strings.ToLower(strings.ReplaceAll(rest, "__", ".")), true
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
