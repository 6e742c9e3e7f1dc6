// control/loader.go
// Author: momentics <momentics@gmail.com>
//
// Layered config loading: defaults, then a YAML or TOML file, then a .env
// file, then process environment.

package control

import (
	"encoding"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix prefixes every environment key, e.g. HIOLOAD_POOL_CONCURRENCY.
const DefaultEnvPrefix = "HIOLOAD"

// Loader builds a Config.
//
//	cfg, err := control.NewLoader().
//	    WithConfigPath("hioload.yaml").
//	    WithEnvPrefix("HIOLOAD").
//	    Load()
type Loader struct {
	path       string
	envPrefix  string
	envFile    string
	lookup     func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader returns a loader reading the process environment.
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix, lookup: os.LookupEnv}
}

// WithConfigPath sets the config file. The format follows the extension.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.path = path
	return l
}

// WithEnvPrefix sets the environment key prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvFile sets a .env file whose values apply below the process environment.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// WithLookup replaces the environment lookup.
func (l *Loader) WithLookup(fn func(string) (string, bool)) *Loader {
	l.lookup = fn
	return l
}

// WithValidator adds a check run after Validate.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Path returns the config file path.
func (l *Loader) Path() string { return l.path }

// Load builds the config. A missing config or .env file is not an error.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	if l.path != "" {
		if err := l.loadFile(cfg); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
	}
	lookup, err := l.envLookup()
	if err != nil {
		return nil, fmt.Errorf("env file: %w", err)
	}
	if err := setFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix, lookup); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFile(cfg *Config) error {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(l.path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	return err
}

func (l *Loader) envLookup() (func(string) (string, bool), error) {
	if l.envFile == "" {
		return l.lookup, nil
	}
	vals, err := godotenv.Read(l.envFile)
	if errors.Is(err, os.ErrNotExist) {
		return l.lookup, nil
	}
	if err != nil {
		return nil, err
	}
	return func(k string) (string, bool) {
		if v, ok := l.lookup(k); ok {
			return v, true
		}
		v, ok := vals[k]
		return v, ok
	}, nil
}

var textUnmarshaler = reflect.TypeFor[encoding.TextUnmarshaler]()

func setFromEnv(v reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	t := v.Type()
	for i := range v.NumField() {
		field, ft := v.Field(i), t.Field(i)
		tag := ft.Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		if field.Kind() == reflect.Struct {
			if err := setFromEnv(field, key, lookup); err != nil {
				return err
			}
			continue
		}
		s, ok := lookup(key)
		if !ok || s == "" {
			continue
		}
		if err := setField(field, s); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func setField(field reflect.Value, s string) error {
	if field.CanAddr() && field.Addr().Type().Implements(textUnmarshaler) {
		return field.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s))
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice %s", field.Type())
		}
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}
