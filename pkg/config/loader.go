package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/framegraph/framegraph/pkg/engine"
	"github.com/framegraph/framegraph/pkg/telemetry"
)

// EnvPrefix prefixes environment overrides: FRAMEGRAPH_ENGINE_MAX_DEPTH sets
// engine.max_depth.
const EnvPrefix = "FRAMEGRAPH"

// ConfigName is the file name searched for when no path is given.
const ConfigName = "framegraph"

var fileExts = []string{"yaml", "yml", "json", "toml", "cue"}

// Default returns the built-in configuration.
func Default() *Config {
	tel := telemetry.DefaultConfig()
	return &Config{
		Engine:    engine.DefaultConfig(),
		Telemetry: *tel,
		Store: StoreConfig{
			Path:        ".framegraph/framegraph.db",
			BusyTimeout: 5 * time.Second,
		},
		Policy: PolicyConfig{
			Enabled: true,
			Builtin: true,
			Mode:    "advisory",
		},
		Watch: WatchConfig{
			Debounce: 200 * time.Millisecond,
		},
	}
}

// Loader layers configuration sources: defaults, then a config file, then
// FRAMEGRAPH_* environment variables.
type Loader struct {
	v        *viper.Viper
	validate *validator.Validate
	searched []string
}

// NewLoader creates a loader searching the working directory and
// $HOME/.config/framegraph.
func NewLoader() *Loader {
	l := &Loader{
		v:        viper.New(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		searched: []string{"."},
	}
	if home, err := os.UserHomeDir(); err == nil {
		l.searched = append(l.searched, filepath.Join(home, ".config", ConfigName))
	}
	return l
}

// Viper exposes the underlying viper instance, e.g. for binding CLI flags.
func (l *Loader) Viper() *viper.Viper { return l.v }

// ConfigFileUsed returns the file the last Load read, if any.
func (l *Loader) ConfigFileUsed() string { return l.v.ConfigFileUsed() }

// Load reads path, or searches for framegraph.{yaml,yml,json,toml,cue} when path
// is empty. A missing searched file is not an error; a missing explicit path
// is. Files ending in .cue are checked against the CUE schema first.
func (l *Loader) Load(path string) (*Config, error) {
	if err := l.setDefaults(); err != nil {
		return nil, err
	}

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.readFile(path); err != nil {
		return nil, err
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if err := l.v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults seeds viper with Default() so that every key is known, which
// AutomaticEnv needs to map environment variables onto nested keys.
func (l *Loader) setDefaults() error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	l.v.SetConfigType("yaml")
	if err := l.v.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to load defaults: %w", err)
	}
	return nil
}

func (l *Loader) readFile(path string) error {
	if path == "" {
		return l.search()
	}

	if strings.EqualFold(filepath.Ext(path), ".cue") {
		parser, err := NewCUEParser()
		if err != nil {
			return err
		}
		data, err := parser.ParseFile(path)
		if err != nil {
			return err
		}
		l.v.SetConfigType("json")
		return l.merge(bytes.NewReader(data), path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	l.v.SetConfigType(strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."))
	return l.merge(bytes.NewReader(data), path)
}

func (l *Loader) search() error {
	for _, dir := range l.searched {
		for _, ext := range fileExts {
			candidate := filepath.Join(dir, ConfigName+"."+ext)
			if _, err := os.Stat(candidate); err == nil {
				return l.readFile(candidate)
			}
		}
	}
	return nil
}

func (l *Loader) merge(r *bytes.Reader, path string) error {
	if err := l.v.MergeConfig(r); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	l.v.SetConfigFile(path)
	return nil
}

// Validate checks struct constraints and the telemetry settings.
func (l *Loader) Validate(cfg *Config) error {
	var out ValidationErrors

	if err := l.validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("failed to validate configuration: %w", err)
		}
		for _, fe := range verrs {
			out = append(out, ValidationError{
				Path:    fieldPath(fe.Namespace()),
				Message: fmt.Sprintf("failed %q (value %v)", fe.Tag(), fe.Value()),
			})
		}
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		out = append(out, ValidationError{Path: "telemetry", Message: err.Error()})
	}

	if len(out) > 0 {
		return out
	}
	return nil
}

// Load is a convenience wrapper around NewLoader().Load.
func Load(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// fieldPath turns "Config.Engine.MaxDepth" into "engine.max_depth".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
