package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/framegraph/framegraph/pkg/engine"
	"github.com/framegraph/framegraph/pkg/eval"
	"github.com/framegraph/framegraph/pkg/telemetry"
)

// Config is the complete framegraph configuration.
type Config struct {
	// Engine tunes evaluation, history and scripting.
	Engine engine.Config `mapstructure:"engine" yaml:"engine"`

	// Audio is the band analysis used when no live analysis is supplied.
	Audio AudioConfig `mapstructure:"audio" yaml:"audio"`

	// Telemetry configures logging, the console buffer, tracing, metrics
	// and events.
	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry"`

	// Store configures the revision database.
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Policy configures project lint.
	Policy PolicyConfig `mapstructure:"policy" yaml:"policy"`

	// Watch configures the watch command.
	Watch WatchConfig `mapstructure:"watch" yaml:"watch"`
}

// AudioConfig holds fixed band levels in [0, 1].
type AudioConfig struct {
	Bass   float64 `mapstructure:"bass" yaml:"bass" validate:"gte=0,lte=1"`
	Mid    float64 `mapstructure:"mid" yaml:"mid" validate:"gte=0,lte=1"`
	High   float64 `mapstructure:"high" yaml:"high" validate:"gte=0,lte=1"`
	Treble float64 `mapstructure:"treble" yaml:"treble" validate:"gte=0,lte=1"`
}

// Data converts the configured levels into evaluator input.
func (a AudioConfig) Data() eval.AudioData {
	return eval.AudioData{Bass: a.Bass, Mid: a.Mid, High: a.High, Treble: a.Treble}
}

// StoreConfig configures the SQLite revision store.
type StoreConfig struct {
	// Path is the database file. ":memory:" keeps everything in memory.
	Path string `mapstructure:"path" yaml:"path" validate:"required"`

	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout" validate:"gte=0"`
}

// PolicyConfig configures policy lint.
type PolicyConfig struct {
	// Enabled indicates if lint runs at all.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Builtin loads the bundled rules.
	Builtin bool `mapstructure:"builtin" yaml:"builtin"`

	// Paths lists extra .rego or .json policy files and directories.
	Paths []string `mapstructure:"paths" yaml:"paths"`

	// Mode is the enforcement mode (advisory, enforcing). Enforcing turns
	// error-level violations into a failing exit status.
	Mode string `mapstructure:"mode" yaml:"mode" validate:"oneof=advisory enforcing"`
}

// WatchConfig configures file watching.
type WatchConfig struct {
	// Debounce coalesces bursts of write events.
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" validate:"gte=0"`
}

// ValidationError is one configuration problem with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the dotted key of the offending value (e.g., "engine.max_depth").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is returned when a configuration is rejected.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}
