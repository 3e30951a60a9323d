package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	return dir
}

func mustLoad(t *testing.T, path string) *Config {
	t.Helper()
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) failed: %v", path, err)
	}
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := NewLoader().Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := Default()
	if cfg.Engine != want.Engine {
		t.Errorf("engine config = %+v, want %+v", cfg.Engine, want.Engine)
	}
	if cfg.Engine.MaxDepth != 20 {
		t.Errorf("expected max depth 20, got %d", cfg.Engine.MaxDepth)
	}
	if cfg.Engine.HistoryLimit != 100 {
		t.Errorf("expected history limit 100, got %d", cfg.Engine.HistoryLimit)
	}
	if cfg.Engine.ScriptTimeout != 30*time.Second {
		t.Errorf("expected script timeout 30s, got %s", cfg.Engine.ScriptTimeout)
	}
	if cfg.Store != want.Store {
		t.Errorf("store config = %+v, want %+v", cfg.Store, want.Store)
	}
	if cfg.Policy.Mode != "advisory" {
		t.Errorf("expected advisory policy mode, got %s", cfg.Policy.Mode)
	}
	if cfg.Telemetry.Console.MaxEntries != want.Telemetry.Console.MaxEntries {
		t.Errorf("expected %d console entries, got %d", want.Telemetry.Console.MaxEntries, cfg.Telemetry.Console.MaxEntries)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "custom.yaml", `
engine:
  max_depth: 10
  script_timeout: 5s
audio:
  bass: 0.5
policy:
  mode: enforcing
  paths: [policies, extra.rego]
`)

	l := NewLoader()
	cfg, err := l.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if l.ConfigFileUsed() != path {
		t.Errorf("expected config file %s, got %s", path, l.ConfigFileUsed())
	}

	if cfg.Engine.MaxDepth != 10 {
		t.Errorf("expected max depth 10, got %d", cfg.Engine.MaxDepth)
	}
	if cfg.Engine.ScriptTimeout != 5*time.Second {
		t.Errorf("expected script timeout 5s, got %s", cfg.Engine.ScriptTimeout)
	}
	if cfg.Engine.HistoryLimit != 100 {
		t.Errorf("unset keys should keep defaults, got history limit %d", cfg.Engine.HistoryLimit)
	}
	if cfg.Audio.Data().Bass != 0.5 {
		t.Errorf("expected bass 0.5, got %v", cfg.Audio.Data().Bass)
	}
	if cfg.Policy.Mode != "enforcing" {
		t.Errorf("expected enforcing policy mode, got %s", cfg.Policy.Mode)
	}
	if want := []string{"policies", "extra.rego"}; !reflect.DeepEqual(cfg.Policy.Paths, want) {
		t.Errorf("policy paths = %v, want %v", cfg.Policy.Paths, want)
	}
}

func TestLoadSearchesWorkingDirectory(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, "framegraph.json", `{"engine": {"render_workers": 8}}`)

	cfg := mustLoad(t, "")
	if cfg.Engine.RenderWorkers != 8 {
		t.Errorf("expected 8 render workers, got %d", cfg.Engine.RenderWorkers)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "framegraph.yaml", "engine:\n  history_limit: 50\n")
	t.Setenv("FRAMEGRAPH_ENGINE_HISTORY_LIMIT", "7")
	t.Setenv("FRAMEGRAPH_WATCH_DEBOUNCE", "1s")

	cfg := mustLoad(t, path)
	if cfg.Engine.HistoryLimit != 7 {
		t.Errorf("expected history limit 7 from the environment, got %d", cfg.Engine.HistoryLimit)
	}
	if cfg.Watch.Debounce != time.Second {
		t.Errorf("expected debounce 1s, got %s", cfg.Watch.Debounce)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "bad.yaml", `
engine:
  max_depth: 0
audio:
  mid: 2
policy:
  mode: strict
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected a validation error")
	}

	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
	}
	var paths []string
	for _, e := range verrs {
		paths = append(paths, e.Path)
	}
	sort.Strings(paths)
	want := []string{"audio.mid", "engine.max_depth", "policy.mode"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("invalid paths = %v, want %v", paths, want)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	if _, err := Load(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Error("expected an error for a missing explicit config file")
	}
}

func TestLoadCUEFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "framegraph.cue", `
engine: {
	history_limit:  2 * 25
	script_timeout: "2s"
}
store: path: ":memory:"
`)

	cfg := mustLoad(t, path)
	if cfg.Engine.HistoryLimit != 50 {
		t.Errorf("expected history limit 50, got %d", cfg.Engine.HistoryLimit)
	}
	if cfg.Engine.ScriptTimeout != 2*time.Second {
		t.Errorf("expected script timeout 2s, got %s", cfg.Engine.ScriptTimeout)
	}
	if cfg.Store.Path != ":memory:" {
		t.Errorf("expected store path :memory:, got %s", cfg.Store.Path)
	}
}

func TestCUEParserRejects(t *testing.T) {
	cp, err := NewCUEParser()
	if err != nil {
		t.Fatalf("NewCUEParser failed: %v", err)
	}

	tests := []struct {
		name   string
		source string
	}{
		{"unknown key", `engine: max_depht: 3`},
		{"out of range", `engine: max_depth: 0`},
		{"wrong type", `policy: mode: 3`},
		{"bad enum", `policy: mode: "strict"`},
		{"syntax", `engine: {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cp.ParseInline(tt.source)
			if err == nil {
				t.Fatal("expected an error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
			}
			if len(verrs) == 0 {
				t.Error("expected at least one validation error")
			}
		})
	}

	data, err := cp.ParseInline(`audio: bass: 0.25`)
	if err != nil {
		t.Fatalf("ParseInline failed: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("ParseInline returned invalid JSON: %v", err)
	}
	want := map[string]any{"audio": map[string]any{"bass": 0.25}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseInline = %s, want bass 0.25", data)
	}
}

func TestFieldPath(t *testing.T) {
	tests := []struct {
		namespace string
		want      string
	}{
		{"Config.Engine.MaxDepth", "engine.max_depth"},
		{"Config.Telemetry.Console.MaxEntries", "telemetry.console.max_entries"},
		{"Store", "store"},
	}
	for _, tt := range tests {
		if got := fieldPath(tt.namespace); got != tt.want {
			t.Errorf("fieldPath(%q) = %q, want %q", tt.namespace, got, tt.want)
		}
	}
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{File: "a.cue", Line: 2, Column: 9, Path: "engine.max_depth", Message: "out of bound"}
	if got := e.String(); got != "a.cue:2:9: engine.max_depth: out of bound" {
		t.Errorf("unexpected string: %s", got)
	}
	if msg := (ValidationErrors{e}).Error(); !strings.Contains(msg, "invalid configuration") {
		t.Errorf("unexpected error message: %s", msg)
	}
}
