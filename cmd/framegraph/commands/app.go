package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/framegraph/framegraph/pkg/config"
	"github.com/framegraph/framegraph/pkg/engine"
	"github.com/framegraph/framegraph/pkg/policy"
	"github.com/framegraph/framegraph/pkg/scene"
	"github.com/framegraph/framegraph/pkg/stores"
	"github.com/framegraph/framegraph/pkg/telemetry"
)

// app holds what a command needs once configuration is loaded.
type app struct {
	cfg *config.Config
	tel *telemetry.Telemetry
	out io.Writer
}

// newApp loads configuration, applies overrides and starts telemetry.
func newApp(cmd *cobra.Command, overrides ...func(*config.Config)) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	for _, override := range overrides {
		override(cfg)
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	return &app{cfg: cfg, tel: tel, out: cmd.OutOrStdout()}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		log.Debug().Err(err).Msg("Telemetry shutdown failed")
	}
}

// openStore opens the revision store, creating its directory if needed.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	path := a.cfg.Store.Path
	if path != stores.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return stores.Open(ctx, stores.Config{
		Path:        path,
		BusyTimeout: a.cfg.Store.BusyTimeout,
	})
}

func (a *app) newEngine(p *scene.Project) *engine.Engine {
	e := engine.New(p, a.cfg.Engine, a.tel)
	e.SetAudio(a.cfg.Audio.Data())
	return e
}

// newPolicyEngine builds a lint engine with the configured policy paths plus
// extra.
func (a *app) newPolicyEngine(ctx context.Context, extra []string) (*policy.Engine, error) {
	opts := []policy.Option{
		policy.WithEvents(a.tel.Events),
		policy.WithDebounce(a.cfg.Watch.Debounce),
	}
	if !a.cfg.Policy.Builtin {
		opts = append(opts, policy.WithoutBuiltins())
	}

	eng, err := policy.NewEngine(a.tel.Logger.Zerolog(), opts...)
	if err != nil {
		return nil, err
	}

	paths := append(append([]string{}, a.cfg.Policy.Paths...), extra...)
	if len(paths) > 0 {
		if err := eng.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

// record saves p as a new revision of the project stored under path.
func (a *app) record(ctx context.Context, store stores.Store, path string, p *scene.Project, message string) (*stores.Project, *stores.Revision, error) {
	proj, err := store.EnsureProject(ctx, projectName(path))
	if err != nil {
		return nil, nil, err
	}
	rev, err := store.SaveRevision(ctx, proj.ID, p, message)
	if err != nil {
		return nil, nil, err
	}
	return proj, rev, nil
}

// loadProject reads and structurally validates a project file.
func loadProject(path string) (*scene.Project, error) {
	p, err := scene.Load(path)
	if err != nil {
		return nil, err
	}
	if err := scene.Validate(p); err != nil {
		return nil, fmt.Errorf("invalid project %s: %w", path, err)
	}
	return p, nil
}

// projectName keys a project file in the store by its absolute path.
func projectName(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func outputFormat(format string) string {
	if jsonOutput {
		return "json"
	}
	return format
}

func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format %q (want json or yaml)", format)
	}
}

// printConsole writes the console entries produced since index from.
func printConsole(w io.Writer, console *telemetry.LogService, from int) {
	entries := console.Entries()
	if from > len(entries) {
		from = len(entries)
	}
	for _, e := range entries[from:] {
		line := fmt.Sprintf("[%s] %s: %s", e.Level, e.Source, e.Message)
		if e.Count > 1 {
			line += fmt.Sprintf(" (x%d)", e.Count)
		}
		fmt.Fprintln(w, line)
	}
}
