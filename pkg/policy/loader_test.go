package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testRego = `# Flags nodes named forbidden.
# Used by the loader tests.
package test.forbidden

deny contains msg if {
	some n in input.project.nodes
	n.id == "forbidden"
	msg := "forbidden node"
}
`

func writePolicy(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))

	policyFile := filepath.Join(t.TempDir(), "test-policy.rego")
	writePolicy(t, policyFile, testRego)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "test-policy" {
		t.Errorf("Expected name 'test-policy', got '%s'", policy.Name)
	}
	if policy.Rego != testRego {
		t.Error("Rego content doesn't match")
	}
	if policy.Description != "Flags nodes named forbidden. Used by the loader tests." {
		t.Errorf("Unexpected description: %q", policy.Description)
	}
	if policy.Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", policy.Severity)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Metadata["source"] != policyFile {
		t.Errorf("Expected source metadata, got %v", policy.Metadata["source"])
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))

	policyFile := filepath.Join(t.TempDir(), "from-json.json")
	data, err := json.Marshal(Policy{
		Description: "A test policy",
		Rego:        testRego,
		Enabled:     true,
		Tags:        []string{"test"},
	})
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	writePolicy(t, policyFile, string(data))

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if loaded.Name != "from-json" {
		t.Errorf("Expected name from file, got '%s'", loaded.Name)
	}
	if loaded.Severity != SeverityWarning {
		t.Errorf("Expected default severity, got %s", loaded.Severity)
	}
	if loaded.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	if _, err := loader.loadFromFile(context.Background(), filepath.Join(t.TempDir(), "x.txt")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestLoadFromFile_Cache(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	policyFile := filepath.Join(t.TempDir(), "cached.rego")
	writePolicy(t, policyFile, testRego)

	first, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	writePolicy(t, policyFile, "package changed\n")

	second, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if first != second {
		t.Error("Expected cached policy")
	}

	loader.ClearCache()
	third, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if third.Rego != "package changed\n" {
		t.Error("Expected fresh content after ClearCache")
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	if err := os.Mkdir(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	writePolicy(t, filepath.Join(dir, "a.rego"), testRego)
	writePolicy(t, filepath.Join(nested, "b.rego"), testRego)
	writePolicy(t, filepath.Join(dir, "broken.json"), "{")
	writePolicy(t, filepath.Join(dir, "README.md"), "# not a policy")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}
	names := map[string]bool{}
	for _, p := range policies {
		names[p.Name] = true
	}
	if !names["a"] || !names["b"] {
		t.Errorf("Unexpected policies: %v", names)
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestLoadBundle(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	path := filepath.Join(t.TempDir(), "bundle.json")

	data, err := json.Marshal(Bundle{
		Name:    "studio",
		Version: "1.0.0",
		Policies: []Policy{
			{Name: "one", Rego: testRego, Enabled: true},
			{Name: "two", Rego: testRego, Severity: SeverityError},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	writePolicy(t, path, string(data))

	bundle, err := loader.LoadBundle(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}
	if bundle.Name != "studio" || len(bundle.Policies) != 2 {
		t.Fatalf("Unexpected bundle: %+v", bundle)
	}
	if bundle.Policies[0].Severity != SeverityWarning {
		t.Errorf("Expected default severity, got %s", bundle.Policies[0].Severity)
	}
	if bundle.Policies[1].Severity != SeverityError {
		t.Errorf("Expected explicit severity kept, got %s", bundle.Policies[1].Severity)
	}
}

func TestEngineLoadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	writePolicy(t, filepath.Join(dir, "forbidden.rego"), testRego)

	ctx := context.Background()
	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	p := cleanProject()
	p.Nodes["forbidden"] = p.Nodes["box"].WithID("forbidden")
	p.RootNodeIDs = append(p.RootNodeIDs, "forbidden")

	result, err := eng.Evaluate(ctx, p)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	got := findings(result, "forbidden")
	if len(got) != 1 || got[0].Message != "forbidden node" {
		t.Fatalf("Expected loaded policy to fire, got %+v", got)
	}

	writePolicy(t, filepath.Join(dir, "bad.rego"), "package bad\n\ndeny contains x if { x := y }\n")
	if err := eng.LoadPolicies(ctx, []string{filepath.Join(dir, "bad.rego")}); err == nil {
		t.Error("Expected compile error for unsafe variable")
	}
}

func TestEngineWatchReloads(t *testing.T) {
	eng := newTestEngine(t, WithDebounce(20*time.Millisecond))
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writePolicy(t, filepath.Join(dir, "forbidden.rego"), testRego)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := eng.GetPolicy("forbidden"); err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Policy was not reloaded after the file was written")
}

func TestLoaderWatchDebounces(t *testing.T) {
	loader := NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
	loader.SetDebounce(50 * time.Millisecond)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	reloads := 0
	done := make(chan struct{}, 1)
	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		mu.Lock()
		reloads++
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		writePolicy(t, filepath.Join(dir, "p.rego"), testRego)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Reload was not triggered")
	}
	time.Sleep(150 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if reloads != 1 {
		t.Errorf("Expected a single debounced reload, got %d", reloads)
	}
}
