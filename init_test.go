package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rhildred/run-on-server/internal/config"
)

// TestInitCreatesFile verifies that runInit writes the starter config.
func TestInitCreatesFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "run-on-server.yaml")

	var stdout, stderr bytes.Buffer
	if err := runInit([]string{path}, &stdout, &stderr); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	if string(data) != starterConfig {
		t.Errorf("unexpected file content:\n%s", data)
	}
}

// TestInitTemplateLoads verifies the starter config round-trips through the
// strict config loader with the documented defaults.
func TestInitTemplateLoads(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "run-on-server.yaml")

	var stdout, stderr bytes.Buffer
	if err := runInit([]string{path}, &stdout, &stderr); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("starter config does not load: %v", err)
	}
	if cfg.OutDir != "dist" {
		t.Errorf("out_dir = %q, want dist", cfg.OutDir)
	}
	if cfg.ClientModule != "run-on-server/client" {
		t.Errorf("client_module = %q", cfg.ClientModule)
	}
	if cfg.IDMappings.Enabled == nil || !*cfg.IDMappings.Enabled {
		t.Error("id_mappings.enabled should default to true in the template")
	}
	if cfg.EvalRequire == nil || *cfg.EvalRequire {
		t.Error("eval_require should default to false in the template")
	}
	if cfg.IDMappings.OutputPath != "id-mappings.js" {
		t.Errorf("output_path = %q", cfg.IDMappings.OutputPath)
	}
}

// TestInitDryRun verifies that -dry-run prints the config and writes nothing.
func TestInitDryRun(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "run-on-server.yaml")

	var stdout, stderr bytes.Buffer
	if err := runInit([]string{"-dry-run", path}, &stdout, &stderr); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	if _, err := os.Stat(path); err == nil {
		t.Error("-dry-run should not create the file")
	}
	if !strings.Contains(stdout.String(), "client_module:") {
		t.Errorf("dry-run output missing template:\n%s", stdout.String())
	}
}

// TestInitRefusesOverwrite verifies an existing config is left alone unless
// -force is given.
func TestInitRefusesOverwrite(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "run-on-server.yaml")
	if err := os.WriteFile(path, []byte("out_dir: keep\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	err := runInit([]string{path}, &stdout, &stderr)
	if err == nil {
		t.Fatal("expected error for an existing config")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("unexpected error: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "out_dir: keep\n" {
		t.Errorf("existing config was modified:\n%s", data)
	}

	if err := runInit([]string{"-force", path}, &stdout, &stderr); err != nil {
		t.Fatalf("runInit -force: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) != starterConfig {
		t.Errorf("-force did not overwrite:\n%s", data)
	}
}
