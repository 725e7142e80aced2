package discover

import (
	"os"
	"path/filepath"
	"testing"

	ignore "github.com/sabhiram/go-gitignore"
)

func TestDiscoverSourceFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "index.js", "module.exports = 1;")
	writeFile(t, dir, "lib/util.ts", "export const x = 1;")
	// Non-source file should be ignored
	writeFile(t, dir, "readme.txt", "hello")
	// Hidden file should be ignored
	writeFile(t, dir, ".hidden.js", "secret")

	entries, err := Files(dir, nil, nil)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(entries), paths)
	}

	// Should be sorted
	if entries[0].Path != "index.js" {
		t.Errorf("entry 0: got %q", entries[0].Path)
	}
	if entries[0].Language != "javascript" {
		t.Errorf("entry 0: language = %q, want javascript", entries[0].Language)
	}
	if entries[1].Path != filepath.Join("lib", "util.ts") {
		t.Errorf("entry 1: got %q", entries[1].Path)
	}
	if entries[1].Language != "typescript" {
		t.Errorf("entry 1: language = %q, want typescript", entries[1].Language)
	}
}

func TestDiscoverSkipDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "main.js", "1;")
	writeFile(t, dir, "node_modules/pkg/index.js", "1;")
	writeFile(t, dir, "dist/main.js", "1;")
	writeFile(t, dir, ".hidden/secret.js", "1;")

	entries, err := Files(dir, nil, nil)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Path != "main.js" {
		t.Errorf("expected main.js, got %q", entries[0].Path)
	}
}

func TestDiscoverSkipPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "main.js", "1;")
	writeFile(t, dir, "id-mappings.js", "module.exports = {};")
	writeFile(t, dir, "output/sub/main.js", "1;")

	skip := map[string]struct{}{
		"id-mappings.js": {},
		"output":         {},
	}

	entries, err := Files(dir, skip, nil)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Path != "main.js" {
		t.Errorf("expected main.js, got %q", entries[0].Path)
	}
}

func TestDiscoverExcludePatterns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "main.js", "1;")
	writeFile(t, dir, "main.test.js", "1;")
	writeFile(t, dir, "sub/other.test.js", "1;")

	exclude := ignore.CompileIgnoreLines("**/*.test.js")

	entries, err := Files(dir, nil, exclude)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Path != "main.js" {
		t.Errorf("expected main.js, got %q", entries[0].Path)
	}
}

func TestDiscoverGitignore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	writeFile(t, dir, "main.js", "1;")
	writeFile(t, dir, "generated.js", "1;")
	writeFile(t, dir, ".gitignore", "generated.js\n")

	entries, err := Files(dir, nil, nil)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Path != "main.js" {
		t.Errorf("expected main.js, got %q", entries[0].Path)
	}
}

func TestDiscoverSymlinksSkipped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "real.js", "1;")

	err := os.Symlink(filepath.Join(dir, "real.js"), filepath.Join(dir, "link.js"))
	if err != nil {
		t.Skip("symlinks not supported")
	}

	entries, err := Files(dir, nil, nil)
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry (no symlink), got %d", len(entries))
	}
	if entries[0].Path != "real.js" {
		t.Errorf("expected real.js, got %q", entries[0].Path)
	}
}

func TestSkipDir(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want bool
	}{
		{"node_modules", true},
		{"dist", true},
		{".git", true},
		{".cache", true},
		{"src", false},
		{"lib", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := SkipDir(tc.name); got != tc.want {
				t.Errorf("SkipDir(%q) = %v, want %v", tc.name, got, tc.want)
			}
		})
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
