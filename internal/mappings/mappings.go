// Package mappings maintains the persisted identifier-to-fragment table.
package mappings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/rhildred/run-on-server/internal/lang"
	"github.com/rhildred/run-on-server/internal/model"
)

// header marks the table file as machine-generated.
const header = "/* This file was generated by run-on-server. Do not edit it by hand. */"

// Manager owns the identifier-to-fragment table for one build and is the
// sole writer of its output path. Entries loaded from disk are never removed
// or overwritten; folds only add. Methods are safe for concurrent use, so
// parallel file workers share one Manager.
type Manager struct {
	mu     sync.Mutex
	path   string
	loaded map[model.Identifier]string
	added  map[model.Identifier]string
}

// Load reads the table at path, or starts an empty one when the file does
// not exist. A file that exists but cannot be parsed as a table is a hard
// error: proceeding would risk discarding a possibly valid prior table.
func Load(path string) (*Manager, error) {
	m := &Manager{
		path:   path,
		loaded: make(map[model.Identifier]string),
		added:  make(map[model.Identifier]string),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	entries, err := parseTable(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, e := range entries {
		m.loaded[e.ID] = e.Source
	}
	return m, nil
}

// Path returns the output location the manager persists to.
func (m *Manager) Path() string {
	return m.path
}

// Fold merges a batch of entries into the table. An identifier already
// present is a no-op: content addressing guarantees it carries the same
// fragment text.
func (m *Manager) Fold(entries []model.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if _, ok := m.loaded[e.ID]; ok {
			continue
		}
		if _, ok := m.added[e.ID]; ok {
			continue
		}
		m.added[e.ID] = e.Source
	}
}

// Len returns the number of entries currently in the table.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.loaded) + len(m.added)
}

// Added returns the number of entries discovered this build.
func (m *Manager) Added() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.added)
}

// Entries returns the table contents sorted by identifier.
func (m *Manager) Entries() []model.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked()
}

func (m *Manager) sortedLocked() []model.Entry {
	entries := make([]model.Entry, 0, len(m.loaded)+len(m.added))
	for id, src := range m.loaded {
		entries = append(entries, model.Entry{ID: id, Source: src})
	}
	for id, src := range m.added {
		entries = append(entries, model.Entry{ID: id, Source: src})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID < entries[j].ID
	})
	return entries
}

// Persist writes the full table (pre-existing entries plus everything folded
// this build) to the output path. The encoded table must re-parse the same
// way Load parses it; a table the next build could not read is an error
// here, never an artifact on disk. The write is atomic: data goes to a temp
// file in the same directory, which is synced and renamed over the
// destination, so an aborted build never leaves a partial table behind.
func (m *Manager) Persist() error {
	m.mu.Lock()
	data := []byte(encode(m.sortedLocked()))
	m.mu.Unlock()

	if _, err := parseTable(data); err != nil {
		return fmt.Errorf("verifying mapping table: %w", err)
	}

	if err := writeFileAtomic(m.path, data); err != nil {
		return fmt.Errorf("writing mapping table: %w", err)
	}
	return nil
}

// encode renders the table as a CommonJS module. Fragment sources are
// emitted verbatim so the module exports live code, and identifiers are
// sorted so equal tables serialize to equal bytes.
func encode(entries []model.Entry) string {
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\nmodule.exports = {\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "  %q: %s,\n", string(e.ID), e.Source)
	}
	b.WriteString("};\n")
	return b.String()
}

// parseTable extracts entries from a previously persisted table module. The
// file must parse cleanly and assign an object to module.exports; anything
// else is corrupt.
func parseTable(data []byte) ([]model.Entry, error) {
	parser := lang.Languages["javascript"].NewParser()
	tree, err := parser.ParseCtx(context.Background(), nil, data)
	if err != nil {
		return nil, fmt.Errorf("parsing mapping table: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, errors.New("corrupt mapping table")
	}

	obj := exportsObject(root, data)
	if obj == nil {
		return nil, errors.New("corrupt mapping table: no module.exports object")
	}

	var entries []model.Entry
	for i := 0; i < int(obj.NamedChildCount()); i++ {
		pair := obj.NamedChild(i)
		if pair.Type() == "comment" {
			continue
		}
		if pair.Type() != "pair" {
			return nil, errors.New("corrupt mapping table: unexpected entry")
		}
		key := pair.ChildByFieldName("key")
		value := pair.ChildByFieldName("value")
		if key == nil || value == nil {
			return nil, errors.New("corrupt mapping table: malformed entry")
		}
		id := stripQuotes(lang.NodeText(key, data))
		entries = append(entries, model.Entry{ID: model.Identifier(id), Source: lang.NodeText(value, data)})
	}
	return entries, nil
}

// exportsObject finds the object literal assigned to module.exports.
func exportsObject(root *sitter.Node, source []byte) *sitter.Node {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		if stmt.Type() != "expression_statement" {
			continue
		}
		expr := stmt.NamedChild(0)
		if expr == nil || expr.Type() != "assignment_expression" {
			continue
		}
		left := expr.ChildByFieldName("left")
		right := expr.ChildByFieldName("right")
		if left == nil || right == nil {
			continue
		}
		if lang.NodeText(left, source) != "module.exports" || right.Type() != "object" {
			continue
		}
		return right
	}
	return nil
}

func stripQuotes(s string) string {
	if len(s) >= 2 {
		switch s[0] {
		case '"', '\'', '`':
			if s[len(s)-1] == s[0] {
				return s[1 : len(s)-1]
			}
		}
	}
	return s
}

// writeFileAtomic writes data to path through a same-directory temp file and
// rename, syncing the file and its directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
