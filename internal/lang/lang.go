// Package lang provides a language registry mapping file extensions to
// tree-sitter languages and their embedded query files.
package lang

import (
	"embed"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

//go:embed queries/*.scm
var queryFS embed.FS

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Extensions []string
	Typed      bool // grammar admits type syntax (TypeScript family)
	lang       *sitter.Language

	callOnce  sync.Once
	callQuery *sitter.Query
	callErr   error

	bindOnce  sync.Once
	bindQuery *sitter.Query
	bindErr   error
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// CallQuery returns the compiled call-expression query (safe to share across
// goroutines). The JavaScript-family grammars share one query source; each
// language compiles it against its own grammar.
func (l *Language) CallQuery() (*sitter.Query, error) {
	l.callOnce.Do(func() {
		l.callQuery, l.callErr = l.compileQuery("queries/calls.scm")
	})
	return l.callQuery, l.callErr
}

// BindingQuery returns the compiled import/declarator query used to resolve
// which local names are bound to the remote-execution helper.
func (l *Language) BindingQuery() (*sitter.Query, error) {
	l.bindOnce.Do(func() {
		l.bindQuery, l.bindErr = l.compileQuery("queries/bindings.scm")
	})
	return l.bindQuery, l.bindErr
}

func (l *Language) compileQuery(path string) (*sitter.Query, error) {
	data, err := queryFS.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading query file: %w", err)
	}
	q, err := sitter.NewQuery(data, l.lang)
	if err != nil {
		return nil, fmt.Errorf("compiling query: %w", err)
	}
	return q, nil
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[ext]
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}
