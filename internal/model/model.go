// Package model defines core data structures for the run-on-server compiler.
package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// Defaults applied by callers when the corresponding option is left empty.
const (
	DefaultClientModule = "run-on-server/client"
	DefaultOutputPath   = "id-mappings.js"
)

// Identifier is the content-derived token standing in for a code fragment,
// both in rewritten source and as a mapping-table key.
type Identifier string

// IdentifierFor derives the identifier for a fragment's exact source text.
// Identical text always yields the same identifier, on any machine, in any
// build order.
func IdentifierFor(source string) Identifier {
	sum := sha256.Sum256([]byte(source))
	return Identifier(hex.EncodeToString(sum[:]))
}

// Entry is one (identifier, fragment) pair produced by rewriting a call site.
type Entry struct {
	ID     Identifier
	Source string
}

// Outcome reports what happened to a matched call site.
type Outcome string

const (
	// Rewritten: the call site matched and the enabled rewrites were applied.
	Rewritten Outcome = "rewritten"
	// SkippedUnmatched: the first argument was not a function literal, so
	// the call was deliberately left alone.
	SkippedUnmatched Outcome = "skipped_unmatched"
)

// EvalRequireOptions controls require indirection inside matched fragments.
type EvalRequireOptions struct {
	Enabled bool
}

// IDMappingsOptions controls identifier-mapping compilation.
type IDMappingsOptions struct {
	Enabled    bool
	OutputPath string // mapping-table file; DefaultOutputPath when empty
}

// CompileOptions configures one build. The zero value disables every
// rewrite, leaving sources untouched.
type CompileOptions struct {
	EvalRequire  EvalRequireOptions
	IDMappings   IDMappingsOptions
	ClientModule string // import path of the client factory; DefaultClientModule when empty
}
