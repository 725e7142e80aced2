package model

import (
	"strings"
	"testing"
)

func TestIdentifierFor(t *testing.T) {
	t.Parallel()

	id := IdentifierFor("() => 1 + 1")

	if len(id) != 64 {
		t.Errorf("expected 64 hex characters, got %d", len(id))
	}
	for _, r := range string(id) {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Errorf("unexpected character %q in identifier", r)
		}
	}
}

func TestIdentifierForKnownVector(t *testing.T) {
	t.Parallel()

	// FIPS 180-2 test vector for SHA-256.
	got := IdentifierFor("abc")
	want := Identifier("ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad")
	if got != want {
		t.Errorf("IdentifierFor(%q) = %s, want %s", "abc", got, want)
	}
}

func TestIdentifierForDeterministic(t *testing.T) {
	t.Parallel()

	a := IdentifierFor("() => fetchUser(id)")
	b := IdentifierFor("() => fetchUser(id)")
	if a != b {
		t.Errorf("same source produced different identifiers: %s vs %s", a, b)
	}
}

func TestIdentifierForDistinguishesSources(t *testing.T) {
	t.Parallel()

	// Whitespace is significant: the table keys the exact fragment text.
	a := IdentifierFor("() => 1 + 1")
	b := IdentifierFor("() => 1+1")
	if a == b {
		t.Errorf("different sources produced the same identifier")
	}
}

func TestCompileOptionsZeroValue(t *testing.T) {
	t.Parallel()

	var opts CompileOptions
	if opts.EvalRequire.Enabled || opts.IDMappings.Enabled {
		t.Errorf("zero-value options must disable every rewrite")
	}
}
