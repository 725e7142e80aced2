package lang

import (
	"context"
	"testing"
)

func TestForExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ext  string
		want string
	}{
		{".js", "javascript"},
		{".jsx", "javascript"},
		{".mjs", "javascript"},
		{".cjs", "javascript"},
		{".ts", "typescript"},
		{".mts", "typescript"},
		{".cts", "typescript"},
		{".tsx", "tsx"},
		{".go", ""},
		{".css", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			t.Parallel()
			got := ForExtension(tt.ext)
			if got != tt.want {
				t.Errorf("ForExtension(%q) = %q, want %q", tt.ext, got, tt.want)
			}
		})
	}
}

func TestLanguagesRegistered(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"javascript", "typescript", "tsx"} {
		l, ok := Languages[name]
		if !ok {
			t.Fatalf("%s language not registered", name)
		}
		if l.GetLanguage() == nil {
			t.Errorf("%s language is nil", name)
		}
	}
}

func TestQueriesCompile(t *testing.T) {
	t.Parallel()

	// The grammars in the JavaScript family differ; each language compiles
	// the shared query sources against its own grammar.
	for name, l := range Languages {
		if _, err := l.CallQuery(); err != nil {
			t.Errorf("%s call query: %v", name, err)
		}
		if _, err := l.BindingQuery(); err != nil {
			t.Errorf("%s binding query: %v", name, err)
		}
	}
}

func TestNewParser(t *testing.T) {
	t.Parallel()

	source := []byte(`const x = () => 1 + 1;`)
	p := Languages["javascript"].NewParser()

	tree, err := p.ParseCtx(context.Background(), nil, source)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.Type() != "program" {
		t.Errorf("root node type = %q, want %q", root.Type(), "program")
	}
	if root.HasError() {
		t.Error("unexpected parse error")
	}
}

func TestNodeText(t *testing.T) {
	t.Parallel()

	source := []byte(`helper(() => 1 + 1, []);`)
	p := Languages["javascript"].NewParser()

	tree, err := p.ParseCtx(context.Background(), nil, source)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	defer tree.Close()

	if got := NodeText(tree.RootNode(), source); got != string(source) {
		t.Errorf("NodeText(root) = %q, want the full source", got)
	}
}
