// Package resolve determines which local names in a file are bound to the
// remote-execution helper.
package resolve

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/rhildred/run-on-server/internal/lang"
)

// Helpers returns the set of local identifiers bound to the remote-execution
// helper: variables assigned from a call to a factory imported from
// clientModule. Resolution follows the file's own import and require
// statements, never bare name matching, so an aliased import still qualifies
// and an unrelated function that happens to share a name does not.
func Helpers(l *lang.Language, root *sitter.Node, source []byte, clientModule string) (map[string]struct{}, error) {
	query, err := l.BindingQuery()
	if err != nil {
		return nil, err
	}

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, root)

	var declarators []*sitter.Node
	factories := make(map[string]struct{})

	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, source)

		for _, c := range match.Captures {
			switch query.CaptureNameForId(c.Index) {
			case "import":
				importFactories(c.Node, source, clientModule, factories)
			case "declarator":
				declarators = append(declarators, c.Node)
			}
		}
	}

	// Factories first: a helper declaration may precede the require that
	// creates its factory.
	for _, d := range declarators {
		requireFactories(d, source, clientModule, factories)
	}

	helpers := make(map[string]struct{})
	for _, d := range declarators {
		helperNames(d, source, factories, helpers)
	}
	return helpers, nil
}

// importFactories records factory names bound by an import of clientModule:
// the default import, named imports (with or without alias), and the
// TypeScript `import x = require("...")` form.
func importFactories(stmt *sitter.Node, source []byte, clientModule string, out map[string]struct{}) {
	src := stmt.ChildByFieldName("source")
	matched := src != nil && stripQuotes(lang.NodeText(src, source)) == clientModule

	for i := 0; i < int(stmt.ChildCount()); i++ {
		clause := stmt.Child(i)
		switch clause.Type() {
		case "import_clause":
			if matched {
				importClauseNames(clause, source, out)
			}
		case "import_require_clause":
			importRequireName(clause, source, clientModule, out)
		}
	}
}

func importClauseNames(clause *sitter.Node, source []byte, out map[string]struct{}) {
	for i := 0; i < int(clause.ChildCount()); i++ {
		child := clause.Child(i)
		switch child.Type() {
		case "identifier":
			// Default import.
			out[lang.NodeText(child, source)] = struct{}{}
		case "named_imports":
			for j := 0; j < int(child.ChildCount()); j++ {
				spec := child.Child(j)
				if spec.Type() != "import_specifier" {
					continue
				}
				local := spec.ChildByFieldName("alias")
				if local == nil {
					local = spec.ChildByFieldName("name")
				}
				if local != nil {
					out[lang.NodeText(local, source)] = struct{}{}
				}
			}
		}
	}
}

func importRequireName(clause *sitter.Node, source []byte, clientModule string, out map[string]struct{}) {
	var name string
	matched := false
	for i := 0; i < int(clause.ChildCount()); i++ {
		child := clause.Child(i)
		switch child.Type() {
		case "identifier":
			if name == "" {
				name = lang.NodeText(child, source)
			}
		case "string":
			matched = stripQuotes(lang.NodeText(child, source)) == clientModule
		}
	}
	if matched && name != "" {
		out[name] = struct{}{}
	}
}

// requireFactories records factory names bound by a CommonJS require of
// clientModule: `const X = require(...)`, `const {a, b} = require(...)`, and
// `const X = require(...).default`.
func requireFactories(decl *sitter.Node, source []byte, clientModule string, out map[string]struct{}) {
	value := decl.ChildByFieldName("value")
	if value == nil {
		return
	}
	if value.Type() == "member_expression" {
		value = value.ChildByFieldName("object")
		if value == nil {
			return
		}
	}
	if !isRequireOf(value, source, clientModule) {
		return
	}

	name := decl.ChildByFieldName("name")
	if name == nil {
		return
	}
	switch name.Type() {
	case "identifier":
		out[lang.NodeText(name, source)] = struct{}{}
	case "object_pattern":
		for i := 0; i < int(name.ChildCount()); i++ {
			prop := name.Child(i)
			switch prop.Type() {
			case "shorthand_property_identifier_pattern":
				out[lang.NodeText(prop, source)] = struct{}{}
			case "pair_pattern":
				if v := prop.ChildByFieldName("value"); v != nil && v.Type() == "identifier" {
					out[lang.NodeText(v, source)] = struct{}{}
				}
			}
		}
	}
}

// helperNames records identifiers declared as a call to a known factory,
// e.g. `const runOnServer = createClient(url)`.
func helperNames(decl *sitter.Node, source []byte, factories, out map[string]struct{}) {
	if len(factories) == 0 {
		return
	}
	name := decl.ChildByFieldName("name")
	value := decl.ChildByFieldName("value")
	if name == nil || value == nil || name.Type() != "identifier" || value.Type() != "call_expression" {
		return
	}
	fn := value.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" {
		return
	}
	if _, ok := factories[lang.NodeText(fn, source)]; ok {
		out[lang.NodeText(name, source)] = struct{}{}
	}
}

func isRequireOf(node *sitter.Node, source []byte, clientModule string) bool {
	if node.Type() != "call_expression" {
		return false
	}
	fn := node.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" || lang.NodeText(fn, source) != "require" {
		return false
	}
	args := node.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() != 1 {
		return false
	}
	arg := args.NamedChild(0)
	if arg.Type() != "string" {
		return false
	}
	return stripQuotes(lang.NodeText(arg, source)) == clientModule
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
