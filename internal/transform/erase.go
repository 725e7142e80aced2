package transform

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// eraseTypes collects edits that remove type syntax from a fragment
// subtree: annotations, type parameters and arguments, casts, and
// type-level declarations. None of these spans carries runtime behavior,
// so the erased text evaluates exactly like the original. Constructs with
// runtime semantics that plain JavaScript cannot express (enums,
// namespaces, parameter properties) are left in place; such a fragment
// then fails validation and its call site is not rewritten.
func eraseTypes(fn *sitter.Node) []edit {
	var edits []edit
	eraseNode(fn, &edits)
	return edits
}

func eraseNode(n *sitter.Node, edits *[]edit) {
	switch n.Type() {
	case "type_annotation", "type_parameters", "type_arguments",
		"interface_declaration", "type_alias_declaration",
		"implements_clause", "index_signature", "method_signature",
		"abstract_method_signature", "function_signature",
		"ambient_declaration":
		*edits = append(*edits, edit{start: n.StartByte(), end: n.EndByte()})
		return

	case "as_expression", "satisfies_expression", "non_null_expression":
		// x as T, x satisfies T, x! all evaluate to x.
		expr := n.NamedChild(0)
		if expr == nil {
			return
		}
		*edits = append(*edits, edit{start: expr.EndByte(), end: n.EndByte()})
		eraseNode(expr, edits)
		return

	case "type_assertion":
		// <T>x evaluates to x.
		expr := n.NamedChild(int(n.NamedChildCount()) - 1)
		if expr == nil {
			return
		}
		*edits = append(*edits, edit{start: n.StartByte(), end: expr.StartByte()})
		eraseNode(expr, edits)
		return

	case "required_parameter", "optional_parameter":
		eraseParameter(n, edits)
		return

	case "public_field_definition", "method_definition":
		eraseMember(n, edits)
		return
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		eraseNode(n.Child(i), edits)
	}
}

// eraseParameter strips the optional marker and type annotation from one
// formal parameter. A `this` pseudo-parameter has no JavaScript form, so
// the whole parameter goes, along with its trailing comma.
func eraseParameter(n *sitter.Node, edits *[]edit) {
	if p := n.ChildByFieldName("pattern"); p != nil && p.Type() == "this" {
		end := n.EndByte()
		if next := n.NextSibling(); next != nil && next.Type() == "," {
			end = next.EndByte()
		}
		*edits = append(*edits, edit{start: n.StartByte(), end: end})
		return
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "?":
			*edits = append(*edits, edit{start: c.StartByte(), end: c.EndByte()})
		case "accessibility_modifier", "override_modifier", "readonly":
			// A parameter property declares and assigns a class field;
			// erasing the modifier would drop that assignment. Left in
			// place so validation rejects the fragment instead.
		default:
			eraseNode(c, edits)
		}
	}
}

// eraseMember strips type-only tokens from a class field or method:
// access modifiers, the optional and definite-assignment markers.
func eraseMember(n *sitter.Node, edits *[]edit) {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "?", "!", "accessibility_modifier", "override_modifier", "readonly", "abstract":
			*edits = append(*edits, edit{start: c.StartByte(), end: c.EndByte()})
		default:
			eraseNode(c, edits)
		}
	}
}
