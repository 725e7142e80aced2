// Package transform rewrites remote-execution call sites into stable id
// references and applies require indirection inside their fragments.
package transform

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/rhildred/run-on-server/internal/lang"
	"github.com/rhildred/run-on-server/internal/model"
	"github.com/rhildred/run-on-server/internal/resolve"
)

// evalRequireText is spliced over a require callee inside a matched
// fragment. Bundlers cannot statically resolve the loader behind eval, so
// the required module never enters a client bundle.
const evalRequireText = `eval("require")`

// functionLiterals are the node types accepted as a rewritable fragment
// argument, across grammar versions.
var functionLiterals = map[string]struct{}{
	"arrow_function":      {},
	"function":            {},
	"function_expression": {},
	"generator_function":  {},
}

// Site reports the outcome for one matched call site.
type Site struct {
	Callee  string
	Line    int
	Outcome model.Outcome
}

// Result is the output of transforming one file.
type Result struct {
	Output  []byte        // rewritten source; equal to the input when nothing changed
	Entries []model.Entry // (id, fragment) pairs in source order, deduplicated
	Sites   []Site
}

// Rewritten returns the number of call sites that were rewritten.
func (r *Result) Rewritten() int {
	n := 0
	for _, s := range r.Sites {
		if s.Outcome == model.Rewritten {
			n++
		}
	}
	return n
}

// Skipped returns the number of call sites left alone because their first
// argument was not a function literal or could not be stored as a live
// table value.
func (r *Result) Skipped() int {
	return len(r.Sites) - r.Rewritten()
}

// Transformer rewrites files under one build's compile options. Each
// goroutine must use its own Transformer (tree-sitter parsers are not
// thread-safe).
type Transformer struct {
	opts    model.CompileOptions
	parsers map[string]*sitter.Parser
}

// New returns a Transformer for the given options.
func New(opts model.CompileOptions) *Transformer {
	return &Transformer{
		opts:    opts,
		parsers: make(map[string]*sitter.Parser),
	}
}

// callSite is one located invocation of the remote-execution helper.
type callSite struct {
	call   *sitter.Node
	fn     *sitter.Node // function literal argument; nil when the shape does not match
	callee string
}

// File transforms one file's source, returning the rewritten bytes, the
// table entries for its fragments, and per-site outcomes. The input slice is
// never modified. path is used only in error messages.
func (t *Transformer) File(l *lang.Language, source []byte, path string) (*Result, error) {
	if len(source) == 0 || (!t.opts.IDMappings.Enabled && !t.opts.EvalRequire.Enabled) {
		return &Result{Output: source}, nil
	}

	tree, err := t.parserFor(l).ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	defer tree.Close()
	root := tree.RootNode()

	clientModule := t.opts.ClientModule
	if clientModule == "" {
		clientModule = model.DefaultClientModule
	}

	helpers, err := resolve.Helpers(l, root, source, clientModule)
	if err != nil {
		return nil, fmt.Errorf("resolving bindings in %s: %w", path, err)
	}

	sites, requires, err := collect(l, root, source, helpers)
	if err != nil {
		return nil, fmt.Errorf("matching %s: %w", path, err)
	}

	return t.rewrite(l, source, sites, requires), nil
}

func (t *Transformer) parserFor(l *lang.Language) *sitter.Parser {
	parser, ok := t.parsers[l.Name]
	if !ok {
		parser = l.NewParser()
		t.parsers[l.Name] = parser
	}
	return parser
}

// collect runs the call query once, partitioning matches into helper call
// sites (source order) and single-argument require calls. A file that never
// binds the helper has no fragments, so there is nothing to collect.
func collect(l *lang.Language, root *sitter.Node, source []byte, helpers map[string]struct{}) ([]callSite, []*sitter.Node, error) {
	if len(helpers) == 0 {
		return nil, nil, nil
	}

	query, err := l.CallQuery()
	if err != nil {
		return nil, nil, err
	}

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, root)

	var sites []callSite
	var requires []*sitter.Node

	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, source)

		var call, callee *sitter.Node
		for _, c := range match.Captures {
			switch query.CaptureNameForId(c.Index) {
			case "call":
				call = c.Node
			case "callee":
				callee = c.Node
			}
		}
		if call == nil || callee == nil {
			continue
		}

		name := lang.NodeText(callee, source)
		if name == "require" {
			if args := call.ChildByFieldName("arguments"); args != nil && args.NamedChildCount() == 1 {
				requires = append(requires, callee)
			}
			continue
		}
		if _, ok := helpers[name]; !ok {
			continue
		}

		sites = append(sites, callSite{
			call:   call,
			fn:     functionArgument(call),
			callee: name,
		})
	}

	return sites, requires, nil
}

// functionArgument returns the call's first argument when it is a function
// literal, nil otherwise.
func functionArgument(call *sitter.Node) *sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return nil
	}
	for i := 0; i < int(args.NamedChildCount()); i++ {
		child := args.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		if _, ok := functionLiterals[child.Type()]; ok {
			return child
		}
		return nil
	}
	return nil
}

// rewrite computes the splice set and table entries for one file. Sites
// arrive in source order (query matches are pre-ordered), so a site nested
// inside an already-rewritten fragment is recognized by position and left to
// the outer rewrite.
func (t *Transformer) rewrite(l *lang.Language, source []byte, sites []callSite, requires []*sitter.Node) *Result {
	res := &Result{Output: source}

	var fileEdits []edit
	var consumed uint32
	seen := make(map[model.Identifier]struct{})

	for _, s := range sites {
		if s.call.StartByte() < consumed {
			continue
		}
		if s.fn == nil {
			res.Sites = append(res.Sites, Site{Callee: s.callee, Line: line(s.call), Outcome: model.SkippedUnmatched})
			continue
		}

		fragStart, fragEnd := s.fn.StartByte(), s.fn.EndByte()

		var reqEdits []edit
		if t.opts.EvalRequire.Enabled {
			for _, callee := range requires {
				if callee.StartByte() >= fragStart && callee.EndByte() <= fragEnd {
					reqEdits = append(reqEdits, edit{start: callee.StartByte(), end: callee.EndByte(), text: evalRequireText})
				}
			}
		}

		if t.opts.IDMappings.Enabled {
			fragment, ok := t.fragmentText(l, s.fn, source, reqEdits)
			if !ok {
				res.Sites = append(res.Sites, Site{Callee: s.callee, Line: line(s.call), Outcome: model.SkippedUnmatched})
				continue
			}
			id := model.IdentifierFor(fragment)
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				res.Entries = append(res.Entries, model.Entry{ID: id, Source: fragment})
			}
			fileEdits = append(fileEdits, edit{start: fragStart, end: fragEnd, text: fmt.Sprintf(`{ id: %q }`, string(id))})
		} else {
			fileEdits = append(fileEdits, reqEdits...)
		}

		consumed = fragEnd
		res.Sites = append(res.Sites, Site{Callee: s.callee, Line: line(s.call), Outcome: model.Rewritten})
	}

	if len(fileEdits) > 0 {
		res.Output = applyEdits(source, fileEdits)
	}
	return res
}

// fragmentText renders the stored form of a fragment: require indirection
// applied, type syntax erased for the typed grammars, and the result
// validated against the plain JavaScript grammar. The table is a live
// CommonJS module, so only text that grammar accepts may become an entry;
// a fragment that cannot be reduced to one (a parse error in its body, an
// enum, a parameter property) reports !ok and its site is left alone.
func (t *Transformer) fragmentText(l *lang.Language, fn *sitter.Node, source []byte, reqEdits []edit) (string, bool) {
	edits := reqEdits
	if l.Typed {
		erased := eraseTypes(fn)
		edits = append(erased, outsideErased(reqEdits, erased)...)
	}

	fragStart := fn.StartByte()
	rel := make([]edit, len(edits))
	for i, e := range edits {
		rel[i] = edit{start: e.start - fragStart, end: e.end - fragStart, text: e.text}
	}
	fragment := string(applyEdits(source[fragStart:fn.EndByte()], rel))

	if !t.validFragment(fragment) {
		return "", false
	}
	return fragment, true
}

// outsideErased drops edits whose span falls inside an erased one.
func outsideErased(edits, erased []edit) []edit {
	var kept []edit
	for _, e := range edits {
		contained := false
		for _, r := range erased {
			if e.start >= r.start && e.end <= r.end {
				contained = true
				break
			}
		}
		if !contained {
			kept = append(kept, e)
		}
	}
	return kept
}

// validFragment reports whether text parses cleanly as a JavaScript
// expression, the way a persisted table value is re-parsed on load.
func (t *Transformer) validFragment(text string) bool {
	parser := t.parserFor(lang.Languages["javascript"])
	tree, err := parser.ParseCtx(context.Background(), nil, []byte("("+text+");"))
	if err != nil {
		return false
	}
	defer tree.Close()
	return !tree.RootNode().HasError()
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}
