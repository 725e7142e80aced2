package transform

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestApplyEdits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		source string
		edits  []edit
		want   string
	}{
		{
			name:   "no edits returns source",
			source: "abc",
			edits:  nil,
			want:   "abc",
		},
		{
			name:   "single replacement",
			source: "helper(fn, [])",
			edits:  []edit{{start: 7, end: 9, text: "X"}},
			want:   "helper(X, [])",
		},
		{
			name:   "replacement grows the source",
			source: "require(x)",
			edits:  []edit{{start: 0, end: 7, text: `eval("require")`}},
			want:   `eval("require")(x)`,
		},
		{
			name:   "edits applied in position order regardless of input order",
			source: "a b c",
			edits:  []edit{{start: 4, end: 5, text: "C"}, {start: 0, end: 1, text: "A"}},
			want:   "A b C",
		},
		{
			name:   "insertion at a point",
			source: "ab",
			edits:  []edit{{start: 1, end: 1, text: "X"}},
			want:   "aXb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := applyEdits([]byte(tt.source), tt.edits)
			if diff := cmp.Diff(tt.want, string(got)); diff != "" {
				t.Errorf("applyEdits mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestApplyEditsDoesNotModifyInput(t *testing.T) {
	t.Parallel()

	source := []byte("hello world")
	applyEdits(source, []edit{{start: 0, end: 5, text: "bye"}})
	if string(source) != "hello world" {
		t.Errorf("input slice was modified: %q", source)
	}
}
