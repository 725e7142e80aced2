package transform

import "sort"

// edit replaces source[start:end) with text.
type edit struct {
	start, end uint32
	text       string
}

// applyEdits splices a set of non-overlapping edits into source, returning a
// new slice. Edits may arrive in any order; the input is never modified.
func applyEdits(source []byte, edits []edit) []byte {
	if len(edits) == 0 {
		return source
	}

	sorted := make([]edit, len(edits))
	copy(sorted, edits)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].start < sorted[j].start
	})

	var out []byte
	var pos uint32
	for _, e := range sorted {
		out = append(out, source[pos:e.start]...)
		out = append(out, e.text...)
		pos = e.end
	}
	out = append(out, source[pos:]...)
	return out
}
