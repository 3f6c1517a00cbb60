// Package hlil parses the high-level IL text listing that the extraction
// engine treats as its primary source of truth: function blocks, field
// descriptors, string/function-pointer declarations, and the classname
// spawn-map built by merging evidence scattered across that listing.
package hlil

import "strings"

// Line is one line of the IL listing, tagged with the file it came from so
// callers can tell primary lines from split continuations.
type Line struct {
	Text    string
	File    string
	IsSplit bool
}

// FunctionBlock is every line belonging to one sub_XXXXXXXX symbol, merged
// across the primary listing and any split/*.txt continuations that also
// declare it.
type FunctionBlock struct {
	Symbol string
	Lines  []Line
}

// Text joins the block's lines back into a single string for regex scans
// that need to look across line boundaries (e.g. the inline {name, func}
// table scan).
func (b *FunctionBlock) Text() string {
	var sb strings.Builder
	for i, l := range b.Lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(l.Text)
	}
	return sb.String()
}

// Sources returns the distinct file paths the block's lines were merged
// from (the primary listing and/or split/*.txt continuations), in
// first-seen order.
func (b *FunctionBlock) Sources() []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range b.Lines {
		if l.File == "" || seen[l.File] {
			continue
		}
		seen[l.File] = true
		out = append(out, l.File)
	}
	return out
}

// ContainsOffset reports whether the block's text references the given hex
// literal (with or without a leading "0x"), used by the helper-merge walker
// to decide whether a callee touches spawnflags.
func (b *FunctionBlock) ContainsOffset(hex string) bool {
	hex = strings.TrimPrefix(strings.ToLower(hex), "0x")
	t := strings.ToLower(b.Text())
	return strings.Contains(t, "0x"+hex)
}
