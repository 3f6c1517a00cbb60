// Package model holds the data types shared across the extraction engine:
// the entity field descriptor, spawnflag evidence, default-value records,
// and the per-classname manifest entries produced by the HLIL and repo
// parsers.
package model

import "sort"

// SpawnItemFromItemlist is the sentinel function name assigned to
// classnames resolved purely from the item table, with no HLIL or binary
// spawn function of their own.
const SpawnItemFromItemlist = "SpawnItemFromItemlist"

// SpawnflagsOffset is the entity-structure offset that every spawnflags
// bitmask effect is anchored to.
const SpawnflagsOffset = 0x11C

// FieldDescriptor describes one field of the entity structure, sourced
// from a 12-byte descriptor record in the HLIL listing.
type FieldDescriptor struct {
	Name    string
	Offset  uint32
	TypeID  uint32
	Flags   uint32
}

// IsFloat32 reports whether the descriptor names a 32-bit float field.
func (f FieldDescriptor) IsFloat32() bool {
	return f.TypeID == 1
}

// BlockSource identifies where a manifest entry's function block came from.
type BlockSource string

const (
	BlockNone     BlockSource = "none"
	BlockHLIL     BlockSource = "hlil"
	BlockBinary   BlockSource = "binary"
	BlockItemlist BlockSource = "itemlist"
)

// EvidenceSource identifies where spawnflags or defaults evidence came from.
type EvidenceSource string

const (
	EvidenceNone     EvidenceSource = "none"
	EvidenceHLIL     EvidenceSource = "hlil"
	EvidenceBinary   EvidenceSource = "binary"
	EvidenceItemlist EvidenceSource = "itemlist"
)

// DefaultValue is a single recorded write to a structural field: either an
// integer or float value tagged with the field offset it was written to.
type DefaultValue struct {
	Offset   uint32
	IntValue int64
	FltValue float64
	IsFloat  bool
}

// Defaults maps a synthetic or descriptor-backed field name to every
// DefaultValue observed for it, in observation order.
type Defaults map[string][]DefaultValue

// Clone returns a deep copy of the Defaults map.
func (d Defaults) Clone() Defaults {
	out := make(Defaults, len(d))
	for k, v := range d {
		cp := make([]DefaultValue, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// SpawnEvidence holds the four bitmask sets observed on the spawnflags
// field: checks (`test`/`&`), sets (`or`/`|=`), clears (inverse of an `and`
// mask), and assignments (direct `mov`/`=`).
type SpawnEvidence struct {
	Checks      []uint32 `json:"checks,omitempty"`
	Sets        []uint32 `json:"sets,omitempty"`
	Clears      []uint32 `json:"clears,omitempty"`
	Assignments []uint32 `json:"assignments,omitempty"`
}

// IsEmpty reports whether no evidence of any kind has been recorded.
func (e SpawnEvidence) IsEmpty() bool {
	return len(e.Checks) == 0 && len(e.Sets) == 0 && len(e.Clears) == 0 && len(e.Assignments) == 0
}

// AddCheck records a checked bitmask, keeping the set sorted and deduped.
func (e *SpawnEvidence) AddCheck(mask uint32) { e.Checks = addSorted(e.Checks, mask) }

// AddSet records a set bitmask.
func (e *SpawnEvidence) AddSet(mask uint32) { e.Sets = addSorted(e.Sets, mask) }

// AddClear records a cleared-bits mask. Callers must already have inverted
// the raw AND operand and excluded 0 and 0xFFFFFFFF per the invariant.
func (e *SpawnEvidence) AddClear(mask uint32) { e.Clears = addSorted(e.Clears, mask) }

// AddAssignment records a direct assignment mask.
func (e *SpawnEvidence) AddAssignment(mask uint32) { e.Assignments = addSorted(e.Assignments, mask) }

func addSorted(set []uint32, v uint32) []uint32 {
	i := sort.Search(len(set), func(i int) bool { return set[i] >= v })
	if i < len(set) && set[i] == v {
		return set
	}
	set = append(set, 0)
	copy(set[i+1:], set[i:])
	set[i] = v
	return set
}

// MergeEvidence returns the set-union of two SpawnEvidence values, per field.
func MergeEvidence(a, b SpawnEvidence) SpawnEvidence {
	var out SpawnEvidence
	for _, v := range a.Checks {
		out.AddCheck(v)
	}
	for _, v := range b.Checks {
		out.AddCheck(v)
	}
	for _, v := range a.Sets {
		out.AddSet(v)
	}
	for _, v := range b.Sets {
		out.AddSet(v)
	}
	for _, v := range a.Clears {
		out.AddClear(v)
	}
	for _, v := range b.Clears {
		out.AddClear(v)
	}
	for _, v := range a.Assignments {
		out.AddAssignment(v)
	}
	for _, v := range b.Assignments {
		out.AddAssignment(v)
	}
	return out
}

// HLILEntry is one classname's entry in the HLIL-derived manifest.
type HLILEntry struct {
	Classname        string
	Function         string
	HasBlock         bool
	BlockSource      BlockSource
	SpawnflagsSource EvidenceSource
	DefaultsSource   EvidenceSource
	Defaults         Defaults
	Spawnflags       SpawnEvidence
}

// RepoEntry is one classname's entry in the repo-derived manifest.
type RepoEntry struct {
	Classname  string
	Function   string
	Defaults   map[string]float64
	Spawnflags SpawnEvidence
}

// NormalizeClassname trims NUL padding and surrounding whitespace, per the
// keying invariant every classname string is normalized through.
func NormalizeClassname(s string) string {
	s = trimNulAndSpace(s)
	return s
}

func trimNulAndSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == 0 || s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == 0 || s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
