// Package comparator diffs the HLIL-derived manifest against the
// externally parsed repo manifest.
package comparator

import (
	"math"
	"sort"
	"strconv"

	"github.com/kjorg/oblivion-manifest/internal/model"
)

const floatTolerance = 1e-4

// SpawnflagMismatch reports the classname-level spawnflag-set differences
// between the two manifests, per bitmask category.
type SpawnflagMismatch struct {
	Classname           string   `json:"classname"`
	ChecksOnlyHLIL      []uint32 `json:"checks_only_hlil,omitempty"`
	ChecksOnlyRepo      []uint32 `json:"checks_only_repo,omitempty"`
	SetsOnlyHLIL        []uint32 `json:"sets_only_hlil,omitempty"`
	SetsOnlyRepo        []uint32 `json:"sets_only_repo,omitempty"`
	ClearsOnlyHLIL      []uint32 `json:"clears_only_hlil,omitempty"`
	ClearsOnlyRepo      []uint32 `json:"clears_only_repo,omitempty"`
	AssignmentsOnlyHLIL []uint32 `json:"assignments_only_hlil,omitempty"`
	AssignmentsOnlyRepo []uint32 `json:"assignments_only_repo,omitempty"`
}

func (m SpawnflagMismatch) isEmpty() bool {
	return len(m.ChecksOnlyHLIL) == 0 && len(m.ChecksOnlyRepo) == 0 &&
		len(m.SetsOnlyHLIL) == 0 && len(m.SetsOnlyRepo) == 0 &&
		len(m.ClearsOnlyHLIL) == 0 && len(m.ClearsOnlyRepo) == 0 &&
		len(m.AssignmentsOnlyHLIL) == 0 && len(m.AssignmentsOnlyRepo) == 0
}

// DefaultMismatch reports one field whose default value differs between
// the two manifests, or which the repo side never wrote at all (Repo nil).
type DefaultMismatch struct {
	Classname string   `json:"classname"`
	Field     string   `json:"field"`
	HLIL      float64  `json:"hlil"`
	Repo      *float64 `json:"repo"`
}

// Comparison is the full diff result, per spec §6's external-output shape.
type Comparison struct {
	MissingInRepo      []string            `json:"missing_in_repo"`
	MissingInHLIL      []string            `json:"missing_in_hlil"`
	HLILMissingBlocks  []string            `json:"hlil_missing_blocks"`
	SpawnflagMismatches []SpawnflagMismatch `json:"spawnflag_mismatches"`
	DefaultMismatches  []DefaultMismatch   `json:"default_mismatches"`
}

// Compare diffs an HLIL manifest against a repo manifest. Spawnflags are
// only compared for classnames whose HLIL entry has spawnflags_source !=
// none; defaults/spawnflags are never compared for classnames whose repo
// function is the itemlist sentinel.
func Compare(hlilManifest map[string]model.HLILEntry, repoManifest map[string]model.RepoEntry) Comparison {
	var cmp Comparison

	for classname, entry := range hlilManifest {
		_, inRepo := repoManifest[classname]
		if !inRepo {
			cmp.MissingInRepo = append(cmp.MissingInRepo, classname)
			continue
		}
		// hlil_missing_blocks is restricted to classnames shared with the
		// repo manifest, matching the ground-truth comparator's "shared"
		// intersection rather than every blockless HLIL entry.
		if !entry.HasBlock {
			cmp.HLILMissingBlocks = append(cmp.HLILMissingBlocks, classname)
		}
	}
	for classname := range repoManifest {
		if _, ok := hlilManifest[classname]; !ok {
			cmp.MissingInHLIL = append(cmp.MissingInHLIL, classname)
		}
	}

	sort.Strings(cmp.MissingInRepo)
	sort.Strings(cmp.MissingInHLIL)
	sort.Strings(cmp.HLILMissingBlocks)

	var classnames []string
	for classname := range hlilManifest {
		classnames = append(classnames, classname)
	}
	sort.Strings(classnames)

	for _, classname := range classnames {
		hlilEntry := hlilManifest[classname]
		repoEntry, ok := repoManifest[classname]
		if !ok || repoEntry.Function == model.SpawnItemFromItemlist {
			continue
		}

		if hlilEntry.SpawnflagsSource != model.EvidenceNone {
			if m := diffSpawnflags(classname, hlilEntry.Spawnflags, repoEntry.Spawnflags); !m.isEmpty() {
				cmp.SpawnflagMismatches = append(cmp.SpawnflagMismatches, m)
			}
		}

		cmp.DefaultMismatches = append(cmp.DefaultMismatches, diffDefaults(classname, hlilEntry.Defaults, repoEntry.Defaults)...)
	}

	return cmp
}

func diffSpawnflags(classname string, hlilEv, repoEv model.SpawnEvidence) SpawnflagMismatch {
	m := SpawnflagMismatch{Classname: classname}
	m.ChecksOnlyHLIL, m.ChecksOnlyRepo = setDiff(hlilEv.Checks, repoEv.Checks)
	m.SetsOnlyHLIL, m.SetsOnlyRepo = setDiff(hlilEv.Sets, repoEv.Sets)
	m.ClearsOnlyHLIL, m.ClearsOnlyRepo = setDiff(hlilEv.Clears, repoEv.Clears)
	m.AssignmentsOnlyHLIL, m.AssignmentsOnlyRepo = setDiff(hlilEv.Assignments, repoEv.Assignments)
	return m
}

func setDiff(a, b []uint32) (onlyA, onlyB []uint32) {
	inB := make(map[uint32]bool, len(b))
	for _, v := range b {
		inB[v] = true
	}
	inA := make(map[uint32]bool, len(a))
	for _, v := range a {
		inA[v] = true
		if !inB[v] {
			onlyA = append(onlyA, v)
		}
	}
	for _, v := range b {
		if !inA[v] {
			onlyB = append(onlyB, v)
		}
	}
	sort.Slice(onlyA, func(i, j int) bool { return onlyA[i] < onlyA[j] })
	sort.Slice(onlyB, func(i, j int) bool { return onlyB[i] < onlyB[j] })
	return
}

func diffDefaults(classname string, hlilDefaults model.Defaults, repoDefaults map[string]float64) []DefaultMismatch {
	var out []DefaultMismatch

	var fields []string
	for f := range hlilDefaults {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		hlilVal := firstDefaultValue(hlilDefaults[field])

		repoVal, ok := repoDefaults[field]
		if !ok {
			// The repo side never wrote this field at all; record it as a
			// mismatch with a nil repo value rather than silently dropping it.
			out = append(out, DefaultMismatch{Classname: classname, Field: field, HLIL: hlilVal, Repo: nil})
			continue
		}
		if !floatsClose(hlilVal, repoVal) {
			out = append(out, DefaultMismatch{Classname: classname, Field: field, HLIL: hlilVal, Repo: &repoVal})
		}
	}
	return out
}

// firstDefaultValue takes the "first entry after JSON-string-sort" value
// for a field with multiple recorded writes, matching the documented
// comparator quirk for picking among repeated writes to the same field.
func firstDefaultValue(values []model.DefaultValue) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]model.DefaultValue{}, values...)
	sort.Slice(sorted, func(i, j int) bool {
		return defaultValueSortKey(sorted[i]) < defaultValueSortKey(sorted[j])
	})
	dv := sorted[0]
	if dv.IsFloat {
		return dv.FltValue
	}
	return float64(dv.IntValue)
}

func defaultValueSortKey(dv model.DefaultValue) string {
	if dv.IsFloat {
		return formatFloat(dv.FltValue)
	}
	return formatFloat(float64(dv.IntValue))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func floatsClose(a, b float64) bool {
	diff := math.Abs(a - b)
	if diff <= floatTolerance {
		return true
	}
	rel := floatTolerance * math.Max(math.Abs(a), math.Abs(b))
	return diff <= rel
}
