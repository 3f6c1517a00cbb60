// Package manifest assembles the final HLIL-derived spawn manifest: for
// each classname/function pair recovered by the spawn-map builder, it
// selects the strongest available evidence source (HLIL block text,
// disassembled binary, or the itemlist), merges helper-callee spawnflag
// evidence, and tags the provenance of every field.
package manifest

import (
	"sort"
	"strconv"
	"strings"

	"github.com/kjorg/oblivion-manifest/internal/hlil"
	"github.com/kjorg/oblivion-manifest/internal/itemlist"
	"github.com/kjorg/oblivion-manifest/internal/log"
	"github.com/kjorg/oblivion-manifest/internal/model"
	"github.com/kjorg/oblivion-manifest/internal/peimage"
	"github.com/kjorg/oblivion-manifest/internal/x86abstract"
)

// Assemble builds the final classname->HLILEntry manifest from the merged
// spawn map, preferring IL block evidence, then disassembled binary
// evidence, then itemlist defaults, in that order. The returned slice is
// the manifest's classnames in the lexicographic order the engine always
// emits output in.
func Assemble(idx *hlil.Index, img *peimage.Image, items []itemlist.Entry, spawnMap map[string]string) (map[string]model.HLILEntry, []string) {
	descriptors := offsetDescriptors(idx)
	itemsByName := itemlist.ByClassname(items)
	starts := functionStarts(idx, spawnMap)

	out := make(map[string]model.HLILEntry, len(spawnMap))

	for classname, function := range spawnMap {
		entry := model.HLILEntry{Classname: classname, Function: function}

		switch {
		case function == model.SpawnItemFromItemlist:
			entry.BlockSource = model.BlockItemlist
			entry.HasBlock = true
			entry.SpawnflagsSource = model.EvidenceNone
			if it, ok := itemsByName[classname]; ok {
				entry.Defaults = it.Defaults()
				entry.DefaultsSource = model.EvidenceItemlist
			} else {
				entry.DefaultsSource = model.EvidenceNone
			}
			log.L.SourceAttached(classname, "block", string(model.BlockItemlist))

		case idx.Functions[function] != nil:
			fb := idx.Functions[function]
			entry.HasBlock = true
			entry.BlockSource = model.BlockHLIL
			sf, defaults := extractHLILEffects(fb, descriptors)
			if helperEligible(classname) {
				helperSf := mergeHelperSpawnflags(idx, classname, function, descriptors)
				sf = model.MergeEvidence(sf, helperSf)
			}
			entry.Spawnflags = sf
			entry.Defaults = defaults
			if !sf.IsEmpty() {
				entry.SpawnflagsSource = model.EvidenceHLIL
			} else {
				entry.SpawnflagsSource = model.EvidenceNone
			}
			if len(defaults) > 0 {
				entry.DefaultsSource = model.EvidenceHLIL
			} else {
				entry.DefaultsSource = model.EvidenceNone
			}
			log.L.SourceAttached(classname, "block", string(model.BlockHLIL))

		case img != nil:
			if va, ok := parseSubVA(function); ok {
				eff := x86abstract.Interpret(img, va, nextFuncStart(starts, va), descriptors)
				entry.HasBlock = img.IsInText(va)
				entry.BlockSource = model.BlockBinary
				entry.Spawnflags = eff.Spawnflags
				entry.Defaults = eff.Defaults
				if !eff.Spawnflags.IsEmpty() {
					entry.SpawnflagsSource = model.EvidenceBinary
				} else {
					entry.SpawnflagsSource = model.EvidenceNone
				}
				if len(eff.Defaults) > 0 {
					entry.DefaultsSource = model.EvidenceBinary
				} else {
					entry.DefaultsSource = model.EvidenceNone
				}
				log.L.SourceAttached(classname, "block", string(model.BlockBinary))
			} else {
				entry.BlockSource = model.BlockNone
				entry.SpawnflagsSource = model.EvidenceNone
				entry.DefaultsSource = model.EvidenceNone
			}

		default:
			entry.BlockSource = model.BlockNone
			entry.SpawnflagsSource = model.EvidenceNone
			entry.DefaultsSource = model.EvidenceNone
		}

		if entry.BlockSource == model.BlockNone {
			if it, ok := itemsByName[classname]; ok {
				entry.HasBlock = true
				entry.BlockSource = model.BlockItemlist
				entry.Defaults = it.Defaults()
				entry.DefaultsSource = model.EvidenceItemlist
			}
		}

		out[classname] = entry
	}

	order := make([]string, 0, len(out))
	for classname := range out {
		order = append(order, classname)
	}
	sort.Strings(order)

	return out, order
}

func offsetDescriptors(idx *hlil.Index) map[uint32]model.FieldDescriptor {
	out := make(map[uint32]model.FieldDescriptor, len(idx.Descriptors))
	for _, d := range idx.Descriptors {
		out[d.Offset] = d
	}
	return out
}

func functionStarts(idx *hlil.Index, spawnMap map[string]string) []uint32 {
	seen := make(map[uint32]bool)
	var starts []uint32
	add := func(sym string) {
		if va, ok := parseSubVA(sym); ok && !seen[va] {
			seen[va] = true
			starts = append(starts, va)
		}
	}
	for _, sym := range idx.FunctionOrder() {
		add(sym)
	}
	for _, fn := range spawnMap {
		add(fn)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts
}

func nextFuncStart(sorted []uint32, va uint32) uint32 {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] > va })
	if i < len(sorted) {
		return sorted[i]
	}
	return 0
}

func parseSubVA(symbol string) (uint32, bool) {
	if !strings.HasPrefix(symbol, "sub_") {
		return 0, false
	}
	v, err := strconv.ParseUint(symbol[4:], 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}
