package manifest

import (
	"regexp"
	"strings"

	"github.com/kjorg/oblivion-manifest/internal/hlil"
	"github.com/kjorg/oblivion-manifest/internal/model"
)

var calleeRe = regexp.MustCompile(`\bsub_[0-9a-fA-F]+\b`)

var helperEligiblePrefixes = []string{"func_", "target_", "trigger_", "misc_", "info_", "path_", "point_"}

func helperEligible(classname string) bool {
	if classname == "light" {
		return true
	}
	for _, p := range helperEligiblePrefixes {
		if strings.HasPrefix(classname, p) {
			return true
		}
	}
	return false
}

// mergeHelperSpawnflags walks direct sub_ callees referenced in the spawn
// function's block, up to depth 2, unioning spawnflag evidence from every
// callee whose own block touches offset 0x11C.
func mergeHelperSpawnflags(idx *hlil.Index, classname, function string, descriptors map[uint32]model.FieldDescriptor) model.SpawnEvidence {
	var out model.SpawnEvidence
	if !helperEligible(classname) {
		return out
	}

	fb, ok := idx.Functions[function]
	if !ok {
		return out
	}

	visited := map[string]bool{function: true}
	walkCallees(idx, fb, 1, visited, descriptors, &out)
	return out
}

func walkCallees(idx *hlil.Index, fb *hlil.FunctionBlock, depth int, visited map[string]bool, descriptors map[uint32]model.FieldDescriptor, out *model.SpawnEvidence) {
	if depth > 2 {
		return
	}

	for _, callee := range calleeRe.FindAllString(fb.Text(), -1) {
		if visited[callee] {
			continue
		}
		visited[callee] = true

		calleeBlock, ok := idx.Functions[callee]
		if !ok || !calleeBlock.ContainsOffset("11c") {
			continue
		}

		sf, _ := extractHLILEffects(calleeBlock, descriptors)
		*out = model.MergeEvidence(*out, sf)
		walkCallees(idx, calleeBlock, depth+1, visited, descriptors, out)
	}
}
