package hlil

import (
	"testing"

	"github.com/kjorg/oblivion-manifest/internal/itemlist"
	"github.com/kjorg/oblivion-manifest/internal/model"
	"github.com/kjorg/oblivion-manifest/internal/peimage"
)

func TestResolveStrcmpChainGotoCrossesBound(t *testing.T) {
	fb := &FunctionBlock{Symbol: "sub_1000d000", Lines: toLines(
		`1000d000 void sub_1000d000(char* a1)`,
		`{`,
		`    if (strcmp(a1, "func_train") == 0) {`,
		`        goto label_1000d050;`,
		`    }`,
		`    if (strcmp(a1, "func_plat") == 0) {`,
		`        doSomething();`,
		`    }`,
		`label_1000d050:`,
		`    return sub_1000d060;`,
		`}`,
	)}

	got := resolveStrcmpChain(fb)
	if got["func_train"] != "sub_1000d060" {
		t.Fatalf("func_train -> %q, want sub_1000d060 (goto-follow crosses the initial call-to-call bound)", got["func_train"])
	}
	if got["func_plat"] != "sub_1000d060" {
		t.Fatalf("func_plat -> %q, want sub_1000d060", got["func_plat"])
	}
}

func TestResolveStrcmpChainBoundedScanCanMiss(t *testing.T) {
	fb := &FunctionBlock{Symbol: "sub_1000e000", Lines: toLines(
		`1000e000 void sub_1000e000(char* a1)`,
		`{`,
		`    if (strcmp(a1, "func_alpha") == 0) {`,
		`        doNothingHere();`,
		`    }`,
		`    if (strcmp(a1, "func_beta") == 0) {`,
		`        return sub_1000e099;`,
		`    }`,
		`}`,
	)}

	got := resolveStrcmpChain(fb)
	if _, ok := got["func_alpha"]; ok {
		t.Fatalf("func_alpha should have no resolution: its scan is bounded by the next strcmp call, which has no return before it")
	}
	if got["func_beta"] != "sub_1000e099" {
		t.Fatalf("func_beta -> %q, want sub_1000e099", got["func_beta"])
	}
}

func toLines(texts ...string) []Line {
	out := make([]Line, len(texts))
	for i, s := range texts {
		out[i] = Line{Text: s}
	}
	return out
}

// buildSpawnTableImage constructs a synthetic PE image whose primary spawn
// table (at PrimarySpawnTableVA) has exactly one valid record, populated so
// both readers agree on a single classname/function pair:
//   - readPrimaryTextLabels reads word0 as the record's function pointer and
//     the word at offset 0x28 as the text-label string pointer.
//   - readPrimarySpawnTable reads the same record as 9 (name,func) pairs;
//     pair index 2 (offset 0x10) is populated with the same name/func
//     pointers so it independently resolves to the same classname/function.
//
// The backing buffer ends immediately after the record so every later-index
// read fails and both table scans terminate after a single iteration.
func buildSpawnTableImage(t *testing.T) *peimage.Image {
	t.Helper()
	const imageBase = 0x10000000

	size := PrimarySpawnTableVA - imageBase + PrimaryRecordSize
	text := make([]byte, size)

	const nameAddr = imageBase + 0x1000
	const funcAddr = imageBase + 0x2000
	copy(text[0x1000:], []byte("monster_jorg\x00"))

	recOff := PrimarySpawnTableVA - imageBase
	copy(text[recOff:], le32bytes(funcAddr))                  // word0: record function pointer
	copy(text[recOff+TextLabelOffset:], le32bytes(nameAddr))  // text-label pointer
	copy(text[recOff+16:], le32bytes(nameAddr))                // pair2.namePtr (offset 0x10)
	copy(text[recOff+20:], le32bytes(funcAddr))                // pair2.funcPtr (offset 0x14)

	path := writeSyntheticPE(t, buildSyntheticPE(t, imageBase, text))
	img, err := peimage.Load(path)
	if err != nil {
		t.Fatalf("peimage.Load: %v", err)
	}
	return img
}

func TestBuildSpawnMapPETableOverwritesEarlierEvidence(t *testing.T) {
	idx := newTestIndex()
	idx.DirectPairs["monster_jorg"] = "sub_aaaaaaaa"

	img := buildSpawnTableImage(t)
	resolver := NewResolver(idx, img, "")

	spawnMap := BuildSpawnMap(idx, resolver, img, nil, "", "")
	if got := spawnMap["monster_jorg"]; got != "sub_10002000" {
		t.Fatalf("spawnMap[monster_jorg] = %q, want sub_10002000 (PE spawn table overwrites il-direct)", got)
	}
}

func TestBuildSpawnMapItemlistFallback(t *testing.T) {
	idx := newTestIndex()
	resolver := NewResolver(idx, nil, "")
	items := []itemlist.Entry{{Classname: "item_health"}}

	spawnMap := BuildSpawnMap(idx, resolver, nil, items, "", "")
	if got := spawnMap["item_health"]; got != model.SpawnItemFromItemlist {
		t.Fatalf("spawnMap[item_health] = %q, want %s", got, model.SpawnItemFromItemlist)
	}
}

func TestBuildSpawnMapDenylistFiltersAccidentalLiterals(t *testing.T) {
	idx := newTestIndex()
	idx.DirectPairs["player_noise"] = "sub_1000b000"
	idx.DirectPairs["monster_jorg"] = "sub_1000a000"
	resolver := NewResolver(idx, nil, "")

	spawnMap := BuildSpawnMap(idx, resolver, nil, nil, "", "")
	if _, ok := spawnMap["player_noise"]; ok {
		t.Fatalf("player_noise should be removed by the accidental-literal denylist")
	}
	if got := spawnMap["monster_jorg"]; got != "sub_1000a000" {
		t.Fatalf("spawnMap[monster_jorg] = %q, want sub_1000a000", got)
	}
}

func TestBuildB150MapDerivesFromTextLabelCrossReference(t *testing.T) {
	idx := newTestIndex()
	fb := &FunctionBlock{Symbol: "sub_1000f000", Lines: toLines(
		`1000f000 void sub_1000f000(int a1)`,
		`{`,
		`    sub_1000b150(a1, "monster_jorg");`,
		`}`,
	)}
	idx.Functions["sub_1000f000"] = fb
	idx.order = []string{"sub_1000f000"}

	img := buildSpawnTableImage(t)

	entries := BuildB150Map(idx, img, "")
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1: %+v", len(entries), entries)
	}
	e := entries[0]
	if e.Classname != "monster_jorg" || e.Function != "sub_10002000" || e.Literal != "monster_jorg" {
		t.Fatalf("entry = %+v, want classname/literal=monster_jorg function=sub_10002000", e)
	}
	if e.Index != 0 {
		t.Fatalf("Index = %d, want 0", e.Index)
	}
}

func TestBuildB150MapReturnsNilWithoutImageOrSidecar(t *testing.T) {
	idx := newTestIndex()
	if got := BuildB150Map(idx, nil, ""); got != nil {
		t.Fatalf("BuildB150Map(no image, no sidecar) = %v, want nil", got)
	}
}
