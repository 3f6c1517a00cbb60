package hlil

import (
	"strings"
	"testing"
)

const primaryFixture = `1000a000 void sub_1000a000(int a1)
{
    x = 1;
}
char (*data_2001)[16] = data_2001{"monster_jorg"}
00 00 00 00 01 00 00 00 00 00 00 00
void* data_2002 = sub_1000a000
`

func TestBuildIndexesFunctionsDescriptorsAndDirectPairs(t *testing.T) {
	dir := t.TempDir()
	primary := writeFile(t, dir, "gamex86.dll_hlil.txt", primaryFixture)

	idx, err := Build(primary)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(idx.FunctionOrder()) != 1 || idx.FunctionOrder()[0] != "sub_1000a000" {
		t.Fatalf("FunctionOrder = %v, want [sub_1000a000]", idx.FunctionOrder())
	}

	fb := idx.Functions["sub_1000a000"]
	if fb == nil {
		t.Fatalf("missing function block for sub_1000a000")
	}
	if !strings.Contains(fb.Text(), "x = 1;") {
		t.Fatalf("function block text missing body line: %q", fb.Text())
	}

	desc, ok := idx.Descriptors["data_2001"]
	if !ok {
		t.Fatalf("missing descriptor for data_2001")
	}
	if desc.Offset != 0 || desc.TypeID != 1 {
		t.Fatalf("descriptor = %+v, want Offset=0 TypeID=1", desc)
	}
	if desc.Name != "monster_jorg" {
		t.Fatalf("descriptor.Name = %q, want the field literal monster_jorg, not the data-label key", desc.Name)
	}

	if s := idx.Strings["data_2001"]; s != "monster_jorg" {
		t.Fatalf("Strings[data_2001] = %q, want monster_jorg", s)
	}

	if fn := idx.DirectPairs["monster_jorg"]; fn != "sub_1000a000" {
		t.Fatalf("DirectPairs[monster_jorg] = %q, want sub_1000a000", fn)
	}
}

func TestBuildMergesSplitContinuationsAndDedupesLines(t *testing.T) {
	dir := t.TempDir()
	primary := writeFile(t, dir, "gamex86.dll_hlil.txt", `1000a000 void sub_1000a000(int a1)
{
    x = 1;
}
`)
	writeFile(t, dir, "split/part1.txt", `1000a000 void sub_1000a000(int a1)
{
    x = 1;
    y = 2;
}
`)

	idx, err := Build(primary)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	fb := idx.Functions["sub_1000a000"]
	if fb == nil {
		t.Fatalf("missing merged function block")
	}

	// Primary contributes 4 lines (decl, {, x=1;, }); split adds exactly one
	// new line (y = 2;) since the rest duplicate primary's text verbatim.
	if len(fb.Lines) != 5 {
		t.Fatalf("len(fb.Lines) = %d, want 5 (dedup across primary+split): %v", len(fb.Lines), fb.Lines)
	}
	if !strings.Contains(fb.Text(), "y = 2;") {
		t.Fatalf("merged block missing split continuation line: %q", fb.Text())
	}

	sources := fb.Sources()
	if len(sources) != 2 {
		t.Fatalf("Sources() = %v, want 2 distinct files (primary + split)", sources)
	}
}

func TestFunctionBlockContainsOffset(t *testing.T) {
	fb := &FunctionBlock{Lines: []Line{{Text: "mov [eax+0x11C], 0x4"}}}
	if !fb.ContainsOffset("11C") {
		t.Fatalf("ContainsOffset(11C) = false, want true")
	}
	if !fb.ContainsOffset("0x11c") {
		t.Fatalf("ContainsOffset(0x11c) = false, want true (case-insensitive, 0x-prefix-tolerant)")
	}
	if fb.ContainsOffset("200") {
		t.Fatalf("ContainsOffset(200) = true, want false")
	}
}
