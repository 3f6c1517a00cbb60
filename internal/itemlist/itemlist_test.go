package itemlist

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/kjorg/oblivion-manifest/internal/peimage"
)

// buildSyntheticPE assembles a minimal valid PE32 image with a single .text
// section spanning rva [0, len(textData)), mirroring internal/peimage's own
// test fixture builder.
func buildSyntheticPE(t *testing.T, imageBase uint32, textData []byte) []byte {
	t.Helper()

	const (
		lfanew        = 0x40
		fileHdrSize   = 20
		optHdrMinSize = 96
		sectHdrSize   = 40
	)

	rawAddr := uint32(lfanew + 4 + fileHdrSize + optHdrMinSize + sectHdrSize)
	rawAddr = (rawAddr + 0x1ff) &^ 0x1ff

	buf := make([]byte, rawAddr+uint32(len(textData)))
	buf[0], buf[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(buf[0x3c:], lfanew)
	copy(buf[lfanew:], []byte("PE\x00\x00"))

	fh := lfanew + 4
	binary.LittleEndian.PutUint16(buf[fh:], 0x14c)
	binary.LittleEndian.PutUint16(buf[fh+2:], 1)
	binary.LittleEndian.PutUint16(buf[fh+16:], uint16(optHdrMinSize))

	oh := fh + fileHdrSize
	binary.LittleEndian.PutUint16(buf[oh:], 0x10b)
	binary.LittleEndian.PutUint32(buf[oh+28:], imageBase)

	sh := oh + optHdrMinSize
	copy(buf[sh:sh+8], []byte(".text\x00\x00\x00"))
	binary.LittleEndian.PutUint32(buf[sh+8:], uint32(len(textData)))
	binary.LittleEndian.PutUint32(buf[sh+12:], 0)
	binary.LittleEndian.PutUint32(buf[sh+16:], uint32(len(textData)))
	binary.LittleEndian.PutUint32(buf[sh+20:], rawAddr)

	copy(buf[rawAddr:], textData)
	return buf
}

func loadSyntheticImage(t *testing.T, imageBase uint32, textData []byte) *peimage.Image {
	t.Helper()
	path := filepath.Join(t.TempDir(), "synthetic.exe")
	if err := os.WriteFile(path, buildSyntheticPE(t, imageBase, textData), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	img, err := peimage.Load(path)
	if err != nil {
		t.Fatalf("peimage.Load: %v", err)
	}
	return img
}

func putRecord(text []byte, imageBase uint32, index int, classname string, nameAddr uint32) {
	recOff := TableVA - imageBase + uint32(index)*RecordSize
	if classname != "" {
		copy(text[nameAddr-imageBase:], append([]byte(classname), 0))
		binary.LittleEndian.PutUint32(text[recOff:], nameAddr)
	}
}

func TestReadSkipsAllZeroIndexZeroButContinuesScanning(t *testing.T) {
	const imageBase = 0x10000000
	size := TableVA - imageBase + 2*RecordSize
	text := make([]byte, size)

	// Record 0 is left all-zero; record 1 holds a valid item; the loop must
	// not treat the all-zero record 0 as the stop condition.
	putRecord(text, imageBase, 1, "item_health", imageBase+0x1000)

	img := loadSyntheticImage(t, imageBase, text)
	entries := Read(img)

	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1: %+v", len(entries), entries)
	}
	if entries[0].Classname != "item_health" {
		t.Fatalf("entries[0].Classname = %q, want item_health", entries[0].Classname)
	}
}

func TestReadStopsAtFirstAllZeroRecordAfterIndexZero(t *testing.T) {
	const imageBase = 0x10000000
	size := TableVA - imageBase + 3*RecordSize
	text := make([]byte, size)

	putRecord(text, imageBase, 0, "weapon_rtdu", imageBase+0x1000)
	// Record 1 left all-zero: must stop here.
	putRecord(text, imageBase, 2, "item_health", imageBase+0x2000)

	img := loadSyntheticImage(t, imageBase, text)
	entries := Read(img)

	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1 (stop at first all-zero record after index 0): %+v", len(entries), entries)
	}
	if entries[0].Classname != "weapon_rtdu" {
		t.Fatalf("entries[0].Classname = %q, want weapon_rtdu", entries[0].Classname)
	}
}

func TestEntryDefaultsMapsEveryWordToSyntheticOffset(t *testing.T) {
	var e Entry
	e.Words[0] = 0xdeadbeef
	e.Words[1] = 42

	d := e.Defaults()
	if len(d) != len(e.Words) {
		t.Fatalf("len(Defaults()) = %d, want %d", len(d), len(e.Words))
	}
	if v := d["offset_0x0"][0].IntValue; v != 0xdeadbeef {
		t.Fatalf("offset_0x0 = %#x, want 0xdeadbeef", v)
	}
	if v := d["offset_0x4"][0].IntValue; v != 42 {
		t.Fatalf("offset_0x4 = %d, want 42", v)
	}
}

func TestByClassnameFirstEntryWins(t *testing.T) {
	entries := []Entry{
		{Classname: "item_health"},
		{Classname: "item_health"},
		{Classname: "weapon_rtdu"},
	}
	entries[1].Words[0] = 99

	indexed := ByClassname(entries)
	if len(indexed) != 2 {
		t.Fatalf("len(indexed) = %d, want 2", len(indexed))
	}
	if indexed["item_health"].Words[0] != 0 {
		t.Fatalf("ByClassname should keep the first entry on a duplicate classname")
	}
}
