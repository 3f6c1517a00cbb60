package hlil

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/kjorg/oblivion-manifest/internal/log"
)

func init() {
	log.Init(false)
}

// buildSyntheticPE assembles a minimal but valid PE32 image with a single
// .text section spanning rva [0, len(textData)) (see internal/peimage's own
// fixture builder).
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

func writeSyntheticPE(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "synthetic.exe")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func le32bytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
