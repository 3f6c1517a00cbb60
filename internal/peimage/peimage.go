// Package peimage loads a PE32 image and provides VA-indexed readers over
// it, the PE counterpart of the ELF loader this engine's ancestor used for
// ARM64 shared libraries.
package peimage

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"

	peparser "github.com/saferwall/pe"
)

// Section describes one PE section as captured from the section table.
type Section struct {
	Name            string
	VA              uint32
	VSize           uint32
	RawAddr         uint32
	RawSize         uint32
	Characteristics uint32
}

// Image holds a loaded PE32 binary: its raw bytes, image base, and section
// table, with VA-indexed readers over the file data. Section and header
// parsing is done by the saferwall/pe library; Image keeps its own copy of
// the sections it cares about and the raw file bytes for direct indexing.
type Image struct {
	Path      string
	Data      []byte
	ImageBase uint32
	Sections  []Section

	pe *peparser.File
}

// Load reads path and parses it as a PE32 image. The file is not mapped
// into any executable memory; all reads below resolve VA to file offset and
// index directly into Data.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read PE image: %w", err)
	}

	if len(data) < 0x40 || string(data[:2]) != "MZ" {
		return nil, fmt.Errorf("not a PE image: missing MZ signature")
	}

	f, err := peparser.NewBytes(data, &peparser.Options{Fast: true})
	if err != nil {
		return nil, fmt.Errorf("parse PE headers: %w", err)
	}
	if err := f.Parse(); err != nil {
		return nil, fmt.Errorf("parse PE headers: %w", err)
	}

	if f.Is64 {
		return nil, fmt.Errorf("expected PE32 optional header, got 64-bit")
	}
	oh, ok := f.NtHeader.OptionalHeader.(peparser.ImageOptionalHeader32)
	if !ok {
		return nil, fmt.Errorf("expected PE32 optional header, got 64-bit")
	}

	img := &Image{
		Path:      path,
		Data:      data,
		ImageBase: oh.ImageBase,
		pe:        f,
	}

	for _, sec := range f.Sections {
		img.Sections = append(img.Sections, Section{
			Name:            sectionName(sec.Header.Name),
			VA:              sec.Header.VirtualAddress,
			VSize:           sec.Header.VirtualSize,
			RawAddr:         sec.Header.PointerToRawData,
			RawSize:         sec.Header.SizeOfRawData,
			Characteristics: sec.Header.Characteristics,
		})
	}

	if len(img.Sections) == 0 {
		return nil, fmt.Errorf("no sections found in PE image")
	}

	return img, nil
}

func sectionName(raw [8]uint8) string {
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}

// sectionForRVA returns the section whose [VA, VA+max(VSize,RawSize)) range
// covers rva, or nil if none does.
func (img *Image) sectionForRVA(rva uint32) *Section {
	for i := range img.Sections {
		sec := &img.Sections[i]
		maxSize := sec.VSize
		if sec.RawSize > maxSize {
			maxSize = sec.RawSize
		}
		if maxSize == 0 {
			continue
		}
		if rva >= sec.VA && rva < sec.VA+maxSize {
			return sec
		}
	}
	return nil
}

// VAToFileOffset locates the section covering va and returns the
// corresponding file offset via saferwall/pe's GetOffsetFromRva (for an
// Image assembled without Load, the section's RawAddr plus the delta).
// Returns false if no section covers va or the delta exceeds the section's
// raw size (the address falls in an uninitialized/.bss tail).
func (img *Image) VAToFileOffset(va uint32) (uint32, bool) {
	rva := va - img.ImageBase

	sec := img.sectionForRVA(rva)
	if sec == nil {
		return 0, false
	}
	if delta := rva - sec.VA; delta >= sec.RawSize {
		return 0, false
	}

	if img.pe == nil {
		return sec.RawAddr + (rva - sec.VA), true
	}
	off := img.pe.GetOffsetFromRva(rva)
	if off == ^uint32(0) {
		return 0, false
	}
	return off, true
}

// ReadU32 reads a little-endian uint32 at va.
func (img *Image) ReadU32(va uint32) (uint32, bool) {
	off, ok := img.VAToFileOffset(va)
	if !ok || uint64(off)+4 > uint64(len(img.Data)) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(img.Data[off : off+4]), true
}

// ReadU64 reads a little-endian uint64 at va.
func (img *Image) ReadU64(va uint32) (uint64, bool) {
	off, ok := img.VAToFileOffset(va)
	if !ok || uint64(off)+8 > uint64(len(img.Data)) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(img.Data[off : off+8]), true
}

// ReadFloat32 reads a 32-bit IEEE-754 float at va.
func (img *Image) ReadFloat32(va uint32) (float32, bool) {
	bits, ok := img.ReadU32(va)
	if !ok {
		return 0, false
	}
	return math.Float32frombits(bits), true
}

// ReadFloat64 reads a 64-bit IEEE-754 double at va.
func (img *Image) ReadFloat64(va uint32) (float64, bool) {
	bits, ok := img.ReadU64(va)
	if !ok {
		return 0, false
	}
	return math.Float64frombits(bits), true
}

// ReadCString reads a NUL-terminated ASCII string at va. Fails if no
// terminator is found before the end of the file.
func (img *Image) ReadCString(va uint32) (string, bool) {
	off, ok := img.VAToFileOffset(va)
	if !ok || uint64(off) >= uint64(len(img.Data)) {
		return "", false
	}
	data := img.Data
	end := off
	for end < uint32(len(data)) && data[end] != 0 {
		end++
	}
	if end >= uint32(len(data)) {
		return "", false
	}
	return string(data[off:end]), true
}

// IsInText reports whether va lies inside the image's .text section,
// used to validate candidate function pointers read from data tables.
func (img *Image) IsInText(va uint32) bool {
	for _, sec := range img.Sections {
		if strings.ToLower(strings.TrimSpace(sec.Name)) != ".text" {
			continue
		}
		start := img.ImageBase + sec.VA
		size := sec.VSize
		if size == 0 {
			size = sec.RawSize
		}
		end := start + size
		if va >= start && va < end {
			return true
		}
	}
	return false
}

// ReadBytes reads n raw bytes at va.
func (img *Image) ReadBytes(va uint32, n uint32) ([]byte, bool) {
	off, ok := img.VAToFileOffset(va)
	if !ok || uint64(off)+uint64(n) > uint64(len(img.Data)) {
		return nil, false
	}
	return img.Data[off : off+n], true
}
