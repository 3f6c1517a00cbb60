// Package itemlist reads the fixed-layout gitem_t[] table from the PE
// image, recognizing item classnames and their raw structural defaults.
package itemlist

import (
	"fmt"

	"github.com/kjorg/oblivion-manifest/internal/model"
	"github.com/kjorg/oblivion-manifest/internal/peimage"
)

// TableVA is the fixed image address of the gitem_t[] table.
const TableVA uint32 = 0x10046928

// RecordSize is the byte size of one gitem_t record.
const RecordSize uint32 = 0x48

// Entry is one parsed gitem_t record: its classname and the raw u32 words
// of the record, index-addressable for default extraction.
type Entry struct {
	Classname string
	Words     [RecordSize / 4]uint32
}

// Defaults maps every u32 word of the record to a synthetic offset_0x<hex>
// field name, the fallback default source when no descriptor applies.
func (e Entry) Defaults() model.Defaults {
	out := make(model.Defaults, len(e.Words))
	for i, w := range e.Words {
		name := fmt.Sprintf("offset_0x%x", i*4)
		out[name] = []model.DefaultValue{{Offset: uint32(i * 4), IntValue: int64(w)}}
	}
	return out
}

// Read walks the gitem_t[] table starting at TableVA. It stops at the
// first all-zero record seen after index 0; an all-zero record at index 0
// does not stop the scan (it is skipped, like any record without a
// classname), matching this reader's documented divergence from
// the generic spawn-table reader's consecutive-empty-streak termination.
func Read(img *peimage.Image) []Entry {
	var out []Entry

	for i := 0; ; i++ {
		va := TableVA + uint32(i)*RecordSize
		raw, ok := img.ReadBytes(va, RecordSize)
		if !ok {
			break
		}

		var words [RecordSize / 4]uint32
		allZero := true
		for j := range words {
			off := uint32(j) * 4
			w := uint32(raw[off]) | uint32(raw[off+1])<<8 | uint32(raw[off+2])<<16 | uint32(raw[off+3])<<24
			words[j] = w
			if w != 0 {
				allZero = false
			}
		}

		if allZero && i > 0 {
			break
		}

		classnamePtr := words[0]
		classname := ""
		if classnamePtr != 0 {
			classname, _ = img.ReadCString(classnamePtr)
			classname = model.NormalizeClassname(classname)
		}
		if classname == "" {
			continue
		}

		out = append(out, Entry{Classname: classname, Words: words})
	}

	return out
}

// ByClassname indexes entries by their normalized classname, first entry
// wins on duplicates.
func ByClassname(entries []Entry) map[string]Entry {
	out := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if _, ok := out[e.Classname]; !ok {
			out[e.Classname] = e
		}
	}
	return out
}
