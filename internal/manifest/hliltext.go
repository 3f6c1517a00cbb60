package manifest

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kjorg/oblivion-manifest/internal/hlil"
	"github.com/kjorg/oblivion-manifest/internal/model"
)

// Named-alias tracking: the HLIL-text counterpart of the register tracker
// in the x86 interpreter. `alias = *(x + 0x11c)` binds a lexical alias to
// the spawnflags field; subsequent `alias |= N` / `alias &= N` / `alias & N`
// lines are then readable as set/clear/check operations against a name
// instead of a register.
var (
	aliasBindRe   = regexp.MustCompile(`(\w+)\s*=\s*\*\s*\(\s*\w+\s*\+\s*0x11[cC]\s*\)`)
	aliasOrRe     = regexp.MustCompile(`(\w+)\s*\|=\s*(0x[0-9a-fA-F]+|\d+)`)
	aliasAndEqRe  = regexp.MustCompile(`(\w+)\s*&=\s*(0x[0-9a-fA-F]+|\d+)`)
	aliasCheckRe  = regexp.MustCompile(`(\w+)\s*&\s*(0x[0-9a-fA-F]+|\d+)(?:\s*==|\s*\)|\s*!=)`)
	directSfOrRe  = regexp.MustCompile(`\*\s*\(\s*\w+\s*\+\s*0x11[cC]\s*\)\s*\|=\s*(0x[0-9a-fA-F]+|\d+)`)
	directSfAndRe = regexp.MustCompile(`\*\s*\(\s*\w+\s*\+\s*0x11[cC]\s*\)\s*&=\s*(0x[0-9a-fA-F]+|\d+)`)
	directSfSetRe = regexp.MustCompile(`\*\s*\(\s*\w+\s*\+\s*0x11[cC]\s*\)\s*=\s*(0x[0-9a-fA-F]+|\d+)\s*;`)
	defaultWriteRe = regexp.MustCompile(`\*\s*\(\s*\w+\s*\+\s*(0x[0-9a-fA-F]+)\s*\)\s*=\s*(0x[0-9a-fA-F]+|-?\d+(?:\.\d+)?f?)\s*;`)
)

func normalizeAliasName(alias string) string {
	if i := strings.IndexAny(alias, ":."); i >= 0 {
		alias = alias[:i]
	}
	return alias
}

func parseNumeric(tok string) (int64, bool) {
	tok = strings.TrimSuffix(tok, "f")
	if strings.HasPrefix(tok, "0x") || strings.HasPrefix(tok, "0X") {
		v, err := strconv.ParseUint(tok[2:], 16, 32)
		if err != nil {
			return 0, false
		}
		return int64(v), true
	}
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// extractHLILEffects scans a function block's text for direct spawnflags
// operations and the named-alias idiom, plus plain structural default
// writes at other offsets, entirely at the IL-text level (used for every
// spawn function that has an IL block; the binary is only interpreted when
// no block exists).
func extractHLILEffects(fb *hlil.FunctionBlock, descriptors map[uint32]model.FieldDescriptor) (model.SpawnEvidence, model.Defaults) {
	var sf model.SpawnEvidence
	defaults := make(model.Defaults)
	aliases := make(map[string]bool)

	for _, line := range fb.Lines {
		text := line.Text

		if m := aliasBindRe.FindStringSubmatch(text); m != nil {
			aliases[normalizeAliasName(m[1])] = true
		}

		if m := directSfSetRe.FindStringSubmatch(text); m != nil {
			if v, ok := parseNumeric(m[1]); ok {
				sf.AddAssignment(uint32(v))
			}
		}
		if m := directSfOrRe.FindStringSubmatch(text); m != nil {
			if v, ok := parseNumeric(m[1]); ok {
				sf.AddSet(uint32(v))
			}
		}
		if m := directSfAndRe.FindStringSubmatch(text); m != nil {
			if v, ok := parseNumeric(m[1]); ok {
				applyAndClear(&sf, uint32(v))
			}
		}

		if m := aliasOrRe.FindStringSubmatch(text); m != nil && aliases[normalizeAliasName(m[1])] {
			if v, ok := parseNumeric(m[2]); ok {
				sf.AddSet(uint32(v))
			}
		}
		if m := aliasAndEqRe.FindStringSubmatch(text); m != nil && aliases[normalizeAliasName(m[1])] {
			if v, ok := parseNumeric(m[2]); ok {
				applyAndClear(&sf, uint32(v))
			}
		}
		if m := aliasCheckRe.FindStringSubmatch(text); m != nil && aliases[normalizeAliasName(m[1])] {
			if v, ok := parseNumeric(m[2]); ok {
				sf.AddCheck(uint32(v))
			}
		}

		for _, m := range defaultWriteRe.FindAllStringSubmatch(text, -1) {
			offVal, ok1 := parseNumeric(m[1])
			if !ok1 {
				continue
			}
			off := uint32(offVal)
			if off == model.SpawnflagsOffset {
				continue
			}
			recordHLILDefault(defaults, descriptors, off, m[2])
		}
	}

	return sf, defaults
}

func applyAndClear(sf *model.SpawnEvidence, imm uint32) {
	cleared := ^imm
	if cleared > 0 && cleared < 0xFFFFFFFF {
		sf.AddClear(cleared)
	}
}

func recordHLILDefault(defaults model.Defaults, descriptors map[uint32]model.FieldDescriptor, off uint32, raw string) {
	name := ""
	isFloatField := false
	if off >= 0x100 {
		if d, ok := descriptors[off]; ok {
			name = d.Name
			isFloatField = d.IsFloat32()
		}
	}
	if name == "" {
		name = syntheticOffsetName(off)
	}

	raw = strings.TrimSuffix(raw, "f")
	if strings.Contains(raw, ".") {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return
		}
		defaults[name] = append(defaults[name], model.DefaultValue{Offset: off, FltValue: f, IsFloat: true})
		return
	}

	v, ok := parseNumeric(raw)
	if !ok {
		return
	}
	if isFloatField {
		defaults[name] = append(defaults[name], model.DefaultValue{Offset: off, FltValue: float64(v), IsFloat: true})
		return
	}
	defaults[name] = append(defaults[name], model.DefaultValue{Offset: off, IntValue: v})
}

func syntheticOffsetName(offset uint32) string {
	const digits = "0123456789abcdef"
	if offset == 0 {
		return "offset_0x0"
	}
	var buf []byte
	for offset > 0 {
		buf = append([]byte{digits[offset&0xf]}, buf...)
		offset >>= 4
	}
	return "offset_0x" + string(buf)
}
