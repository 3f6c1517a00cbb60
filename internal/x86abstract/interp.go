package x86abstract

import (
	"math"

	"golang.org/x/arch/x86/x86asm"

	"github.com/kjorg/oblivion-manifest/internal/model"
	"github.com/kjorg/oblivion-manifest/internal/peimage"
)

// maxWindow bounds how far past a function start the interpreter decodes,
// mirroring the external-disassembler window the original engine passed to
// its objdump-like tool.
const maxWindow = 0x400

// earlyFunctionWindow is how many instructions from function entry the
// [esp+N] self-base heuristic is allowed to fire in.
const earlyFunctionWindow = 80

// Effects accumulates everything one function's interpretation pass
// recovers: spawnflags bit operations and structural default-field writes.
type Effects struct {
	Spawnflags model.SpawnEvidence
	Defaults   model.Defaults
}

// Interpret decodes x86-32 instructions starting at startVA, bounded by
// min(maxWindow, nextFuncVA-startVA) bytes (nextFuncVA == 0 means "unknown,
// use maxWindow"), and returns the spawnflags and default-field effects
// observed. Decode failures stop the pass early and return whatever was
// accumulated, rather than failing the whole run.
func Interpret(img *peimage.Image, startVA, nextFuncVA uint32, descriptors map[uint32]model.FieldDescriptor) Effects {
	eff := Effects{Defaults: make(model.Defaults)}

	window := uint32(maxWindow)
	if nextFuncVA > startVA {
		if d := nextFuncVA - startVA; d < window {
			window = d
		}
	}

	code, ok := img.ReadBytes(startVA, window)
	if !ok {
		// Fall back to whatever is actually readable to the end of the image.
		for w := window; w > 0; w /= 2 {
			if c, ok2 := img.ReadBytes(startVA, w); ok2 {
				code, ok = c, true
				break
			}
		}
		if !ok {
			return eff
		}
	}

	s := newState()
	pos := 0

	for pos < len(code) {
		inst, err := x86asm.Decode(code[pos:], 32)
		if err != nil || inst.Len == 0 {
			break
		}
		s.insnIndex++
		step(s, img, descriptors, &eff, inst)
		pos += inst.Len
	}

	return eff
}

func step(s *state, img *peimage.Image, descriptors map[uint32]model.FieldDescriptor, eff *Effects, inst x86asm.Inst) {
	switch inst.Op {
	case x86asm.MOV:
		stepMov(s, eff, descriptors, inst)
	case x86asm.LEA:
		stepLea(s, inst)
	case x86asm.ADD:
		stepAddSub(s, inst, +1)
	case x86asm.SUB:
		stepAddSub(s, inst, -1)
	case x86asm.XOR:
		stepXorSelf(s, inst)
	case x86asm.AND:
		stepAnd(s, eff, inst)
	case x86asm.OR:
		stepOr(s, eff, inst)
	case x86asm.TEST:
		stepTest(s, eff, inst)
	case x86asm.CMP:
		// Tracked only so callers relying on flags aren't confused; no
		// state changes, CMP never writes a destination.
	case x86asm.CALL:
		s.onCall()
	case x86asm.RET:
		s.onRet()

	case x86asm.MOVSS, x86asm.MOVD:
		stepXmmMove(s, eff, descriptors, inst, 32)
	case x86asm.MOVSD, x86asm.MOVQ:
		stepXmmMove(s, eff, descriptors, inst, 64)
	case x86asm.MOVDQA, x86asm.MOVDQU:
		stepXmmMove(s, eff, descriptors, inst, 64)

	case x86asm.XORPS:
		stepXorXmmSelf(s, inst, 32)
	case x86asm.XORPD, x86asm.PXOR:
		stepXorXmmSelf(s, inst, 64)

	case x86asm.CVTSI2SS:
		stepCvtSI2Float(s, inst, 32)
	case x86asm.CVTSI2SD:
		stepCvtSI2Float(s, inst, 64)
	case x86asm.CVTSS2SD:
		stepCvtFloatWidth(s, inst, 64)
	case x86asm.CVTSD2SS:
		stepCvtFloatWidth(s, inst, 32)
	case x86asm.CVTPS2PD:
		stepCvtFloatWidth(s, inst, 64)
	case x86asm.CVTPD2PS:
		stepCvtFloatWidth(s, inst, 32)
	case x86asm.CVTTSS2SI, x86asm.CVTSS2SI, x86asm.CVTTSD2SI, x86asm.CVTSD2SI:
		stepCvtFloat2SI(s, inst)

	case x86asm.FLD1:
		v := 1.0
		s.fpuPush(&v)
	case x86asm.FLDZ:
		v := 0.0
		s.fpuPush(&v)
	case x86asm.FLD:
		stepFld(s, img, inst)
	case x86asm.FST:
		stepFst(s, eff, descriptors, inst, false)
	case x86asm.FSTP:
		stepFst(s, eff, descriptors, inst, true)

	default:
		// Any other opcode that writes a GPR destination we track
		// invalidates it, since its effect is otherwise unmodeled.
		if len(inst.Args) > 0 {
			if r, ok := inst.Args[0].(x86asm.Reg); ok && !isXMM(r) {
				s.clearReg(r)
			}
		}
	}
}

// selfOffset computes the entity-structure offset a memory operand
// resolves to, per the documented grammar: base_value + index*scale + disp,
// computed only when base is a known self-base and (if present) index is a
// known constant.
func selfOffset(s *state, m x86asm.Mem) (int64, bool) {
	if m.Base == 0 {
		return 0, false
	}
	base, ok := s.selfBases[Canon(m.Base)]
	if !ok {
		return 0, false
	}
	off := base + m.Disp
	if m.Index != 0 {
		idx, ok := s.regConstants[Canon(m.Index)]
		if !ok {
			return 0, false
		}
		off += int64(idx) * int64(m.Scale)
	}
	return off, true
}

func recordDefault(eff *Effects, descriptors map[uint32]model.FieldDescriptor, offset int64, intVal int64, fltVal float64, isFloat bool) {
	if offset < 0 {
		return
	}
	uoff := uint32(offset)

	name := ""
	if uoff >= 0x100 {
		if d, ok := descriptors[uoff]; ok {
			name = d.Name
			if d.IsFloat32() && !isFloat {
				fltVal = float64(math.Float32frombits(uint32(intVal)))
				isFloat = true
			}
		}
	}
	if name == "" {
		name = syntheticFieldName(uoff)
	}

	dv := model.DefaultValue{Offset: uoff, IntValue: intVal, FltValue: fltVal, IsFloat: isFloat}
	eff.Defaults[name] = append(eff.Defaults[name], dv)
}

func syntheticFieldName(offset uint32) string {
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
