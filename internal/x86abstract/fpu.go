package x86abstract

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/kjorg/oblivion-manifest/internal/model"
	"github.com/kjorg/oblivion-manifest/internal/peimage"
)

// stepFld handles `fld [mem]`: when the operand is a bare absolute address
// (no base/index register, as PE32 rodata constants are typically
// referenced), the constant is read straight out of the image; anything
// else pushes an unknown (nil) slot so later fst/fstp effects are skipped
// rather than fabricated.
func stepFld(s *state, img *peimage.Image, inst x86asm.Inst) {
	m, ok := inst.Args[0].(x86asm.Mem)
	if !ok {
		s.fpuPush(nil)
		return
	}
	if m.Base != 0 || m.Index != 0 || img == nil {
		s.fpuPush(nil)
		return
	}

	va := uint32(m.Disp)
	switch memWidth(m, inst) {
	case 4:
		if f, ok := img.ReadFloat32(va); ok {
			v := float64(f)
			s.fpuPush(&v)
			return
		}
	case 8:
		if f, ok := img.ReadFloat64(va); ok {
			s.fpuPush(&f)
			return
		}
	}
	s.fpuPush(nil)
}

func stepFst(s *state, eff *Effects, descriptors map[uint32]model.FieldDescriptor, inst x86asm.Inst, pop bool) {
	m, ok := inst.Args[0].(x86asm.Mem)
	if !ok {
		if pop {
			s.fpuPop()
		}
		return
	}

	top := s.fpuTop()
	if top != nil {
		if off, ok := selfOffset(s, m); ok && off != int64(model.SpawnflagsOffset) {
			recordDefault(eff, descriptors, off, 0, *top, true)
		}
	}
	if pop {
		s.fpuPop()
	}
}
