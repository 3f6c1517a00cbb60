package x86abstract

import "golang.org/x/arch/x86/x86asm"

// XmmConst is a tracked XMM scalar value: a float of the given width. When
// the value arrived as an untyped integer transfer (e.g. movd from a GPR),
// HasFP is false and Float is the float32 those raw 32 bits encode, so the
// bits are recovered unchanged on a move back to a GPR.
type XmmConst struct {
	Float   float64
	Width   int // 32 or 64
	HasFP   bool
}

// state is the interpreter's three-state tracker: self-base registers,
// scalar register constants, XMM scalar constants, and the x87 stack top.
// sfValueRegs additionally tracks which GPRs currently hold a copy of the
// spawnflags field's value, for the `test reg, imm` check-flag pattern.
type state struct {
	selfBases    map[x86asm.Reg]int64
	regConstants map[x86asm.Reg]uint32
	xmmConstants map[x86asm.Reg]XmmConst
	sfValueRegs  map[x86asm.Reg]bool
	fpuStack     []*float64
	insnIndex    int
}

func newState() *state {
	return &state{
		selfBases:    make(map[x86asm.Reg]int64),
		regConstants: make(map[x86asm.Reg]uint32),
		xmmConstants: make(map[x86asm.Reg]XmmConst),
		sfValueRegs:  make(map[x86asm.Reg]bool),
	}
}

// clearReg drops every kind of tracked state for a GPR; called whenever a
// register is overwritten by something this interpreter can't model.
func (s *state) clearReg(r x86asm.Reg) {
	r = Canon(r)
	delete(s.selfBases, r)
	delete(s.regConstants, r)
	delete(s.sfValueRegs, r)
}

func (s *state) clearXMM(r x86asm.Reg) {
	delete(s.xmmConstants, r)
}

// onCall invalidates caller-saved GPRs, all XMM constants, and the FPU
// stack, but preserves frame-based self-bases held in callee-saved GPRs.
func (s *state) onCall() {
	for _, r := range callerSaved {
		s.clearReg(r)
	}
	s.xmmConstants = make(map[x86asm.Reg]XmmConst)
	s.fpuStack = nil
}

// onRet resets all tracking, matching the documented function-boundary
// behavior: every self-base, constant, and stack slot is scoped to a
// single function's interpretation pass.
func (s *state) onRet() {
	s.selfBases = make(map[x86asm.Reg]int64)
	s.regConstants = make(map[x86asm.Reg]uint32)
	s.xmmConstants = make(map[x86asm.Reg]XmmConst)
	s.sfValueRegs = make(map[x86asm.Reg]bool)
	s.fpuStack = nil
}

func (s *state) fpuPush(v *float64) {
	s.fpuStack = append(s.fpuStack, v)
}

func (s *state) fpuTop() *float64 {
	if len(s.fpuStack) == 0 {
		return nil
	}
	return s.fpuStack[len(s.fpuStack)-1]
}

func (s *state) fpuPop() {
	if len(s.fpuStack) > 0 {
		s.fpuStack = s.fpuStack[:len(s.fpuStack)-1]
	}
}
