package x86abstract

import (
	"math"

	"golang.org/x/arch/x86/x86asm"

	"github.com/kjorg/oblivion-manifest/internal/model"
)

func widthMask(bytes int) uint32 {
	switch bytes {
	case 1:
		return 0xFF
	case 2:
		return 0xFFFF
	default:
		return 0xFFFFFFFF
	}
}

// isSelfBaseCandidateMem reports whether a memory operand matches the
// documented self-base discovery patterns: [ebp+>=8] at any point in the
// function, or [esp+N] with 4<=N<=0x80 within the early-function window.
func isSelfBaseCandidateMem(s *state, m x86asm.Mem) bool {
	base := Canon(m.Base)
	if base == x86asm.EBP && m.Disp >= 8 {
		return true
	}
	if base == x86asm.ESP && m.Disp >= 4 && m.Disp <= 0x80 && s.insnIndex <= earlyFunctionWindow {
		return true
	}
	return false
}

func stepMov(s *state, eff *Effects, descriptors map[uint32]model.FieldDescriptor, inst x86asm.Inst) {
	dst, src := inst.Args[0], inst.Args[1]

	switch d := dst.(type) {
	case x86asm.Reg:
		if isXMM(d) {
			return // handled by the dedicated xmm-move opcodes
		}
		dr := Canon(d)
		switch v := src.(type) {
		case x86asm.Imm:
			s.clearReg(dr)
			s.regConstants[dr] = uint32(int64(v))

		case x86asm.Reg:
			sr := Canon(v)
			if off, ok := s.selfBases[sr]; ok {
				s.clearReg(dr)
				s.selfBases[dr] = off
				return
			}
			if c, ok := s.regConstants[sr]; ok {
				s.clearReg(dr)
				s.regConstants[dr] = c
				return
			}
			if s.sfValueRegs[sr] {
				s.clearReg(dr)
				s.sfValueRegs[dr] = true
				return
			}
			s.clearReg(dr)

		case x86asm.Mem:
			if isSelfBaseCandidateMem(s, v) {
				s.clearReg(dr)
				s.selfBases[dr] = 0
				return
			}
			if off, ok := selfOffset(s, v); ok {
				s.clearReg(dr)
				if off == int64(model.SpawnflagsOffset) {
					s.sfValueRegs[dr] = true
				}
				return
			}
			s.clearReg(dr)
		}

	case x86asm.Mem:
		off, ok := selfOffset(s, d)
		if !ok {
			return
		}
		switch v := src.(type) {
		case x86asm.Imm:
			if off == int64(model.SpawnflagsOffset) {
				eff.Spawnflags.AddAssignment(uint32(int64(v)))
				return
			}
			recordDefault(eff, descriptors, off, int64(v), 0, false)

		case x86asm.Reg:
			sr := Canon(v)
			if c, ok := s.regConstants[sr]; ok {
				if off == int64(model.SpawnflagsOffset) {
					eff.Spawnflags.AddAssignment(c)
					return
				}
				recordDefault(eff, descriptors, off, int64(c), 0, false)
			}
		}
	}
}

func stepLea(s *state, inst x86asm.Inst) {
	dst, ok := inst.Args[0].(x86asm.Reg)
	if !ok || isXMM(dst) {
		return
	}
	dr := Canon(dst)
	m, ok := inst.Args[1].(x86asm.Mem)
	if !ok {
		s.clearReg(dr)
		return
	}

	if off, ok := selfOffset(s, m); ok {
		s.clearReg(dr)
		s.selfBases[dr] = off
		return
	}
	if m.Base == 0 && m.Index == 0 {
		s.clearReg(dr)
		s.regConstants[dr] = uint32(m.Disp)
		return
	}
	s.clearReg(dr)
}

func stepAddSub(s *state, inst x86asm.Inst, sign int64) {
	dst, ok := inst.Args[0].(x86asm.Reg)
	if !ok || isXMM(dst) {
		return
	}
	dr := Canon(dst)

	var delta int64
	haveDelta := false
	switch v := inst.Args[1].(type) {
	case x86asm.Imm:
		delta, haveDelta = int64(v), true
	case x86asm.Reg:
		if c, ok := s.regConstants[Canon(v)]; ok {
			delta, haveDelta = int64(c), true
		}
	}
	if !haveDelta {
		s.clearReg(dr)
		return
	}
	delta *= sign

	if off, ok := s.selfBases[dr]; ok {
		s.selfBases[dr] = off + delta
	}
	if c, ok := s.regConstants[dr]; ok {
		s.regConstants[dr] = uint32(int64(c) + delta)
	} else if _, isSelf := s.selfBases[dr]; !isSelf {
		// Neither a known self-base nor a known constant: nothing to
		// track forward, but don't clear a self-base we just updated.
	}
}

// stepXorSelf handles the `xor reg, reg` self-zero idiom for the GPR
// constant tracker.
func stepXorSelf(s *state, inst x86asm.Inst) {
	dst, ok1 := inst.Args[0].(x86asm.Reg)
	src, ok2 := inst.Args[1].(x86asm.Reg)
	if !ok1 || !ok2 {
		return
	}
	if isXMM(dst) {
		return
	}
	dr, sr := Canon(dst), Canon(src)
	if dr == sr {
		s.clearReg(dr)
		s.regConstants[dr] = 0
		return
	}
	s.clearReg(dr)
}

func stepAnd(s *state, eff *Effects, inst x86asm.Inst) {
	dst := inst.Args[0]
	imm, ok := inst.Args[1].(x86asm.Imm)
	if !ok {
		return
	}

	m, ok := dst.(x86asm.Mem)
	if !ok {
		return
	}
	off, ok := selfOffset(s, m)
	if !ok || off != int64(model.SpawnflagsOffset) {
		return
	}

	mask := widthMask(memWidth(m, inst))
	cleared := (^uint32(int64(imm))) & mask
	if cleared > 0 && cleared < mask {
		eff.Spawnflags.AddClear(cleared)
	}
}

func stepOr(s *state, eff *Effects, inst x86asm.Inst) {
	m, ok := inst.Args[0].(x86asm.Mem)
	if !ok {
		return
	}
	imm, ok := inst.Args[1].(x86asm.Imm)
	if !ok {
		return
	}
	off, ok := selfOffset(s, m)
	if !ok || off != int64(model.SpawnflagsOffset) {
		return
	}
	eff.Spawnflags.AddSet(uint32(int64(imm)))
}

func stepTest(s *state, eff *Effects, inst x86asm.Inst) {
	imm, ok := inst.Args[1].(x86asm.Imm)
	if !ok {
		return
	}

	switch d := inst.Args[0].(type) {
	case x86asm.Mem:
		if off, ok := selfOffset(s, d); ok && off == int64(model.SpawnflagsOffset) {
			eff.Spawnflags.AddCheck(uint32(int64(imm)))
		}
	case x86asm.Reg:
		if s.sfValueRegs[Canon(d)] {
			eff.Spawnflags.AddCheck(uint32(int64(imm)))
		}
	}
}

func memWidth(m x86asm.Mem, inst x86asm.Inst) int {
	if inst.MemBytes > 0 {
		return inst.MemBytes
	}
	return 4
}

func stepXmmMove(s *state, eff *Effects, descriptors map[uint32]model.FieldDescriptor, inst x86asm.Inst, width int) {
	dst, src := inst.Args[0], inst.Args[1]

	switch d := dst.(type) {
	case x86asm.Reg: // load into xmm, or gpr<-xmm for movd/movq round-trip
		if isXMM(d) {
			switch v := src.(type) {
			case x86asm.Reg:
				if isXMM(v) {
					if c, ok := s.xmmConstants[v]; ok {
						s.xmmConstants[d] = c
					} else {
						s.clearXMM(d)
					}
					return
				}
				if c, ok := s.regConstants[Canon(v)]; ok {
					s.xmmConstants[d] = XmmConst{Float: float64(math.Float32frombits(c)), Width: width, HasFP: false}
					return
				}
				s.clearXMM(d)
			case x86asm.Mem:
				s.clearXMM(d)
			}
			return
		}
		// dst is a GPR receiving an xmm value (movd xmm->gpr).
		if v, ok := src.(x86asm.Reg); ok && isXMM(v) {
			if c, ok := s.xmmConstants[v]; ok {
				s.regConstants[Canon(d)] = math.Float32bits(float32(c.Float))
			} else {
				s.clearReg(Canon(d))
			}
		}

	case x86asm.Mem:
		if v, ok := src.(x86asm.Reg); ok && isXMM(v) {
			off, ok := selfOffset(s, d)
			if !ok {
				return
			}
			c, known := s.xmmConstants[v]
			if !known {
				return
			}
			recordDefault(eff, descriptors, off, 0, c.Float, true)
		}
	}
}

func stepXorXmmSelf(s *state, inst x86asm.Inst, width int) {
	dst, ok1 := inst.Args[0].(x86asm.Reg)
	src, ok2 := inst.Args[1].(x86asm.Reg)
	if !ok1 || !ok2 || !isXMM(dst) || !isXMM(src) {
		return
	}
	if dst == src {
		s.xmmConstants[dst] = XmmConst{Float: 0, Width: width, HasFP: true}
		return
	}
	s.clearXMM(dst)
}

func stepCvtSI2Float(s *state, inst x86asm.Inst, width int) {
	dst, ok := inst.Args[0].(x86asm.Reg)
	if !ok || !isXMM(dst) {
		return
	}
	var val int64
	have := false
	switch v := inst.Args[1].(type) {
	case x86asm.Reg:
		if c, ok := s.regConstants[Canon(v)]; ok {
			val, have = int64(int32(c)), true
		}
	}
	if !have {
		s.clearXMM(dst)
		return
	}
	s.xmmConstants[dst] = XmmConst{Float: float64(val), Width: width, HasFP: true}
}

func stepCvtFloatWidth(s *state, inst x86asm.Inst, width int) {
	dst, ok := inst.Args[0].(x86asm.Reg)
	if !ok || !isXMM(dst) {
		return
	}
	src, ok := inst.Args[1].(x86asm.Reg)
	if !ok || !isXMM(src) {
		s.clearXMM(dst)
		return
	}
	c, ok := s.xmmConstants[src]
	if !ok {
		s.clearXMM(dst)
		return
	}
	s.xmmConstants[dst] = XmmConst{Float: c.Float, Width: width, HasFP: true}
}

func stepCvtFloat2SI(s *state, inst x86asm.Inst) {
	dst, ok := inst.Args[0].(x86asm.Reg)
	if !ok || isXMM(dst) {
		return
	}
	src, ok := inst.Args[1].(x86asm.Reg)
	if !ok || !isXMM(src) {
		s.clearReg(Canon(dst))
		return
	}
	c, ok := s.xmmConstants[src]
	if !ok {
		s.clearReg(Canon(dst))
		return
	}
	s.regConstants[Canon(dst)] = uint32(int32(c.Float))
}
