// Package x86abstract performs a bounded abstract interpretation of x86-32
// machine code decoded directly from the PE image, tracking self-base
// registers, scalar register constants, XMM scalar constants, and the x87
// stack top, to recover spawnflags bit operations and default-field writes
// without a full decompiler.
package x86abstract

import "golang.org/x/arch/x86/x86asm"

// canon maps any GPR alias (8/16/32-bit) to its canonical 32-bit register,
// e.g. al/ah/ax all canonicalize to eax. Only the registers this engine's
// grammar actually touches are enumerated.
var canon = map[x86asm.Reg]x86asm.Reg{
	x86asm.AL: x86asm.EAX, x86asm.AH: x86asm.EAX, x86asm.AX: x86asm.EAX, x86asm.EAX: x86asm.EAX,
	x86asm.CL: x86asm.ECX, x86asm.CH: x86asm.ECX, x86asm.CX: x86asm.ECX, x86asm.ECX: x86asm.ECX,
	x86asm.DL: x86asm.EDX, x86asm.DH: x86asm.EDX, x86asm.DX: x86asm.EDX, x86asm.EDX: x86asm.EDX,
	x86asm.BL: x86asm.EBX, x86asm.BH: x86asm.EBX, x86asm.BX: x86asm.EBX, x86asm.EBX: x86asm.EBX,
	x86asm.SPB: x86asm.ESP, x86asm.SP: x86asm.ESP, x86asm.ESP: x86asm.ESP,
	x86asm.BPB: x86asm.EBP, x86asm.BP: x86asm.EBP, x86asm.EBP: x86asm.EBP,
	x86asm.SIB: x86asm.ESI, x86asm.SI: x86asm.ESI, x86asm.ESI: x86asm.ESI,
	x86asm.DIB: x86asm.EDI, x86asm.DI: x86asm.EDI, x86asm.EDI: x86asm.EDI,
}

// Canon canonicalizes a GPR of any width to its 32-bit form. Registers
// outside the canon table (XMM, segment, etc.) are returned unchanged.
func Canon(r x86asm.Reg) x86asm.Reg {
	if c, ok := canon[r]; ok {
		return c
	}
	return r
}

// callerSaved is invalidated by every `call`.
var callerSaved = []x86asm.Reg{x86asm.EAX, x86asm.ECX, x86asm.EDX}

func isCallerSaved(r x86asm.Reg) bool {
	for _, c := range callerSaved {
		if r == c {
			return true
		}
	}
	return false
}

func isXMM(r x86asm.Reg) bool {
	return r >= x86asm.X0 && r <= x86asm.X15
}
