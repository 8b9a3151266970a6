package ipc

import "github.com/mkcore-project/mkcore/internal/kerrors"

// Opcode is an IRQ code program instruction: a closed vocabulary
// validated once at registration time and dispatched by a flat switch
// in Execute — a small fixed set of numeric operation codes, no
// open-ended extension point.
type Opcode uint8

const (
	OpPioRead8 Opcode = iota
	OpPioRead16
	OpPioRead32
	OpPioWrite8
	OpPioWrite16
	OpPioWrite32
	OpPioWriteA8
	OpPioWriteA16
	OpPioWriteA32
	OpMemRead8
	OpMemRead16
	OpMemRead32
	OpMemWrite8
	OpMemWrite16
	OpMemWrite32
	OpMemWriteA8
	OpMemWriteA16
	OpMemWriteA32
	OpBTest
	OpPredicate
	OpAccept
	OpDecline

	opcodeCount
)

// RegCount is the size of an IRQ program's scratch register file
// ("a fixed-size register file of named scratch arguments").
const RegCount = 8

// Instruction is one IRQ program command. Only the fields relevant to
// Op are read by Execute; the rest are zero.
type Instruction struct {
	Op Opcode

	// Addr is the I/O or memory address for *_READ_*/*_WRITE_* ops.
	Addr uint64
	// Imm is the immediate value for PIO_WRITE_*/MEM_WRITE_*.
	Imm uint64
	// DstReg receives the result of a *_READ_* or BTEST op.
	DstReg int
	// SrcReg supplies the value for *_WRITE_A_* or BTEST.
	SrcReg int
	// Mask is BTEST's bitmask.
	Mask uint64
	// PredicateReg is PREDICATE's test register.
	PredicateReg int
	// Skip is PREDICATE's forward-only skip count.
	Skip int
}

// Program is a validated IRQ code program: a bounded, loop-free
// sequence of instructions executed in interrupt context.
type Program struct {
	Instructions []Instruction
}

// PortIO is the I/O-port half of the interrupt-context environment an
// IRQ program runs against.
type PortIO interface {
	ReadPort(addr uint64, width int) (uint64, error)
	WritePort(addr uint64, width int, val uint64) error
}

// MemIO is the memory-mapped-register half of the interrupt-context
// environment an IRQ program runs against.
type MemIO interface {
	ReadMem(addr uint64, width int) (uint64, error)
	WriteMem(addr uint64, width int, val uint64) error
}

func widthOf(op Opcode) int {
	switch op {
	case OpPioRead8, OpPioWrite8, OpPioWriteA8, OpMemRead8, OpMemWrite8, OpMemWriteA8:
		return 1
	case OpPioRead16, OpPioWrite16, OpPioWriteA16, OpMemRead16, OpMemWrite16, OpMemWriteA16:
		return 2
	default:
		return 4
	}
}

// ValidateProgram checks opcode validity and register-file bounds once,
// at registration time, rather than on every dispatch.
func ValidateProgram(p *Program) error {
	if len(p.Instructions) == 0 {
		return kerrors.New("ipc_register_irq", kerrors.ErrCodeInvalidArgument, "empty IRQ program")
	}
	hasAccept := false
	for i, ins := range p.Instructions {
		if ins.Op >= opcodeCount {
			return kerrors.New("ipc_register_irq", kerrors.ErrCodeInvalidArgument, "unknown opcode")
		}
		if ins.DstReg < 0 || ins.DstReg >= RegCount || ins.SrcReg < 0 || ins.SrcReg >= RegCount || ins.PredicateReg < 0 || ins.PredicateReg >= RegCount {
			return kerrors.New("ipc_register_irq", kerrors.ErrCodeInvalidArgument, "register index out of range")
		}
		if ins.Op == OpPredicate && (ins.Skip < 0 || i+1+ins.Skip > len(p.Instructions)) {
			return kerrors.New("ipc_register_irq", kerrors.ErrCodeInvalidArgument, "predicate skip out of range")
		}
		if ins.Op == OpAccept {
			hasAccept = true
		}
	}
	if !hasAccept {
		return kerrors.New("ipc_register_irq", kerrors.ErrCodeInvalidArgument, "program can never ACCEPT")
	}
	return nil
}

// Execute runs p to completion in a single, loop-free pass: execution
// is bounded in time, so it is safe to run from interrupt context. It
// returns accepted=true and the populated register file
// if an ACCEPT was reached, or accepted=false if the program declined
// or ran off the end without accepting.
func Execute(p *Program, pio PortIO, mem MemIO) (regs [RegCount]uint64, accepted bool, err error) {
	for i := 0; i < len(p.Instructions); i++ {
		ins := p.Instructions[i]
		width := widthOf(ins.Op)
		switch ins.Op {
		case OpPioRead8, OpPioRead16, OpPioRead32:
			v, e := pio.ReadPort(ins.Addr, width)
			if e != nil {
				return regs, false, e
			}
			regs[ins.DstReg] = v
		case OpPioWrite8, OpPioWrite16, OpPioWrite32:
			if e := pio.WritePort(ins.Addr, width, ins.Imm); e != nil {
				return regs, false, e
			}
		case OpPioWriteA8, OpPioWriteA16, OpPioWriteA32:
			if e := pio.WritePort(ins.Addr, width, regs[ins.SrcReg]); e != nil {
				return regs, false, e
			}
		case OpMemRead8, OpMemRead16, OpMemRead32:
			v, e := mem.ReadMem(ins.Addr, width)
			if e != nil {
				return regs, false, e
			}
			regs[ins.DstReg] = v
		case OpMemWrite8, OpMemWrite16, OpMemWrite32:
			if e := mem.WriteMem(ins.Addr, width, ins.Imm); e != nil {
				return regs, false, e
			}
		case OpMemWriteA8, OpMemWriteA16, OpMemWriteA32:
			if e := mem.WriteMem(ins.Addr, width, regs[ins.SrcReg]); e != nil {
				return regs, false, e
			}
		case OpBTest:
			regs[ins.DstReg] = regs[ins.SrcReg] & ins.Mask
		case OpPredicate:
			if regs[ins.PredicateReg] == 0 {
				i += ins.Skip
			}
		case OpAccept:
			return regs, true, nil
		case OpDecline:
			return regs, false, nil
		}
	}
	return regs, false, nil
}
