package kernel

import (
	"errors"
	"fmt"
)

// Context is the machine image a thread resumes from, lowest address
// first. The first eight words are the callee-saved registers the switch
// handler pops itself; the last eight are the frame the processor pops on
// exception return. The layout is fixed: it is what a Cortex-M core
// without an active FPU context expects to find at the stack pointer.
type Context [ContextWords]uint32

// Word offsets inside a Context.
const (
	OffR4 = iota
	OffR5
	OffR6
	OffR7
	OffR8
	OffR9
	OffR10
	OffR11
	OffR0
	OffR1
	OffR2
	OffR3
	OffR12
	OffLR
	OffPC
	OffPSR

	ContextWords
)

// SoftwareFrameWords is the number of words the switch handler pushes.
const SoftwareFrameWords = OffR0

const (
	// PSRThumb is the xPSR execution state bit. It is the only bit set in
	// a fabricated frame.
	PSRThumb uint32 = 1 << 24

	// SentinelLR is the return address of a fabricated frame. Thread entry
	// functions never return; if one does, it faults here.
	SentinelLR uint32 = 0x0000000E

	// PoisonWord fills unused stack below a fabricated frame.
	PoisonWord uint32 = 0xFACEB00C

	stackAlign = 8
)

var (
	ErrStackTooSmall = errors.New("kernel: stack region too small for initial frame")
	ErrStackAddress  = errors.New("kernel: address outside stack region")
)

// InitialContext returns the image a thread starting at entry resumes
// from. Scratch registers hold their own register number so a fabricated
// frame is recognisable in a memory dump. R0 is the exception: it carries
// arg, as returned by the port's EntryAddress, so a dump shows the entry
// argument there rather than a sentinel.
func InitialContext(entry, arg uint32) Context {
	var c Context
	for r := uint32(4); r <= 11; r++ {
		c[OffR4+int(r-4)] = r
	}
	c[OffR0] = arg
	c[OffR1] = 0x1
	c[OffR2] = 0x2
	c[OffR3] = 0x3
	c[OffR12] = 0xC
	c[OffLR] = SentinelLR
	c[OffPC] = entry &^ 1
	c[OffPSR] = PSRThumb
	return c
}

// Stack is a thread stack: a word buffer and the machine address of its
// first word. Stacks grow down from the end of the buffer.
type Stack struct {
	Base  uint32
	Words []uint32
}

// top is the initial stack pointer: the end of the region rounded down
// to an 8-byte boundary.
func (s Stack) top() uint32 {
	return (s.Base + uint32(len(s.Words))*4) &^ (stackAlign - 1)
}

// limit is the start of the region rounded up to an 8-byte boundary.
func (s Stack) limit() uint32 {
	return (s.Base + stackAlign - 1) &^ (stackAlign - 1)
}

// Contains reports whether the word at addr lies inside s.
func (s Stack) Contains(addr uint32) bool {
	return addr >= s.Base && addr-s.Base < uint32(len(s.Words))*4 && addr%4 == 0
}

func (s Stack) index(addr uint32) (int, error) {
	if !s.Contains(addr) {
		return 0, fmt.Errorf("%w: %#08x not in [%#08x, %#08x)", ErrStackAddress, addr, s.Base, s.Base+uint32(len(s.Words))*4)
	}
	return int((addr - s.Base) / 4), nil
}

// Install writes c at the top of s, fills the rest of the region with
// PoisonWord and returns the stack pointer a switch handler resumes from.
func (s Stack) Install(c Context) (uint32, error) {
	top := s.top()
	need := uint32(ContextWords * 4)
	if top < s.limit() || top-s.limit() < need {
		return 0, fmt.Errorf("%w: %d words", ErrStackTooSmall, len(s.Words))
	}
	sp := top - need
	base, err := s.index(sp)
	if err != nil {
		return 0, err
	}
	copy(s.Words[base:base+ContextWords], c[:])

	lo := int((s.limit() - s.Base) / 4)
	for i := lo; i < base; i++ {
		s.Words[i] = PoisonWord
	}
	return sp, nil
}

// ReadContext decodes the image stored at sp.
func (s Stack) ReadContext(sp uint32) (Context, error) {
	var c Context
	i, err := s.index(sp)
	if err != nil {
		return c, err
	}
	if i+ContextWords > len(s.Words) {
		return c, fmt.Errorf("%w: frame at %#08x runs past the region", ErrStackAddress, sp)
	}
	copy(c[:], s.Words[i:i+ContextWords])
	return c, nil
}

// HighWater reports how many words, counted down from the top of the
// region, no longer hold PoisonWord. It is an estimate: a thread that
// happens to store the poison value itself is under-counted.
func (s Stack) HighWater() int {
	lo, err := s.index(s.limit())
	if err != nil {
		return len(s.Words)
	}
	for i := lo; i < len(s.Words); i++ {
		if s.Words[i] != PoisonWord {
			return len(s.Words) - i
		}
	}
	return 0
}
