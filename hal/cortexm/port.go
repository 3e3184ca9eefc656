//go:build tinygo && cortexm

// Package cortexm is the kernel port for ARMv7-M cores built with TinyGo.
//
// The switch exception is PendSV, set to the lowest exception priority;
// its handler lives in pendsv.c. The tick is SysTick. Every thread runs in
// thread mode on the main stack pointer. Floating point context is not
// saved, so threads must not use the FPU.
//
// Build with -scheduler=none: the port owns SysTick and PendSV.
package cortexm

import (
	"device/arm"
	"runtime/volatile"
	"unsafe"

	"ember/kernel"
)

// #include <stdint.h>
import "C"

// System control block registers used by the port.
type scbRegs struct {
	CPUID volatile.Register32
	ICSR  volatile.Register32
	VTOR  volatile.Register32
	AIRCR volatile.Register32
	SCR   volatile.Register32
	CCR   volatile.Register32
	SHPR1 volatile.Register32
	SHPR2 volatile.Register32
	SHPR3 volatile.Register32
}

type systRegs struct {
	CSR   volatile.Register32
	RVR   volatile.Register32
	CVR   volatile.Register32
	CALIB volatile.Register32
}

var (
	scb   = (*scbRegs)(unsafe.Pointer(uintptr(0xE000ED00)))
	syst  = (*systRegs)(unsafe.Pointer(uintptr(0xE000E010)))
	fpccr = (*volatile.Register32)(unsafe.Pointer(uintptr(0xE000EF34)))
)

const (
	icsrPENDSVSET = 1 << 28

	shpr3PendSVLowest  = 0xFF << 16
	shpr3SysTickNormal = 0x80 << 24

	csrENABLE    = 1 << 0
	csrTICKINT   = 1 << 1
	csrCLKSOURCE = 1 << 2

	fpccrASPEN = 1 << 31
	fpccrLSPEN = 1 << 30

	maxReload = 0x00FFFFFF
)

// Port implements kernel.Port on the running core. There is one core, so
// there is one Port; use Default.
type Port struct {
	tick func(v kernel.Vectors)
}

// Default is the core's port.
var Default = &Port{}

// vectors is read by the exported exception entry points.
var vectors kernel.Vectors

func (p *Port) DisableInterrupts() uintptr { return arm.DisableInterrupts() }

func (p *Port) RestoreInterrupts(state uintptr) { arm.EnableInterrupts(state) }

func (p *Port) PendSwitch() { scb.ICSR.Set(icsrPENDSVSET) }

// ConfigureSwitch moves PendSV to the lowest priority, keeps SysTick
// above it, and turns off automatic FP state stacking so every exception
// frame has the basic eight-word layout.
func (p *Port) ConfigureSwitch() {
	scb.SHPR3.SetBits(shpr3PendSVLowest)
	scb.SHPR3.ReplaceBits(shpr3SysTickNormal>>24, 0xFF, 24)
	fpccr.ClearBits(fpccrASPEN | fpccrLSPEN)
}

func (p *Port) WaitForInterrupt() { arm.Asm("wfi") }

// funcValue is the layout of a func value: the closure context, then the
// code pointer. A func() receives its context in R0.
type funcValue struct {
	context uintptr
	fn      uintptr
}

func (p *Port) EntryAddress(fn func()) (pc, arg uint32) {
	fv := (*funcValue)(unsafe.Pointer(&fn))
	return uint32(fv.fn), uint32(fv.context)
}

func (p *Port) StackRegion(words []uint32) kernel.Stack {
	if len(words) == 0 {
		return kernel.Stack{}
	}
	return kernel.Stack{
		Base:  uint32(uintptr(unsafe.Pointer(&words[0]))),
		Words: words,
	}
}

func (p *Port) Install(v kernel.Vectors) { vectors = v }

// SetTickHandler replaces the SysTick handler body. The handler must call
// v.OnTick.
func (p *Port) SetTickHandler(isr func(v kernel.Vectors)) { p.tick = isr }

// StartTick arms SysTick at hz from the processor clock.
func (p *Port) StartTick(cpuHz, hz uint32) bool {
	if hz == 0 {
		return false
	}
	reload := cpuHz/hz - 1
	if reload == 0 || reload > maxReload {
		return false
	}
	syst.CSR.Set(0)
	syst.RVR.Set(reload)
	syst.CVR.Set(0)
	syst.CSR.Set(csrCLKSOURCE | csrTICKINT | csrENABLE)
	return true
}

//export ember_switch_context
func switchContext(sp uintptr) uintptr {
	return vectors.SwitchContext(sp)
}

//export ember_tick
func tick() {
	if Default.tick != nil {
		Default.tick(vectors)
		return
	}
	vectors.OnTick()
}
