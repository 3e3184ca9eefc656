//go:build !tinygo

package hal

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"

	"ember/kernel"
)

var (
	ErrCoreFault = errors.New("hostcpu: core fault")
	ErrUnmapped  = errors.New("hostcpu: unmapped memory access")
)

// Exception levels, least urgent first. Thread mode is 0. A switch
// exception left at its reset priority outranks the tick.
const (
	levelThread      = 0
	levelSwitch      = 1
	levelTick        = 2
	levelSwitchReset = 3
)

const (
	sramBase    uint32 = 0x2000_0000
	flashBase   uint32 = 0x0800_0100
	flashStride uint32 = 0x40
	tokenBase   uint32 = 0x1000_0000
	guardBytes  uint32 = 0x100

	mainStackWords = 256

	excReturnHandler uint32 = 0xFFFFFFF1
	excReturnThread  uint32 = 0xFFFFFFF9
)

// Word offsets in the hardware-stacked frame.
const (
	hwR0  = kernel.OffR0 - kernel.SoftwareFrameWords
	hwR12 = kernel.OffR12 - kernel.SoftwareFrameWords
	hwLR  = kernel.OffLR - kernel.SoftwareFrameWords
	hwPC  = kernel.OffPC - kernel.SoftwareFrameWords
	hwPSR = kernel.OffPSR - kernel.SoftwareFrameWords

	hwFrameWords = kernel.ContextWords - kernel.SoftwareFrameWords
)

// HostCPU simulates the parts of a single Cortex-M core the kernel relies
// on: PRIMASK, the deferred switch and tick exceptions, exception entry and
// return on stack memory, and WFI.
//
// Every kernel thread runs on its own goroutine, but exactly one goroutine
// owns the core at a time. Exceptions are taken at instruction boundaries:
// whenever interrupts are unmasked, on Step, and in WaitForInterrupt. An
// exception return that lands on another thread's frame hands the core to
// that thread's goroutine and parks the current one.
//
// Faults halt the core; Err reports why. After the core halts, any
// goroutine that reaches an instruction boundary exits. Join waits for
// all of them.
type HostCPU struct {
	vectors kernel.Vectors
	tickISR func(kernel.Vectors)

	// Core state, touched only by the goroutine that owns the core.
	regs          [13]uint32
	lr            uint32
	psr           uint32
	sp            uint32
	primask       bool
	level         int
	switchLevel   int
	switchPending bool

	running   *hostContext
	reset     *hostContext
	parked    map[uint32]*hostContext
	nextToken uint32
	contexts  int

	regions []memRegion
	brk     uint32

	code   map[uintptr]uint32
	codeAt map[uint32]uintptr
	funcs  []func()

	tickPending atomic.Bool
	tickc       chan struct{}
	idle        chan struct{}

	wg       sync.WaitGroup
	halted   chan struct{}
	haltOnce sync.Once
	errMu    sync.Mutex
	err      error
}

type hostContext struct {
	id   int
	wake chan struct{}
}

type memRegion struct {
	base  uint32
	words []uint32
}

// NewHostCPU returns a core in thread mode, running on its main stack,
// with interrupts enabled.
func NewHostCPU() *HostCPU {
	c := &HostCPU{
		tickISR:     func(v kernel.Vectors) { v.OnTick() },
		psr:         kernel.PSRThumb,
		switchLevel: levelSwitchReset,
		parked:      make(map[uint32]*hostContext),
		nextToken:   tokenBase,
		brk:         sramBase,
		code:        make(map[uintptr]uint32),
		codeAt:      make(map[uint32]uintptr),
		tickc:       make(chan struct{}, 1),
		idle:        make(chan struct{}, 1),
		halted:      make(chan struct{}),
	}
	c.reset = c.newContext()
	c.running = c.reset

	main := make([]uint32, mainStackWords)
	c.sp = c.mapRegion(main) + uint32(len(main))*4
	return c
}

// SetTickHandler replaces the tick exception handler. The handler must
// call v.OnTick.
func (c *HostCPU) SetTickHandler(isr func(v kernel.Vectors)) { c.tickISR = isr }

// Boot runs reset on a new goroutine that owns the core. It returns
// immediately.
func (c *HostCPU) Boot(reset func()) {
	c.wg.Add(1)
	go c.runContext(reset)
}

// RaiseTick sets the tick exception pending. It is safe to call from any
// goroutine. Ticks raised while one is already pending are lost.
func (c *HostCPU) RaiseTick() {
	c.tickPending.Store(true)
	select {
	case c.tickc <- struct{}{}:
	default:
	}
}

// Idle receives a value each time the core goes to sleep in
// WaitForInterrupt with nothing pending.
func (c *HostCPU) Idle() <-chan struct{} { return c.idle }

// Halted is closed when the core stops.
func (c *HostCPU) Halted() <-chan struct{} { return c.halted }

// Err returns the fault that halted the core, or nil.
func (c *HostCPU) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Stop halts the core without a fault.
func (c *HostCPU) Stop() { c.halt(nil) }

// Wait blocks until the core halts or ctx is done.
func (c *HostCPU) Wait(ctx context.Context) error {
	select {
	case <-c.halted:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join blocks until the core has halted and every goroutine that ran on it
// has exited. Core state may be read freely once Join returns.
func (c *HostCPU) Join() {
	<-c.halted
	c.wg.Wait()
}

// Reg returns register n: R0..R12, 13 for SP, 14 for LR. Only the
// goroutine that owns the core may call it.
func (c *HostCPU) Reg(n int) uint32 {
	switch {
	case n >= 0 && n < len(c.regs):
		return c.regs[n]
	case n == 13:
		return c.sp
	case n == 14:
		return c.lr
	}
	return 0
}

// SetReg writes R0..R12. Only the goroutine that owns the core may call it.
func (c *HostCPU) SetReg(n int, v uint32) {
	if n >= 0 && n < len(c.regs) {
		c.regs[n] = v
	}
}

// Push stores v below SP the way a PUSH instruction does. Only the
// goroutine that owns the core may call it.
func (c *HostCPU) Push(v uint32) {
	c.sp -= 4
	c.store(c.sp, v)
}

// Step marks an instruction boundary.
func (c *HostCPU) Step() { c.boundary() }

func (c *HostCPU) DisableInterrupts() uintptr {
	prev := c.primask
	c.primask = true
	if prev {
		return 1
	}
	return 0
}

func (c *HostCPU) RestoreInterrupts(state uintptr) {
	c.primask = state != 0
	c.boundary()
}

func (c *HostCPU) PendSwitch() {
	c.switchPending = true
	c.boundary()
}

func (c *HostCPU) ConfigureSwitch() { c.switchLevel = levelSwitch }

func (c *HostCPU) WaitForInterrupt() {
	if !c.tickPending.Load() {
		select {
		case c.idle <- struct{}{}:
		default:
		}
		select {
		case <-c.tickc:
		case <-c.halted:
			runtime.Goexit()
		}
	}
	c.boundary()
}

// EntryAddress assigns every distinct function a synthetic flash address.
// R0 carries a handle to the func value itself, so closures sharing code
// keep their own captured state.
func (c *HostCPU) EntryAddress(fn func()) (pc, arg uint32) {
	code := reflect.ValueOf(fn).Pointer()
	pc, ok := c.code[code]
	if !ok {
		pc = flashBase + uint32(len(c.code))*flashStride
		c.code[code] = pc
		c.codeAt[pc] = code
	}
	c.funcs = append(c.funcs, fn)
	return pc | 1, uint32(len(c.funcs))
}

func (c *HostCPU) StackRegion(words []uint32) kernel.Stack {
	return kernel.Stack{Base: c.mapRegion(words), Words: words}
}

func (c *HostCPU) Install(v kernel.Vectors) { c.vectors = v }

func (c *HostCPU) boundary() {
	for {
		select {
		case <-c.halted:
			runtime.Goexit()
		default:
		}
		if c.primask {
			return
		}
		switch {
		case c.level < levelTick && c.tickPending.CompareAndSwap(true, false):
			c.takeTick()
		case c.switchPending && c.level < c.switchLevel:
			c.switchPending = false
			c.takeSwitch()
		default:
			return
		}
	}
}

func (c *HostCPU) takeTick() {
	prev := c.enter(levelTick)
	c.tickISR(c.vectors)
	c.exit(prev)
}

// takeSwitch is the switch handler: mask, push R4-R11, let the kernel pick
// the next stack, pop R4-R11, unmask, return.
func (c *HostCPU) takeSwitch() {
	if c.level != levelThread {
		c.fault(fmt.Errorf("%w: context switch taken in handler mode", ErrCoreFault))
	}
	prev := c.enter(c.switchLevel)

	c.primask = true
	c.sp -= kernel.SoftwareFrameWords * 4
	for i := 0; i < kernel.SoftwareFrameWords; i++ {
		c.store(c.sp+uint32(i)*4, c.regs[4+i])
	}
	c.sp = uint32(c.vectors.SwitchContext(uintptr(c.sp)))
	for i := 0; i < kernel.SoftwareFrameWords; i++ {
		c.regs[4+i] = c.load(c.sp + uint32(i)*4)
	}
	c.sp += kernel.SoftwareFrameWords * 4
	c.primask = false

	c.exit(prev)
}

// enter stacks the caller-saved registers the way exception entry does.
// The stacked PC is a token that resumes the interrupted goroutine.
func (c *HostCPU) enter(level int) (prev int) {
	tok := c.nextToken
	c.nextToken += 2
	c.parked[tok] = c.running

	var f [hwFrameWords]uint32
	copy(f[hwR0:hwR0+4], c.regs[0:4])
	f[hwR12] = c.regs[12]
	f[hwLR] = c.lr
	f[hwPC] = tok
	f[hwPSR] = c.psr

	c.sp -= hwFrameWords * 4
	for i, w := range f {
		c.store(c.sp+uint32(i)*4, w)
	}

	prev = c.level
	c.level = level
	if prev == levelThread {
		c.lr = excReturnThread
	} else {
		c.lr = excReturnHandler
	}
	return prev
}

// exit unstacks a frame and resumes whatever its PC names.
func (c *HostCPU) exit(prev int) {
	switch {
	case c.lr == excReturnThread && prev == levelThread:
	case c.lr == excReturnHandler && prev != levelThread:
	default:
		c.fault(fmt.Errorf("%w: bad EXC_RETURN %#08x", ErrCoreFault, c.lr))
	}

	var f [hwFrameWords]uint32
	for i := range f {
		f[i] = c.load(c.sp + uint32(i)*4)
	}
	if f[hwPSR]&kernel.PSRThumb == 0 {
		c.fault(fmt.Errorf("%w: xPSR %#08x has no Thumb bit", ErrCoreFault, f[hwPSR]))
	}
	if f[hwPC]&1 != 0 {
		c.fault(fmt.Errorf("%w: unaligned return address %#08x", ErrCoreFault, f[hwPC]))
	}
	c.sp += hwFrameWords * 4

	copy(c.regs[0:4], f[hwR0:hwR0+4])
	c.regs[12] = f[hwR12]
	c.lr = f[hwLR]
	c.psr = f[hwPSR]
	c.level = prev

	c.dispatch(f[hwPC])
}

func (c *HostCPU) dispatch(pc uint32) {
	if ctx, ok := c.parked[pc]; ok {
		delete(c.parked, pc)
		c.resume(ctx)
		return
	}

	code, ok := c.codeAt[pc]
	if !ok {
		c.fault(fmt.Errorf("%w: exception return to %#08x", ErrCoreFault, pc))
	}
	h := c.regs[0]
	if h == 0 || int(h) > len(c.funcs) || reflect.ValueOf(c.funcs[h-1]).Pointer() != code {
		c.fault(fmt.Errorf("%w: R0 %#x does not name a function at %#08x", ErrCoreFault, h, pc))
	}

	self := c.running
	c.running = c.newContext()
	c.wg.Add(1)
	go c.runContext(c.funcs[h-1])
	c.park(self)
}

func (c *HostCPU) resume(ctx *hostContext) {
	self := c.running
	if ctx == self {
		return
	}
	c.running = ctx
	ctx.wake <- struct{}{}
	c.park(self)
}

func (c *HostCPU) park(self *hostContext) {
	select {
	case <-self.wake:
	case <-c.halted:
		runtime.Goexit()
	}
}

func (c *HostCPU) newContext() *hostContext {
	c.contexts++
	return &hostContext{id: c.contexts, wake: make(chan struct{}, 1)}
}

func (c *HostCPU) runContext(fn func()) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				c.fault(fmt.Errorf("%w: %w", ErrCoreFault, err))
			}
			c.fault(fmt.Errorf("%w: %v", ErrCoreFault, r))
		}
	}()
	fn()
	c.fault(fmt.Errorf("%w: thread returned to %#08x", ErrCoreFault, c.lr))
}

func (c *HostCPU) mapRegion(words []uint32) uint32 {
	base := c.brk
	c.regions = append(c.regions, memRegion{base: base, words: words})
	c.brk += (uint32(len(words))*4 + guardBytes + 7) &^ 7
	return base
}

func (c *HostCPU) word(addr uint32) *uint32 {
	for i := range c.regions {
		r := &c.regions[i]
		if addr >= r.base && addr-r.base < uint32(len(r.words))*4 && addr%4 == 0 {
			return &r.words[(addr-r.base)/4]
		}
	}
	c.fault(fmt.Errorf("%w: %#08x", ErrUnmapped, addr))
	return nil
}

func (c *HostCPU) load(addr uint32) uint32     { return *c.word(addr) }
func (c *HostCPU) store(addr uint32, v uint32) { *c.word(addr) = v }

// fault halts the core with err and ends the calling goroutine.
func (c *HostCPU) fault(err error) {
	c.halt(err)
	runtime.Goexit()
}

func (c *HostCPU) halt(err error) {
	c.haltOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.halted)
	})
}
