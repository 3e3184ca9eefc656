package app

import (
	"errors"
	"fmt"

	"ember/hal"
	"ember/kernel"
)

var (
	ErrZeroPeriod  = errors.New("app: period must be at least one tick")
	ErrUnknownPin  = errors.New("app: unknown pin")
	ErrReservedPin = errors.New("app: pin is reserved")
	ErrNoName      = errors.New("app: thread has no name")
	ErrZeroTick    = errors.New("app: tick rate must be positive")
)

// minStackWords is the smallest stack that fits an aligned initial frame.
const minStackWords = kernel.ContextWords + 2

// ThreadSpec declares one application thread: it toggles Pin, then
// delays for Period ticks, forever.
type ThreadSpec struct {
	Name     string          `yaml:"name"`
	Priority kernel.Priority `yaml:"priority"`
	Pin      string          `yaml:"pin"`
	Period   uint32          `yaml:"period"`
	Stack    int             `yaml:"stack"` // words
}

// Table is the static thread set of the firmware.
type Table struct {
	TickHz      uint32       `yaml:"tick_hz"`
	IdleStack   int          `yaml:"idle_stack"`
	SleepOnIdle bool         `yaml:"sleep_on_idle"`
	Threads     []ThreadSpec `yaml:"threads"`
}

// DefaultTable is the reference firmware: Blinky on the LED every 300
// ticks and TogglePC3 every 200 ticks, on a 1 kHz tick.
func DefaultTable() Table {
	return Table{
		TickHz:      hal.DefaultTick,
		IdleStack:   256,
		SleepOnIdle: true,
		Threads: []ThreadSpec{
			{Name: "blinky", Priority: 3, Pin: hal.PinLED, Period: 300, Stack: 256},
			{Name: "toggle_pc3", Priority: 2, Pin: hal.PinPC3, Period: 200, Stack: 256},
		},
	}
}

// Validate reports every problem in t, joined into one error. Each
// problem wraps a sentinel so callers can test for it with errors.Is.
func (t Table) Validate() error {
	var errs []error
	if t.TickHz == 0 {
		errs = append(errs, ErrZeroTick)
	}
	if t.IdleStack < minStackWords {
		errs = append(errs, fmt.Errorf("idle: %w: %d words", kernel.ErrStackTooSmall, t.IdleStack))
	}

	var owner [kernel.MaxPriority + 1]string
	owner[kernel.IdlePriority] = "idle"
	names := make(map[string]bool)

	for i, th := range t.Threads {
		label := th.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Errorf("thread %s: %w", label, ErrNoName))
		} else if names[th.Name] {
			errs = append(errs, fmt.Errorf("thread %s: duplicate name", label))
		}
		names[th.Name] = true

		switch {
		case !th.Priority.Valid():
			errs = append(errs, fmt.Errorf("thread %s: %w: %d > %d", label, kernel.ErrPriorityRange, th.Priority, kernel.MaxPriority))
		case owner[th.Priority] != "":
			errs = append(errs, fmt.Errorf("thread %s: %w: %d is taken by %s", label, kernel.ErrPriorityInUse, th.Priority, owner[th.Priority]))
		default:
			owner[th.Priority] = label
		}

		if th.Period == 0 {
			errs = append(errs, fmt.Errorf("thread %s: %w", label, ErrZeroPeriod))
		}
		switch th.Pin {
		case hal.PinLED, hal.PinPC3:
		case hal.PinTick, hal.PinIdle:
			errs = append(errs, fmt.Errorf("thread %s: %w: %s", label, ErrReservedPin, th.Pin))
		default:
			errs = append(errs, fmt.Errorf("thread %s: %w: %q", label, ErrUnknownPin, th.Pin))
		}
		if th.Stack < minStackWords {
			errs = append(errs, fmt.Errorf("thread %s: %w: %d words", label, kernel.ErrStackTooSmall, th.Stack))
		}
	}
	return errors.Join(errs...)
}
