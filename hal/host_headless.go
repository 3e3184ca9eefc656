//go:build !tinygo

package hal

import (
	"context"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
)

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	Enabled bool
	// Ticks stops the run after N handled ticks (0 = run until ctx is done).
	Ticks uint64
	// Speed scales simulated time against wall time.
	Speed  float64
	Out    io.Writer
	LogLED bool
}

// NewApp builds the firmware on h and returns its reset handler.
type NewApp func(h HAL) (reset func(), err error)

// RunHeadless runs the firmware on a simulated board without opening a
// window.
func RunHeadless(ctx context.Context, newApp NewApp, cfg HeadlessConfig) error {
	h := NewHost(HostConfig{Out: cfg.Out, LogLED: cfg.LogLED, Speed: cfg.Speed})
	return h.Run(ctx, newApp, cfg.Ticks)
}

// Run boots the firmware built by newApp and blocks until the core halts,
// ctx is done, or ticks ticks have been handled (0 = no limit). A fault
// is returned as an error; a clean stop returns nil. Once Run returns no
// firmware code is running, so kernel state may be read directly.
func (h *Host) Run(ctx context.Context, newApp NewApp, ticks uint64) error {
	reset, err := newApp(h)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	h.cpu.Boot(reset)

	g.Go(func() error { return h.cpu.Wait(ctx) })
	g.Go(func() error {
		defer h.cpu.Stop()
		poll := time.NewTicker(2 * time.Millisecond)
		defer poll.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-h.cpu.Halted():
				return nil
			case <-poll.C:
				if ticks > 0 && h.timer.Elapsed() >= ticks {
					return nil
				}
			}
		}
	})
	err = g.Wait()
	h.cpu.Join()
	return err
}
