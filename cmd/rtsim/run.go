//go:build !tinygo

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"ember/app"
	"ember/hal"
	"ember/internal/trace"
)

var (
	runOpts = struct {
		config string
		ticks  uint64
		speed  float64
		format string
		logLED bool
		quiet  bool
	}{}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the firmware headless and report scheduling statistics",
		Long: "Run the firmware on the simulated board for a number of ticks, then print\n" +
			"per-thread run counts, CPU share, run lengths and stack usage.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := reportWriters[runOpts.format]; !ok {
				return fmt.Errorf("unknown report format %q", runOpts.format)
			}
			table, err := loadTable(runOpts.config)
			if err != nil {
				return err
			}

			var boardLog io.Writer = cmd.ErrOrStderr()
			if runOpts.quiet {
				boardLog = io.Discard
			}
			h := hal.NewHost(hal.HostConfig{Out: boardLog, LogLED: runOpts.logLED, Speed: runOpts.speed})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			var rec trace.Recorder
			var sys *app.System
			err = h.Run(ctx, func(hh hal.HAL) (func(), error) {
				s, err := app.New(hh, table)
				if err != nil {
					return nil, err
				}
				s.SetTracer(&rec)
				sys = s
				return s.Run, nil
			}, runOpts.ticks)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return reportWriters[runOpts.format](cmd.OutOrStdout(), rec.Report(sys.Kernel()))
		},
	}
)

func init() {
	runCmd.Flags().StringVarP(&runOpts.config, "config", "c", "", "thread table (YAML); default is the built-in table")
	runCmd.Flags().Uint64VarP(&runOpts.ticks, "ticks", "n", 5000, "stop after this many ticks (0 = until interrupted)")
	runCmd.Flags().Float64Var(&runOpts.speed, "speed", 10, "simulated time per wall-clock time")
	runCmd.Flags().StringVarP(&runOpts.format, "format", "f", "text", "report format (text, yaml)")
	runCmd.Flags().BoolVar(&runOpts.logLED, "log-led", false, "log every LED change")
	runCmd.Flags().BoolVarP(&runOpts.quiet, "quiet", "q", false, "discard the board log")
}

func loadTable(path string) (app.Table, error) {
	if path == "" {
		return app.EmbeddedTable()
	}
	return app.LoadTableFile(path)
}

var reportWriters = map[string]func(io.Writer, trace.Report) error{
	"text": trace.WriteText,
	"yaml": trace.WriteYAML,
}
