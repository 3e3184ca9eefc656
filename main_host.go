//go:build !tinygo

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"ember/app"
	"ember/hal"
)

func main() {
	var cfg hal.HeadlessConfig
	var tablePath string
	pflag.BoolVar(&cfg.Enabled, "headless", false, "Run without a window.")
	pflag.Uint64Var(&cfg.Ticks, "ticks", 0, "Stop after N ticks in headless mode (0 = run forever).")
	pflag.Float64Var(&cfg.Speed, "speed", 1, "Simulated time per wall-clock time.")
	pflag.BoolVar(&cfg.LogLED, "log-led", false, "Log every LED change.")
	pflag.StringVarP(&tablePath, "config", "c", "", "Thread table (YAML). Defaults to the built-in table.")
	pflag.Parse()

	table, err := app.EmbeddedTable()
	if tablePath != "" {
		table, err = app.LoadTableFile(tablePath)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	newApp := func(h hal.HAL) (func(), error) {
		s, err := app.New(h, table)
		if err != nil {
			return nil, err
		}
		return s.Run, nil
	}

	if cfg.Enabled {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := hal.RunHeadless(ctx, newApp, cfg); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := hal.RunWindow(newApp, hal.HostConfig{LogLED: cfg.LogLED, Speed: cfg.Speed}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
