package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/kapitanov/chip8/internal/emulator"
	"github.com/kapitanov/chip8/internal/hal"
	"github.com/kapitanov/chip8/internal/keymap"
	"github.com/kapitanov/chip8/internal/tty"
	"github.com/kapitanov/chip8/internal/vm"
	"github.com/spf13/cobra"
)

func init() {
	// SDL must be driven from the main thread.
	runtime.LockOSThread()
}

func main() {
	cmd := &cobra.Command{
		Use:           fmt.Sprintf("%s PATH_TO_ROM_FILE", filepath.Base(os.Args[0])),
		Short:         "Run emulator",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	verbose := cmd.Flags().BoolP("verbose", "v", false, "enable verbose logging")
	keymapPath := cmd.Flags().String("keymap", "", "keyboard layout file (default PATH_TO_ROM_FILE.kb)")
	clockRate := cmd.Flags().Int("clock", emulator.DefaultClockRate, "CPU clock rate in Hz")
	timerRate := cmd.Flags().Int("timer", emulator.DefaultTimerRate, "timer rate in Hz")
	terminal := cmd.Flags().Bool("terminal", false, "run in the terminal instead of a window")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		loggerOpts := &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}
		if *verbose {
			loggerOpts.Level = slog.LevelDebug
		}

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, loggerOpts)))

		path := args[0]
		program, err := vm.LoadProgram(path)
		if err != nil {
			return err
		}

		layout := *keymapPath
		if layout == "" {
			layout = path + ".kb"
		}

		machine, err := emulator.New(program, emulator.Config{
			ClockRate: *clockRate,
			TimerRate: *timerRate,
			Keymap:    keymap.Load(layout),
		})
		if err != nil {
			return fmt.Errorf("unable to create emulator: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if *terminal {
			return runTerminal(ctx, machine)
		}
		return runWindow(ctx, machine)
	}

	cmd.SetArgs(os.Args[1:])
	if err := cmd.Execute(); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func runWindow(ctx context.Context, machine *emulator.Emulator) error {
	h, err := hal.New()
	if err != nil {
		return fmt.Errorf("unable to initialize hal: %w", err)
	}
	defer h.Shutdown()

	if err := machine.Start(ctx); err != nil {
		return err
	}
	go logEvents(ctx, slog.Default(), machine.Events())

	err = h.Run(ctx, machine)
	return errors.Join(err, shutdown(machine))
}

func runTerminal(ctx context.Context, machine *emulator.Emulator) error {
	t := tty.New(os.Stdin, os.Stdout)
	if err := t.Start(); err != nil {
		return fmt.Errorf("unable to initialize terminal: %w", err)
	}
	defer t.Stop()

	if err := machine.Start(ctx); err != nil {
		return err
	}
	go logEvents(ctx, slog.Default(), machine.Events())

	err := t.Run(ctx, machine)
	return errors.Join(err, shutdown(machine))
}

// shutdown stops the machine and returns the fault it ended with, if any.
func shutdown(machine *emulator.Emulator) error {
	machine.Cancel()
	if err := machine.Wait(); vm.IsRuntimeFault(err) {
		return fmt.Errorf("program stopped: %w", err)
	}
	return nil
}

// logEvents reports machine lifecycle events until ctx is done or events
// is closed.
func logEvents(ctx context.Context, log *slog.Logger, events <-chan emulator.Event) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}

			switch {
			case ev.Kind == emulator.EventWaitingForKey:
				log.Debug("waiting for key")
			case ev.Err != nil:
				log.Warn("machine stopped", "state", ev.State, "err", ev.Err)
			default:
				log.Info("machine stopped", "state", ev.State)
			}
		}
	}
}
