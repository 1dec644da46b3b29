package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kapitanov/chip8core/internal/config"
	"github.com/kapitanov/chip8core/internal/hal"
	"github.com/kapitanov/chip8core/internal/machine"
	"github.com/kapitanov/chip8core/internal/savestate"
	"github.com/kapitanov/chip8core/internal/vm"
	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{
		Use:           fmt.Sprintf("%s PATH_TO_ROM_FILE", filepath.Base(os.Args[0])),
		Short:         "Run emulator",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	verbose := cmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	configPath := cmd.Flags().StringP("config", "c", "", "path to a TOML config file")
	ips := cmd.Flags().Int("ips", 0, "instructions per second (overrides config)")
	statePath := cmd.Flags().String("state", "", "save state file (default: ROM path + .state)")

	cmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		loggerOpts := &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}
		if *verbose {
			loggerOpts.Level = slog.LevelDebug
		}

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, loggerOpts)))
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("ips") {
			if cfg, err = overrideRate(cfg, *ips); err != nil {
				return err
			}
		}

		path := args[0]
		bs, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("unable to load file %q: %w", path, err)
		}

		state := *statePath
		if state == "" {
			state = path + ".state"
		}

		h, err := hal.New(cfg)
		if err != nil {
			return fmt.Errorf("unable to initialize hal: %w", err)
		}
		defer h.Shutdown()

		return run(h, bs, cfg, state)
	}

	cmd.AddCommand(disasmCommand())

	cmd.SetArgs(os.Args[1:])
	if err := cmd.Execute(); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

// overrideRate replaces the configured instruction rate and revalidates.
func overrideRate(cfg config.Config, ips int) (config.Config, error) {
	cfg.CPU.InstructionsPerSecond = ips
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("--ips: %w", err)
	}
	return cfg, nil
}

func boot(program []byte, cfg config.Config) (*machine.Machine, error) {
	cpu := vm.New()
	if err := cpu.Load(program); err != nil {
		return nil, err
	}
	return machine.New(cpu, machine.WithInstructionsPerSecond(cfg.CPU.InstructionsPerSecond)), nil
}

func run(h *hal.HAL, program []byte, cfg config.Config, statePath string) error {
	m, err := boot(program, cfg)
	if err != nil {
		return err
	}

	for {
		err = m.Run(context.Background(), h)

		switch {
		case errors.Is(err, hal.ErrQuit):
			return nil

		case errors.Is(err, hal.ErrReboot):
			slog.Info("reboot")
			if m, err = boot(program, cfg); err != nil {
				return err
			}

		case errors.Is(err, hal.ErrSaveState):
			if err := savestate.Save(statePath, m.CPU().Snapshot()); err != nil {
				slog.Error("save state failed", "err", err)
				continue
			}
			slog.Info("state saved", "path", statePath)

		case errors.Is(err, hal.ErrLoadState):
			st, err := savestate.LoadFile(statePath)
			if err == nil {
				err = m.CPU().Restore(st)
			}
			if err != nil {
				slog.Error("load state failed", "err", err)
				continue
			}
			slog.Info("state loaded", "path", statePath)

		default:
			var fault *vm.Fault
			if errors.As(err, &fault) {
				slog.Error("program halted",
					"pc", fmt.Sprintf("0x%04x", fault.PC),
					"opcode", fmt.Sprintf("0x%04x", fault.Opcode),
					"err", fault.Err,
				)
			}
			return err
		}
	}
}

func disasmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm PATH_TO_ROM_FILE",
		Short: "Print a listing of a ROM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			bs, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("unable to load file %q: %w", path, err)
			}
			return disassemble(cmd.OutOrStdout(), bs)
		},
	}
}

func disassemble(w io.Writer, program []byte) error {
	if len(program) > vm.MaxProgramSize {
		return fmt.Errorf("%w: %d bytes", vm.ErrProgramTooLarge, len(program))
	}

	for i := 0; i+1 < len(program); i += vm.InstructionSize {
		word := uint16(program[i])<<8 | uint16(program[i+1])
		addr := int(vm.ProgramStart) + i
		if _, err := fmt.Fprintf(w, "0x%03x  %04x  %s\n", addr, word, vm.Disassemble(word)); err != nil {
			return err
		}
	}

	if len(program)%2 == 1 {
		addr := int(vm.ProgramStart) + len(program) - 1
		if _, err := fmt.Fprintf(w, "0x%03x  %02x    .byte\n", addr, program[len(program)-1]); err != nil {
			return err
		}
	}

	return nil
}
