// Package machine drives a VM against a host: it runs instructions at a
// configurable rate, ticks the timers at a fixed 60 Hz and shuttles input,
// frames and tones between the two.
package machine

import (
	"context"
	"log/slog"
	"time"

	"github.com/kapitanov/chip8core/internal/vm"
)

const (
	DefaultInstructionsPerSecond = 700

	// TimerPeriod is the interval between two timer ticks (60 Hz).
	TimerPeriod = time.Second / 60

	// maxFrameLag caps how much wall-clock time a single frame may catch up on.
	maxFrameLag = 250 * time.Millisecond
)

// Host is the I/O side of the emulator.
type Host interface {
	ReadInput(keyDown func(vm.Key), keyUp func(vm.Key)) error
	Draw(gfx []uint8) error
	Beep() error
	WaitForNextFrame() error
}

// Machine schedules a single VM. It is not safe for concurrent use.
type Machine struct {
	cpu *vm.VM

	cyclePeriod time.Duration
	now         func() time.Time

	cycleDebt time.Duration
	timerDebt time.Duration
}

type Option func(*Machine)

// WithInstructionsPerSecond sets the instruction rate. Non-positive values
// are ignored; rates above 1 GHz run one instruction per nanosecond.
func WithInstructionsPerSecond(ips int) Option {
	return func(m *Machine) {
		if ips > 0 {
			m.cyclePeriod = max(time.Second/time.Duration(ips), time.Nanosecond)
		}
	}
}

// WithClock replaces the wall clock used by Run.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

func New(cpu *vm.VM, opts ...Option) *Machine {
	m := &Machine{
		cpu:         cpu,
		cyclePeriod: time.Second / DefaultInstructionsPerSecond,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CPU returns the scheduled VM.
func (m *Machine) CPU() *vm.VM {
	return m.cpu
}

// Run reads input, advances emulation by the elapsed wall-clock time and
// waits for the next frame until the host, the VM or ctx reports an error.
func (m *Machine) Run(ctx context.Context, host Host) error {
	last := m.now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := host.ReadInput(m.cpu.KeyDown, m.cpu.KeyUp); err != nil {
			return err
		}

		now := m.now()
		elapsed := now.Sub(last)
		last = now

		if err := m.Advance(host, elapsed); err != nil {
			return err
		}

		if err := host.WaitForNextFrame(); err != nil {
			return err
		}
	}
}

// Advance runs as many instructions and timer ticks as fit in elapsed,
// carrying the remainder over to the next call, then presents the frame if
// it changed.
func (m *Machine) Advance(host Host, elapsed time.Duration) error {
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > maxFrameLag {
		slog.Debug("frame lag capped", "elapsed", elapsed, "cap", maxFrameLag)
		elapsed = maxFrameLag
	}

	m.cycleDebt += elapsed
	for m.cycleDebt >= m.cyclePeriod {
		m.cycleDebt -= m.cyclePeriod
		if err := m.cpu.Step(); err != nil {
			return err
		}
	}

	m.timerDebt += elapsed
	for m.timerDebt >= TimerPeriod {
		m.timerDebt -= TimerPeriod
		if m.cpu.Tick() {
			if err := host.Beep(); err != nil {
				return err
			}
		}
	}

	if m.cpu.NeedsRedraw() {
		if err := host.Draw(m.cpu.Framebuffer()); err != nil {
			return err
		}
		m.cpu.ClearRedraw()
	}

	return nil
}
