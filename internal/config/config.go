// Package config handles the emulator's TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

var ErrInvalid = errors.New("invalid config")

// MaxInstructionsPerSecond bounds cpu.instructions_per_second.
const MaxInstructionsPerSecond = 1_000_000

// Config is the full emulator configuration.
type Config struct {
	CPU     CPU               `toml:"cpu"`
	Display Display           `toml:"display"`
	Audio   Audio             `toml:"audio"`
	Keypad  map[string]string `toml:"keypad"`
}

// CPU configures instruction throughput. Timers always run at 60 Hz.
type CPU struct {
	InstructionsPerSecond int `toml:"instructions_per_second"`
}

// Display configures the host window.
type Display struct {
	Scale      int    `toml:"scale"`
	FrameRate  int    `toml:"frame_rate"`
	Foreground uint32 `toml:"foreground"`
	Background uint32 `toml:"background"`
}

// Audio configures the tone emitted when the sound timer expires.
type Audio struct {
	Enabled bool `toml:"enabled"`
	ToneHz  int  `toml:"tone_hz"`
	Volume  int  `toml:"volume"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		CPU: CPU{
			InstructionsPerSecond: 700,
		},
		Display: Display{
			Scale:      16,
			FrameRate:  60,
			Foreground: 0xbea700,
			Background: 0x000000,
		},
		Audio: Audio{
			Enabled: true,
			ToneHz:  440,
			Volume:  32,
		},
		// Physical                Logical
		// ================        =================
		// | 1 | 2 | 3 | 4 |       | 1 | 2 | 3 | C |
		// | q | w | e | r |       | 4 | 5 | 6 | D |
		// | a | s | d | f |  <=>  | 7 | 8 | 9 | E |
		// | z | x | c | v |       | A | 0 | B | F |
		// ================        =================
		Keypad: map[string]string{
			"1": "1", "2": "2", "3": "3", "C": "4",
			"4": "Q", "5": "W", "6": "E", "D": "R",
			"7": "A", "8": "S", "9": "D", "E": "F",
			"A": "Z", "0": "X", "B": "C", "F": "V",
		},
	}
}

// Load reads a TOML file on top of the defaults. An empty path yields the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("cannot read %s: %w", path, err)
	}

	defaults := cfg.Keypad
	cfg.Keypad = nil
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse error in %s: %w", path, err)
	}

	keypad, err := mergeKeypad(defaults, cfg.Keypad)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Keypad = keypad

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks value ranges and that the keypad maps only hex digits.
func (c Config) Validate() error {
	if c.CPU.InstructionsPerSecond <= 0 || c.CPU.InstructionsPerSecond > MaxInstructionsPerSecond {
		return fmt.Errorf("%w: cpu.instructions_per_second must be in [1,%d], got %d", ErrInvalid, MaxInstructionsPerSecond, c.CPU.InstructionsPerSecond)
	}
	if c.Display.Scale <= 0 {
		return fmt.Errorf("%w: display.scale must be positive, got %d", ErrInvalid, c.Display.Scale)
	}
	if c.Display.FrameRate <= 0 {
		return fmt.Errorf("%w: display.frame_rate must be positive, got %d", ErrInvalid, c.Display.FrameRate)
	}
	if c.Audio.Enabled && c.Audio.ToneHz <= 0 {
		return fmt.Errorf("%w: audio.tone_hz must be positive, got %d", ErrInvalid, c.Audio.ToneHz)
	}
	if c.Audio.Volume < 0 || c.Audio.Volume > 127 {
		return fmt.Errorf("%w: audio.volume must be in [0,127], got %d", ErrInvalid, c.Audio.Volume)
	}

	lines := make(map[uint8]string, len(c.Keypad))
	names := make(map[string]string, len(c.Keypad))
	for digit, name := range c.Keypad {
		line, err := KeyIndex(digit)
		if err != nil {
			return err
		}
		if other, ok := lines[line]; ok {
			return fmt.Errorf("%w: keypad.%s and keypad.%s name the same key line", ErrInvalid, other, digit)
		}
		lines[line] = digit

		if name == "" {
			return fmt.Errorf("%w: keypad.%s has no key name", ErrInvalid, digit)
		}
		upper := strings.ToUpper(name)
		if other, ok := names[upper]; ok {
			return fmt.Errorf("%w: keypad.%s and keypad.%s both use key %q", ErrInvalid, other, digit, name)
		}
		names[upper] = digit
	}

	return nil
}

// mergeKeypad lays the user's keypad table over base. Digits are upper-cased,
// and a base entry is dropped when the user reassigns its key name to
// another digit.
func mergeKeypad(base, user map[string]string) (map[string]string, error) {
	digits := make(map[string]string, len(user))
	taken := make(map[string]bool, len(user))
	for digit, name := range user {
		upper := strings.ToUpper(digit)
		if _, ok := digits[upper]; ok {
			return nil, fmt.Errorf("%w: keypad.%s is listed twice", ErrInvalid, upper)
		}
		digits[upper] = name
		taken[strings.ToUpper(name)] = true
	}

	merged := make(map[string]string, len(base)+len(digits))
	for digit, name := range base {
		if taken[strings.ToUpper(name)] {
			continue
		}
		merged[digit] = name
	}
	for digit, name := range digits {
		merged[digit] = name
	}
	return merged, nil
}

// KeyIndex parses a keypad table key ("0".."F") into its line number.
func KeyIndex(digit string) (uint8, error) {
	n, err := strconv.ParseUint(digit, 16, 8)
	if err != nil || len(digit) != 1 {
		return 0, fmt.Errorf("%w: keypad entry %q is not a hex digit", ErrInvalid, digit)
	}
	return uint8(n), nil
}
