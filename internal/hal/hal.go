package hal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	"github.com/kapitanov/chip8core/internal/config"
	"github.com/kapitanov/chip8core/internal/vm"
	"github.com/veandco/go-sdl2/sdl"
)

type HAL struct {
	window          *sdl.Window
	renderer        *sdl.Renderer
	texture         *sdl.Texture
	backBuffer      []uint32
	backBufferPitch int

	keys    map[sdl.Scancode]vm.Key
	fgColor uint32
	bgColor uint32

	audio     sdl.AudioDeviceID
	tone      []byte
	frameTime time.Duration
	lastFrame time.Time
}

var (
	ErrReboot    = errors.New("reboot")
	ErrQuit      = errors.New("quit")
	ErrSaveState = errors.New("save state")
	ErrLoadState = errors.New("load state")
)

func New(cfg config.Config) (*HAL, error) {
	keys, err := keyMap(cfg.Keypad)
	if err != nil {
		return nil, err
	}

	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_AUDIO | sdl.INIT_EVENTS); err != nil {
		return nil, fmt.Errorf("failed to init sdl: %w", err)
	}

	width := int32(vm.ScreenWidth * cfg.Display.Scale)
	height := int32(vm.ScreenHeight * cfg.Display.Scale)

	window, err := sdl.CreateWindow("CHIP-8", sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, width, height, sdl.WINDOW_SHOWN|sdl.WINDOW_UTILITY)
	if err != nil {
		return nil, fmt.Errorf("failed to create sdl window: %w", err)
	}
	slog.Debug("hal: create window", "width", width, "height", height)

	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED)
	if err != nil {
		return nil, fmt.Errorf("failed to create sdl renderer: %w", err)
	}
	if err := renderer.SetLogicalSize(width, height); err != nil {
		return nil, fmt.Errorf("failed to resize sdl renderer: %w", err)
	}
	slog.Debug("hal: create renderer")

	texture, err := renderer.CreateTexture(sdl.PIXELFORMAT_ARGB8888, sdl.TEXTUREACCESS_STREAMING, vm.ScreenWidth, vm.ScreenHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to create sdl texture: %w", err)
	}
	slog.Debug("hal: create texture")

	hal := &HAL{
		window:          window,
		renderer:        renderer,
		texture:         texture,
		backBuffer:      make([]uint32, vm.ScreenWidth*vm.ScreenHeight),
		backBufferPitch: vm.ScreenWidth * int(unsafe.Sizeof(uint32(0))),
		keys:            keys,
		fgColor:         cfg.Display.Foreground,
		bgColor:         cfg.Display.Background,
		frameTime:       time.Second / time.Duration(cfg.Display.FrameRate),
	}

	if cfg.Audio.Enabled {
		if err := hal.openAudio(cfg.Audio); err != nil {
			// Run silently without a sound device.
			slog.Warn("hal: audio unavailable", "err", err)
		}
	}

	window.Show()
	return hal, nil
}

const audioFrequency = 44100

func (hal *HAL) openAudio(cfg config.Audio) error {
	spec := &sdl.AudioSpec{
		Freq:     audioFrequency,
		Format:   sdl.AUDIO_U8,
		Channels: 1,
		Samples:  1024,
	}

	dev, err := sdl.OpenAudioDevice("", false, spec, nil, 0)
	if err != nil {
		return fmt.Errorf("failed to open sdl audio device: %w", err)
	}
	sdl.PauseAudioDevice(dev, false)

	hal.audio = dev
	hal.tone = squareWave(audioFrequency, cfg.ToneHz, uint8(cfg.Volume), audioFrequency/60)
	slog.Debug("hal: open audio", "device", dev, "tone_hz", cfg.ToneHz)
	return nil
}

// squareWave renders n unsigned 8-bit samples of a tone centred on 0x80.
func squareWave(sampleRate, toneHz int, volume uint8, n int) []byte {
	samples := make([]byte, n)
	halfPeriod := sampleRate / (2 * toneHz)
	if halfPeriod == 0 {
		halfPeriod = 1
	}
	for i := range samples {
		if (i/halfPeriod)%2 == 0 {
			samples[i] = 0x80 + volume
		} else {
			samples[i] = 0x80 - volume
		}
	}
	return samples
}

func (hal *HAL) Shutdown() {
	if hal.audio != 0 {
		sdl.CloseAudioDevice(hal.audio)
	}

	if err := hal.texture.Destroy(); err != nil {
		slog.Error("failed to destroy sdl texture", "err", err)
	}

	if err := hal.renderer.Destroy(); err != nil {
		slog.Error("failed to destroy sdl renderer", "err", err)
	}

	if err := hal.window.Destroy(); err != nil {
		slog.Error("failed to destroy sdl window", "err", err)
	}

	sdl.Quit()
}

func (hal *HAL) ReadInput(keyDown func(vm.Key), keyUp func(vm.Key)) error {
	for e := sdl.PollEvent(); e != nil; e = sdl.PollEvent() {
		switch e.GetType() {
		case sdl.QUIT:
			slog.Debug("hal: exit requested")
			return ErrQuit

		case sdl.KEYDOWN:
			if err := hal.processKeyDown(e.(*sdl.KeyboardEvent), keyDown); err != nil {
				return err
			}

		case sdl.KEYUP:
			hal.processKeyUp(e.(*sdl.KeyboardEvent), keyUp)
		}
	}

	return nil
}

func (hal *HAL) processKeyDown(e *sdl.KeyboardEvent, callback func(vm.Key)) error {
	if e.Repeat == 0 {
		switch e.Keysym.Scancode {
		case sdl.SCANCODE_ESCAPE:
			return ErrQuit
		case sdl.SCANCODE_BACKSPACE:
			return ErrReboot
		case sdl.SCANCODE_F5:
			return ErrSaveState
		case sdl.SCANCODE_F9:
			return ErrLoadState
		}
	}

	if key, ok := hal.keys[e.Keysym.Scancode]; ok {
		callback(key)
	}

	return nil
}

func (hal *HAL) processKeyUp(e *sdl.KeyboardEvent, callback func(vm.Key)) {
	if key, ok := hal.keys[e.Keysym.Scancode]; ok {
		callback(key)
	}
}

// keyMap resolves the configured layout ("0".."F" -> SDL key name) into
// scancodes.
func keyMap(layout map[string]string) (map[sdl.Scancode]vm.Key, error) {
	keys := make(map[sdl.Scancode]vm.Key, len(layout))
	for digit, name := range layout {
		key, err := config.KeyIndex(digit)
		if err != nil {
			return nil, err
		}

		code := sdl.GetScancodeFromName(name)
		if code == sdl.SCANCODE_UNKNOWN {
			return nil, fmt.Errorf("%w: keypad.%s: unknown key %q", config.ErrInvalid, digit, name)
		}

		keys[code] = vm.Key(key)
	}
	return keys, nil
}

func (hal *HAL) Draw(gfx []uint8) error {
	for i, px := range gfx {
		color := hal.bgColor
		if px != 0 {
			color = hal.fgColor
		}
		hal.backBuffer[i] = 0xFF000000 | color
	}

	backBufferPtr := unsafe.Pointer(&hal.backBuffer[0])
	if err := hal.texture.Update(nil, backBufferPtr, hal.backBufferPitch); err != nil {
		return fmt.Errorf("failed to update sdl texture: %w", err)
	}

	if err := hal.renderer.Clear(); err != nil {
		return fmt.Errorf("failed to clear sdl renderer: %w", err)
	}

	if err := hal.renderer.Copy(hal.texture, nil, nil); err != nil {
		return fmt.Errorf("failed to copy sdl texture to renderer: %w", err)
	}

	hal.renderer.Present()
	return nil
}

// Beep queues one timer period worth of tone. Without an audio device it
// only logs.
func (hal *HAL) Beep() error {
	if hal.audio == 0 {
		slog.Debug("hal: beep")
		return nil
	}

	if err := sdl.QueueAudio(hal.audio, hal.tone); err != nil {
		return fmt.Errorf("failed to queue sdl audio: %w", err)
	}
	return nil
}

// WaitForNextFrame sleeps out the remainder of the current frame.
func (hal *HAL) WaitForNextFrame() error {
	now := time.Now()
	if !hal.lastFrame.IsZero() {
		if remaining := hal.frameTime - now.Sub(hal.lastFrame); remaining > 0 {
			time.Sleep(remaining)
			now = now.Add(remaining)
		}
	}
	hal.lastFrame = now
	return nil
}
