// Package savestate stores VM snapshots as CBOR documents.
package savestate

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/kapitanov/chip8core/internal/vm"
)

// Version is the current document format.
const Version = 1

var ErrVersion = errors.New("unsupported save state version")

type document struct {
	Version int      `cbor:"version"`
	State   vm.State `cbor:"state"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("savestate: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Marshal serializes a snapshot.
func Marshal(st vm.State) ([]byte, error) {
	return encMode.Marshal(document{Version: Version, State: st})
}

// Unmarshal deserializes a snapshot produced by Marshal.
func Unmarshal(data []byte) (vm.State, error) {
	var doc document
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return vm.State{}, fmt.Errorf("savestate: unmarshal: %w", err)
	}
	if doc.Version != Version {
		return vm.State{}, fmt.Errorf("%w: %d", ErrVersion, doc.Version)
	}
	return doc.State, nil
}

// Save writes a snapshot to path.
func Save(path string, st vm.State) error {
	data, err := Marshal(st)
	if err != nil {
		return fmt.Errorf("savestate: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("savestate: cannot write %s: %w", path, err)
	}
	return nil
}

// LoadFile reads a snapshot from path.
func LoadFile(path string) (vm.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return vm.State{}, fmt.Errorf("savestate: cannot read %s: %w", path, err)
	}
	return Unmarshal(data)
}
