package vm

import "math/rand/v2"

// RandomSource supplies uniformly distributed bytes for CXNN.
type RandomSource interface {
	Byte() uint8
}

type defaultRandom struct{}

func (defaultRandom) Byte() uint8 {
	return uint8(rand.IntN(256))
}
