package engine

import "math"

const fnv64Offset = 1469598103934665603
const fnv64Prime = 1099511628211

func weightsHash(w Weights) uint64 {
	hash := uint64(fnv64Offset)
	for _, f := range w.fields() {
		value := *f
		if value == 0 {
			value = 0 // folds -0
		}
		bits := math.Float64bits(value)
		for i := 0; i < 8; i++ {
			hash ^= uint64(byte(bits >> (8 * i)))
			hash *= fnv64Prime
		}
	}
	return hash
}

// WeightsFingerprint is the cache tag for a weight set after default resolution.
func WeightsFingerprint(w Weights) uint64 {
	return weightsHash(w.Resolved().Clamped())
}
