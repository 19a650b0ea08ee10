package audio

import (
	"math"
	"sync/atomic"
)

// SilenceDB is reported for digital silence and anything quieter.
const SilenceDB = -160.0

// PowerDB returns the RMS power of samples in dBFS for the given bit depth,
// clamped to [SilenceDB, 0].
func PowerDB(samples []int, bitDepth int) float64 {
	if len(samples) == 0 || bitDepth <= 0 {
		return SilenceDB
	}

	fullScale := float64(int64(1) << (bitDepth - 1))
	var sum float64
	for _, s := range samples {
		v := float64(s) / fullScale
		sum += v * v
	}

	rms := math.Sqrt(sum / float64(len(samples)))
	if rms == 0 {
		return SilenceDB
	}
	db := 20 * math.Log10(rms)
	if db < SilenceDB {
		return SilenceDB
	}
	if db > 0 {
		return 0
	}
	return db
}

// Meter holds the level of the most recent buffer. Update and Level may be
// called from different goroutines.
type Meter struct {
	bits atomic.Uint64
}

// NewMeter returns a meter reading SilenceDB.
func NewMeter() *Meter {
	m := &Meter{}
	m.Reset()
	return m
}

// Update measures one buffer of samples.
func (m *Meter) Update(samples []int, bitDepth int) {
	m.bits.Store(math.Float64bits(PowerDB(samples, bitDepth)))
}

// Level returns the last measured level in dBFS.
func (m *Meter) Level() float64 {
	return math.Float64frombits(m.bits.Load())
}

// Reset returns the meter to silence.
func (m *Meter) Reset() {
	m.bits.Store(math.Float64bits(SilenceDB))
}
