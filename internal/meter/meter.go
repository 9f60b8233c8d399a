// Package meter turns raw microphone PCM into the overlay's level signal.
package meter

import (
	"encoding/binary"
	"math"

	"voicekey/internal/domain"
)

// Options shapes the level curve.
type Options struct {
	// Normalization is the RMS amplitude that maps to a raw level of 1.
	Normalization float64
	// NoiseFloor zeroes raw levels below it. Values outside (0, 1) take the default.
	NoiseFloor float64
	// Curve is the exponent applied to the raw level.
	Curve float64
	// Attack and Release are the smoothing blends for rising and falling levels.
	Attack  float64
	Release float64
}

func DefaultOptions() Options {
	return Options{
		Normalization: 6800,
		NoiseFloor:    0.012,
		Curve:         0.85,
		Attack:        0.40,
		Release:       0.18,
	}
}

// Meter computes a smoothed level from little-endian signed 16-bit samples.
// It is not safe for concurrent use.
type Meter struct {
	opts     Options
	smoothed float64
	carry    []byte
}

func New(opts Options) *Meter {
	defaults := DefaultOptions()
	if opts.Normalization <= 0 {
		opts.Normalization = defaults.Normalization
	}
	if opts.Curve <= 0 {
		opts.Curve = defaults.Curve
	}
	if opts.Attack <= 0 || opts.Attack > 1 {
		opts.Attack = defaults.Attack
	}
	if opts.Release <= 0 || opts.Release > 1 {
		opts.Release = defaults.Release
	}
	if opts.NoiseFloor <= 0 || opts.NoiseFloor >= 1 {
		opts.NoiseFloor = defaults.NoiseFloor
	}
	return &Meter{opts: opts}
}

// Observe consumes one chunk and returns its raw level and the smoothed level.
// A trailing odd byte is kept for the next chunk. A chunk with no complete
// sample leaves the smoothed level unchanged.
func (m *Meter) Observe(pcm []byte) (raw, level float64) {
	if len(m.carry) > 0 {
		pcm = append(m.carry, pcm...)
		m.carry = nil
	}
	if len(pcm)%2 == 1 {
		m.carry = []byte{pcm[len(pcm)-1]}
		pcm = pcm[:len(pcm)-1]
	}
	if len(pcm) == 0 {
		return 0, m.smoothed
	}

	raw = RawLevel(RMS(pcm), m.opts)
	target := math.Pow(raw, m.opts.Curve)
	blend := m.opts.Release
	if target > m.smoothed {
		blend = m.opts.Attack
	}
	m.smoothed = domain.ClampLevel(m.smoothed + (target-m.smoothed)*blend)
	return raw, m.smoothed
}

// Level returns the current smoothed level.
func (m *Meter) Level() float64 {
	return m.smoothed
}

// Reset drops the smoothing history.
func (m *Meter) Reset() {
	m.smoothed = 0
	m.carry = nil
}

// RMS returns the root mean square of s16le samples. len(pcm) must be even.
func RMS(pcm []byte) float64 {
	count := len(pcm) / 2
	if count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := float64(int16(binary.LittleEndian.Uint16(pcm[i:])))
		sum += sample * sample
	}
	return math.Sqrt(sum / float64(count))
}

// RawLevel normalizes an RMS amplitude into [0, 1] and applies the noise floor.
func RawLevel(rms float64, opts Options) float64 {
	raw := domain.ClampLevel(rms / opts.Normalization)
	if raw < opts.NoiseFloor {
		return 0
	}
	return raw
}
