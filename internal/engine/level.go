package engine

import "math"

// levelGain scales raw RMS so normal speech lands in the upper half of the meter.
const levelGain = 4

// Level returns the RMS amplitude of samples scaled and clamped to [0, 1].
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	level := rms * levelGain
	switch {
	case math.IsNaN(level) || level < 0:
		return 0
	case level > 1:
		return 1
	default:
		return level
	}
}
