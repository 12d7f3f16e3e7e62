package vad

import "math"

// EnergyClassifier is the pure-Go fallback classifier: a frame is speech when
// its RMS energy exceeds a sensitivity-derived threshold (16-bit PCM units).
type EnergyClassifier struct {
	threshold float64
}

func sensitivityToThreshold(sensitivity int) float64 {
	switch {
	case sensitivity <= 1:
		return 1500
	case sensitivity == 2:
		return 1000
	case sensitivity == 3:
		return 700
	case sensitivity == 4:
		return 450
	default:
		return 250
	}
}

func NewEnergyClassifier(sensitivity int) *EnergyClassifier {
	return &EnergyClassifier{threshold: sensitivityToThreshold(sensitivity)}
}

func (c *EnergyClassifier) IsSpeech(pcm []int16, _ int) (bool, error) {
	return rms(pcm) > c.threshold, nil
}

func (c *EnergyClassifier) Close() error {
	return nil
}

func rms(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
