// Package vad converts the continuous microphone frame stream into bounded
// utterances. A per-frame Classifier decides speech vs. silence; the
// Segmenter applies start debouncing and the silence timeout to produce
// Started/Continuing/Ended events.
package vad

import (
	"fmt"

	"github.com/dictalabs/dicta-core/internal/config"
)

// Classifier decides whether a single PCM frame contains speech.
type Classifier interface {
	IsSpeech(pcm []int16, sampleRate int) (bool, error)
	Close() error
}

// NewClassifier builds the configured classifier. The WebRTC classifier
// needs CGO; the energy classifier is the pure-Go fallback.
func NewClassifier(cfg config.VADConfig, sampleRate int) (Classifier, error) {
	switch cfg.Classifier {
	case "webrtc":
		return NewWebRTCClassifier(cfg.Sensitivity, sampleRate)
	case "energy":
		return NewEnergyClassifier(cfg.Sensitivity), nil
	default:
		return nil, fmt.Errorf("vad: unknown classifier %q", cfg.Classifier)
	}
}
