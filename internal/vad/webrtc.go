package vad

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// WebRTCClassifier wraps the WebRTC VAD. Aggressiveness runs opposite to the
// user-facing sensitivity scale: sensitivity 1 filters hardest, 5 accepts the
// most audio as speech.
type WebRTCClassifier struct {
	vad        *webrtcvad.VAD
	sampleRate int
	mode       int
}

func sensitivityToMode(sensitivity int) int {
	switch {
	case sensitivity <= 1:
		return 3
	case sensitivity <= 3:
		return 2
	case sensitivity == 4:
		return 1
	default:
		return 0
	}
}

func NewWebRTCClassifier(sensitivity, sampleRate int) (*WebRTCClassifier, error) {
	switch sampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("vad: sample rate %d not supported by webrtc classifier", sampleRate)
	}

	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("vad: create webrtc vad: %w", err)
	}
	mode := sensitivityToMode(sensitivity)
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("vad: set webrtc mode: %w", err)
	}

	return &WebRTCClassifier{
		vad:        v,
		sampleRate: sampleRate,
		mode:       mode,
	}, nil
}

func (c *WebRTCClassifier) IsSpeech(pcm []int16, sampleRate int) (bool, error) {
	// The classifier accepts 10/20/30ms windows; process the frame in 10ms
	// sub-windows and report speech if any window is active.
	window := sampleRate / 100
	if len(pcm) < window {
		padded := make([]int16, window)
		copy(padded, pcm)
		pcm = padded
	}
	for i := 0; i+window <= len(pcm); i += window {
		active, err := c.vad.Process(sampleRate, int16ToBytes(pcm[i:i+window]))
		if err != nil {
			return false, fmt.Errorf("vad: webrtc process: %w", err)
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}

func (c *WebRTCClassifier) Close() error {
	return nil
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
