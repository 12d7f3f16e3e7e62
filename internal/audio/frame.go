package audio

import "time"

// Frame is one fixed-duration chunk of mono PCM captured from the microphone.
// A Frame is handed to exactly one consumer and never mutated afterwards.
type Frame struct {
	PCM        []int16
	SampleRate int
	Timestamp  time.Time
}

// Duration returns the audio length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.PCM)) * time.Second / time.Duration(f.SampleRate)
}
