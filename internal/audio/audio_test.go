package audio

import (
	"testing"
	"time"
)

func TestInt16BytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	got := BytesToInt16(Int16ToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d: got %d want %d", i, got[i], samples[i])
		}
	}
}

func TestInt16ToFloat32Range(t *testing.T) {
	out := Int16ToFloat32([]int16{-32768, 0, 32767})
	if out[0] != -1.0 {
		t.Fatalf("expected -1.0 for min sample, got %v", out[0])
	}
	if out[1] != 0 {
		t.Fatalf("expected 0 for zero sample, got %v", out[1])
	}
	if out[2] <= 0.999 || out[2] > 1.0 {
		t.Fatalf("expected ~1.0 for max sample, got %v", out[2])
	}
}

func TestFrameDuration(t *testing.T) {
	f := Frame{PCM: make([]int16, 320), SampleRate: 16000}
	if f.Duration() != 20*time.Millisecond {
		t.Fatalf("expected 20ms frame, got %v", f.Duration())
	}
}

func TestPushDropOldest(t *testing.T) {
	ch := make(chan Frame, 2)

	first := Frame{PCM: []int16{1}}
	second := Frame{PCM: []int16{2}}
	third := Frame{PCM: []int16{3}}

	if pushDropOldest(ch, first) {
		t.Fatal("unexpected drop on empty queue")
	}
	if pushDropOldest(ch, second) {
		t.Fatal("unexpected drop on non-full queue")
	}
	if !pushDropOldest(ch, third) {
		t.Fatal("expected drop on full queue")
	}

	// The oldest frame must be gone; the two newest remain in order.
	got := <-ch
	if got.PCM[0] != 2 {
		t.Fatalf("expected oldest frame dropped, head is %d", got.PCM[0])
	}
	got = <-ch
	if got.PCM[0] != 3 {
		t.Fatalf("expected newest frame retained, got %d", got.PCM[0])
	}
}

func TestDumpWAV(t *testing.T) {
	dir := t.TempDir()
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	path, err := DumpWAV(dir, samples, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path == "" {
		t.Fatal("expected a file path")
	}
}
