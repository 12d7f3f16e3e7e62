package vad

import (
	"testing"
	"time"

	"github.com/dictalabs/dicta-core/internal/audio"
	"github.com/dictalabs/dicta-core/internal/config"
)

const testSampleRate = 16000

func testConfig() config.VADConfig {
	return config.VADConfig{
		Classifier:            "energy",
		Sensitivity:           3,
		SilenceTimeoutSeconds: 0.2, // 10 silence frames at 20ms
		StartFrames:           3,
		MinSpeechMS:           60,
		MaxUtteranceMS:        10000,
	}
}

func frame(loud bool, ts time.Time) audio.Frame {
	pcm := make([]int16, 320) // 20ms at 16kHz
	if loud {
		for i := range pcm {
			pcm[i] = 5000
		}
	}
	return audio.Frame{PCM: pcm, SampleRate: testSampleRate, Timestamp: ts}
}

func newTestSegmenter(t *testing.T, cfg config.VADConfig) *Segmenter {
	t.Helper()
	return NewSegmenter(cfg, NewEnergyClassifier(cfg.Sensitivity))
}

func push(t *testing.T, s *Segmenter, loud bool) Event {
	t.Helper()
	ev, err := s.Push(frame(loud, time.Now()))
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	return ev
}

func TestStartDebounce(t *testing.T) {
	s := newTestSegmenter(t, testConfig())

	// Two speech frames then silence: transient noise, no utterance.
	if ev := push(t, s, true); ev.Type != EventNone {
		t.Fatalf("expected none, got %v", ev.Type)
	}
	if ev := push(t, s, true); ev.Type != EventNone {
		t.Fatalf("expected none, got %v", ev.Type)
	}
	if ev := push(t, s, false); ev.Type != EventNone {
		t.Fatalf("expected none after transient, got %v", ev.Type)
	}
	if s.Open() {
		t.Fatal("segmenter should not be open after a transient")
	}

	// Three consecutive speech frames confirm the start.
	push(t, s, true)
	push(t, s, true)
	if ev := push(t, s, true); ev.Type != EventStarted {
		t.Fatalf("expected started, got %v", ev.Type)
	}
	if !s.Open() {
		t.Fatal("segmenter should be open after start")
	}
}

func TestSilenceTimeoutClosesUtterance(t *testing.T) {
	s := newTestSegmenter(t, testConfig())

	for i := 0; i < 3; i++ {
		push(t, s, true)
	}
	for i := 0; i < 5; i++ {
		if ev := push(t, s, true); ev.Type != EventContinuing {
			t.Fatalf("expected continuing, got %v", ev.Type)
		}
	}

	var ended Event
	for i := 0; i < 10; i++ {
		ended = push(t, s, false)
		if ended.Type == EventEnded {
			break
		}
		if ended.Type != EventContinuing {
			t.Fatalf("expected continuing during silence run, got %v", ended.Type)
		}
	}
	if ended.Type != EventEnded {
		t.Fatal("expected utterance to end after silence timeout")
	}
	if ended.Utterance == nil || len(ended.Utterance.Samples) == 0 {
		t.Fatal("expected utterance samples")
	}
	// 8 speech frames (3 debounce + 5) plus 10 silence frames, 320 samples each.
	if got := len(ended.Utterance.Samples); got != 18*320 {
		t.Fatalf("expected 18 frames of samples, got %d samples", got)
	}
	if s.Open() {
		t.Fatal("segmenter must be closed after end")
	}
}

func TestShortBlipDiscarded(t *testing.T) {
	cfg := testConfig()
	cfg.MinSpeechMS = 200 // 10 frames of speech required
	s := newTestSegmenter(t, cfg)

	for i := 0; i < 3; i++ {
		push(t, s, true)
	}
	var last Event
	for i := 0; i < 12; i++ {
		last = push(t, s, false)
		if last.Type != EventContinuing {
			break
		}
	}
	if last.Type != EventDiscarded {
		t.Fatalf("expected short segment discarded, got %v", last.Type)
	}
}

func TestFlushClosesMidUtterance(t *testing.T) {
	s := newTestSegmenter(t, testConfig())

	for i := 0; i < 3; i++ {
		push(t, s, true)
	}
	push(t, s, true)

	ev := s.Flush()
	if ev.Type != EventEnded {
		t.Fatalf("expected flush to end the utterance, got %v", ev.Type)
	}
	if ev.Utterance == nil || len(ev.Utterance.Samples) != 4*320 {
		t.Fatal("expected flushed utterance to keep all captured audio")
	}
	if s.Open() {
		t.Fatal("segmenter must be closed after flush")
	}

	// Flushing when idle is a no-op.
	if ev := s.Flush(); ev.Type != EventNone {
		t.Fatalf("expected none on idle flush, got %v", ev.Type)
	}
}

func TestMaxUtteranceForcesClose(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUtteranceMS = 200
	s := newTestSegmenter(t, cfg)

	for i := 0; i < 3; i++ {
		push(t, s, true)
	}
	var last Event
	for i := 0; i < 20; i++ {
		last = push(t, s, true)
		if last.Type == EventEnded {
			break
		}
	}
	if last.Type != EventEnded {
		t.Fatal("expected forced close at max utterance length")
	}
}

func TestEnergyThresholdFollowsSensitivity(t *testing.T) {
	quiet := make([]int16, 320)
	for i := range quiet {
		quiet[i] = 500
	}

	insensitive := NewEnergyClassifier(1)
	sensitive := NewEnergyClassifier(5)

	if speech, _ := insensitive.IsSpeech(quiet, testSampleRate); speech {
		t.Fatal("sensitivity 1 should reject quiet audio")
	}
	if speech, _ := sensitive.IsSpeech(quiet, testSampleRate); !speech {
		t.Fatal("sensitivity 5 should accept quiet audio")
	}
}
