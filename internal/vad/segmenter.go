package vad

import (
	"fmt"
	"time"

	"github.com/dictalabs/dicta-core/internal/audio"
	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/google/uuid"
)

// Utterance is a contiguous speech segment bounded by detected start/end.
// It is immutable once the Segmenter returns it in an Ended event.
type Utterance struct {
	ID         string
	Samples    []int16
	SampleRate int
	StartedAt  time.Time
	EndedAt    time.Time
}

// Duration returns the audio length of the utterance.
func (u *Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// EventType tags the Segmenter output for one pushed frame.
type EventType int

const (
	// EventNone: nothing changed (silence outside an utterance, or debounce
	// still counting).
	EventNone EventType = iota
	// EventStarted: speech confirmed after the debounce run.
	EventStarted
	// EventContinuing: an utterance is open and absorbed the frame.
	EventContinuing
	// EventEnded: the silence timeout (or max length, or a flush) closed the
	// utterance; Event.Utterance is set.
	EventEnded
	// EventDiscarded: the segment ended but was shorter than min_speech_ms
	// and was thrown away as a noise transient.
	EventDiscarded
)

func (t EventType) String() string {
	switch t {
	case EventNone:
		return "none"
	case EventStarted:
		return "started"
	case EventContinuing:
		return "continuing"
	case EventEnded:
		return "ended"
	case EventDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Event is the result of pushing one frame into the Segmenter.
type Event struct {
	Type      EventType
	Utterance *Utterance
}

// Segmenter groups classified frames into utterances. Time accounting is
// based on frame durations rather than the wall clock, which keeps the
// silence timeout deterministic regardless of consumer scheduling.
//
// Not safe for concurrent use; the session controller owns it from a single
// goroutine.
type Segmenter struct {
	classifier Classifier
	cfg        config.VADConfig

	open         bool
	streak       int
	candidate    []int16
	samples      []int16
	sampleRate   int
	startedAt    time.Time
	speechDur    time.Duration
	silenceDur   time.Duration
	utteranceDur time.Duration
}

func NewSegmenter(cfg config.VADConfig, classifier Classifier) *Segmenter {
	return &Segmenter{
		classifier: classifier,
		cfg:        cfg,
	}
}

// Push classifies one frame and advances the segmentation state machine.
func (s *Segmenter) Push(frame audio.Frame) (Event, error) {
	speech, err := s.classifier.IsSpeech(frame.PCM, frame.SampleRate)
	if err != nil {
		return Event{}, fmt.Errorf("vad: classify frame: %w", err)
	}

	dur := frame.Duration()

	if !s.open {
		if !speech {
			s.streak = 0
			s.candidate = s.candidate[:0]
			return Event{Type: EventNone}, nil
		}
		s.streak++
		s.candidate = append(s.candidate, frame.PCM...)
		if s.streak < s.cfg.StartFrames {
			return Event{Type: EventNone}, nil
		}

		// Debounce satisfied: the candidate frames become the utterance head
		// so the first syllables are not clipped.
		s.open = true
		s.sampleRate = frame.SampleRate
		s.startedAt = frame.Timestamp
		s.samples = append(s.samples[:0], s.candidate...)
		s.candidate = s.candidate[:0]
		s.streak = 0
		s.speechDur = time.Duration(s.cfg.StartFrames) * dur
		s.silenceDur = 0
		s.utteranceDur = s.speechDur
		return Event{Type: EventStarted}, nil
	}

	s.samples = append(s.samples, frame.PCM...)
	s.utteranceDur += dur
	if speech {
		s.speechDur += dur
		s.silenceDur = 0
	} else {
		s.silenceDur += dur
	}

	silenceTimeout := time.Duration(s.cfg.SilenceTimeoutSeconds * float64(time.Second))
	maxUtterance := time.Duration(s.cfg.MaxUtteranceMS) * time.Millisecond

	if s.silenceDur >= silenceTimeout || (maxUtterance > 0 && s.utteranceDur >= maxUtterance) {
		return s.close(frame.Timestamp), nil
	}
	return Event{Type: EventContinuing}, nil
}

// Flush force-closes the open utterance, if any. Called when the session is
// toggled off mid-utterance so the user's final words are not lost.
func (s *Segmenter) Flush() Event {
	if !s.open {
		return Event{Type: EventNone}
	}
	return s.close(time.Now())
}

// Open reports whether an utterance is currently being collected.
func (s *Segmenter) Open() bool {
	return s.open
}

// Reset drops all segmentation state, including any open utterance.
func (s *Segmenter) Reset() {
	s.open = false
	s.streak = 0
	s.candidate = s.candidate[:0]
	s.samples = nil
	s.speechDur = 0
	s.silenceDur = 0
	s.utteranceDur = 0
}

func (s *Segmenter) close(endedAt time.Time) Event {
	minSpeech := time.Duration(s.cfg.MinSpeechMS) * time.Millisecond
	speechDur := s.speechDur
	samples := s.samples

	s.open = false
	s.samples = nil
	s.speechDur = 0
	s.silenceDur = 0
	s.utteranceDur = 0

	if speechDur < minSpeech {
		return Event{Type: EventDiscarded}
	}

	utt := &Utterance{
		ID:         uuid.NewString(),
		Samples:    samples,
		SampleRate: s.sampleRate,
		StartedAt:  s.startedAt,
		EndedAt:    endedAt,
	}
	return Event{Type: EventEnded, Utterance: utt}
}
