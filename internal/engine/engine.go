// Package engine defines the uniform contract implemented by every speech
// recognition backend. Streaming and batch engines sit behind the same
// Adapter interface: batch backends simply emit a single final event per
// utterance, streaming backends emit partials first.
package engine

import (
	"context"
	"errors"

	"github.com/dictalabs/dicta-core/internal/vad"
)

var (
	// ErrLoadFailed wraps any failure to bring a backend's model up.
	ErrLoadFailed = errors.New("engine: load failed")
	// ErrInferenceFailed marks a transient recognition failure; the caller
	// may retry the same utterance at most once.
	ErrInferenceFailed = errors.New("engine: inference failed")
	// ErrCancelled is returned when an unload tears down a backend while an
	// utterance is in flight. It is a cooperative outcome, not a defect.
	ErrCancelled = errors.New("engine: cancelled")
	// ErrNotLoaded is returned by Feed before a successful Load.
	ErrNotLoaded = errors.New("engine: model not loaded")
)

// Descriptor identifies an adapter, its capability set, and its probed
// availability. The descriptor set is established once at startup and only
// the Available flag may be flipped afterwards (on load failure).
type Descriptor struct {
	ID        string
	Streaming bool
	Languages []string
	ModelSize string
	Available bool
	Detail    string
}

// TranscriptEvent is one recognition result for an utterance. Seq is stamped
// by the session controller, monotonically increasing per session. Exactly
// one event with Final=true closes each utterance.
type TranscriptEvent struct {
	UtteranceID string
	Seq         uint64
	Text        string
	Final       bool
	Confidence  float64
}

// Adapter is the uniform backend contract.
//
// Load may be slow (seconds) and must be called off the audio and event
// threads. Feed transcribes exactly one utterance, delivering events through
// emit in order, ending with one final event. Unload releases model memory
// and must be safe to call mid-inference: outstanding Feed calls either
// complete or return ErrCancelled.
type Adapter interface {
	Descriptor() Descriptor
	Load(ctx context.Context) error
	Feed(ctx context.Context, utt *vad.Utterance, emit func(TranscriptEvent)) error
	Unload() error
}
