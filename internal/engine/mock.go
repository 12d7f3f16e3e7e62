package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/dictalabs/dicta-core/internal/vad"
)

// MockAdapter is the always-available last-resort backend. It emits a
// placeholder transcript describing the utterance, which keeps the pipeline
// exercisable on machines without any recognizer installed.
type MockAdapter struct {
	mu     sync.Mutex
	loaded bool

	// Transcript overrides the placeholder text when set (used by tests).
	Transcript string
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

func (m *MockAdapter) Descriptor() Descriptor {
	return Descriptor{
		ID:        "mock",
		Streaming: false,
		Languages: []string{"en"},
		Available: true,
		Detail:    "placeholder transcripts only",
	}
}

func (m *MockAdapter) Load(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = true
	return nil
}

func (m *MockAdapter) Feed(ctx context.Context, utt *vad.Utterance, emit func(TranscriptEvent)) error {
	m.mu.Lock()
	loaded := m.loaded
	text := m.Transcript
	m.mu.Unlock()

	if !loaded {
		return ErrNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return ErrCancelled
	}
	if text == "" {
		text = fmt.Sprintf("[no recognizer installed, %0.1fs of audio]", utt.Duration().Seconds())
	}
	emit(TranscriptEvent{UtteranceID: utt.ID, Text: text, Final: true})
	return nil
}

func (m *MockAdapter) Unload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = false
	return nil
}
