// Package whisper implements the fully-offline batch engine on the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/dictalabs/dicta-core/internal/audio"
	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/engine"
	"github.com/dictalabs/dicta-core/internal/vad"
)

// Adapter runs whisper.cpp inference on closed utterances. One model handle
// is shared by all inferences; load/unload are serialized by a handle lock
// and a generation counter so an unload during in-flight inference lets the
// inference complete but suppresses its output with ErrCancelled.
type Adapter struct {
	cfg       config.EngineConfig
	log       *slog.Logger
	modelPath string

	mu         sync.Mutex
	model      whisperlib.Model
	generation uint64
	inflight   sync.WaitGroup
}

func New(cfg config.EngineConfig, log *slog.Logger) *Adapter {
	return &Adapter{
		cfg:       cfg,
		log:       log.With(slog.String("component", "engine.whisper")),
		modelPath: resolveModelPath(cfg),
	}
}

// resolveModelPath prefers the explicit model_path and otherwise derives the
// conventional ggml file name from model_size under the user data dir.
func resolveModelPath(cfg config.EngineConfig) string {
	if cfg.ModelPath != "" {
		return cfg.ModelPath
	}
	size := cfg.ModelSize
	if size == "" {
		size = "base"
	}
	dataDir, err := os.UserHomeDir()
	if err != nil {
		dataDir = "."
	}
	return filepath.Join(dataDir, ".local", "share", "dicta", "models", fmt.Sprintf("ggml-%s.bin", size))
}

func (a *Adapter) Descriptor() engine.Descriptor {
	desc := engine.Descriptor{
		ID:        "whisper",
		Streaming: false,
		Languages: []string{a.language()},
		ModelSize: a.cfg.ModelSize,
	}
	if _, err := os.Stat(a.modelPath); err != nil {
		desc.Available = false
		desc.Detail = fmt.Sprintf("model not installed at %s", a.modelPath)
	} else {
		desc.Available = true
	}
	return desc
}

func (a *Adapter) language() string {
	if a.cfg.Language != "" {
		return a.cfg.Language
	}
	return "en"
}

// Load brings the model into memory. Slow (seconds for larger models); the
// session controller calls it from a worker goroutine.
func (a *Adapter) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return engine.ErrCancelled
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.model != nil {
		return nil
	}

	model, err := whisperlib.New(a.modelPath)
	if err != nil {
		return fmt.Errorf("%w: whisper model %s: %v", engine.ErrLoadFailed, a.modelPath, err)
	}
	a.model = model
	a.log.Info("whisper model loaded", slog.String("path", a.modelPath))
	return nil
}

func (a *Adapter) Feed(ctx context.Context, utt *vad.Utterance, emit func(engine.TranscriptEvent)) error {
	a.mu.Lock()
	model := a.model
	generation := a.generation
	if model != nil {
		a.inflight.Add(1)
	}
	a.mu.Unlock()

	if model == nil {
		return engine.ErrNotLoaded
	}
	defer a.inflight.Done()

	text, err := a.infer(ctx, model, utt)
	if err != nil {
		return err
	}

	// An unload raced this inference: the model memory is about to be (or
	// already was) released and the session is tearing down. Drop the text.
	a.mu.Lock()
	stale := generation != a.generation
	a.mu.Unlock()
	if stale {
		return engine.ErrCancelled
	}

	emit(engine.TranscriptEvent{UtteranceID: utt.ID, Text: text, Final: true})
	return nil
}

func (a *Adapter) infer(ctx context.Context, model whisperlib.Model, utt *vad.Utterance) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", engine.ErrCancelled
	}

	// Contexts are not thread-safe but are cheap; the model itself is shared.
	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("%w: create context: %v", engine.ErrInferenceFailed, err)
	}
	if err := wctx.SetLanguage(a.language()); err != nil {
		a.log.Warn("failed to set language, using model default",
			slog.String("language", a.language()),
			slog.String("error", err.Error()))
	}
	if a.cfg.Threads > 0 {
		wctx.SetThreads(uint(a.cfg.Threads))
	}

	samples := audio.Int16ToFloat32(utt.Samples)
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("%w: process audio: %v", engine.ErrInferenceFailed, err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: read segment: %v", engine.ErrInferenceFailed, err)
		}
		parts = append(parts, strings.TrimSpace(segment.Text))
	}
	return strings.TrimSpace(strings.Join(parts, " ")), nil
}

// Unload bumps the generation, waits for in-flight inference to complete,
// then releases the model memory. Concurrent Feed calls that started before
// the bump return ErrCancelled instead of emitting stale text.
func (a *Adapter) Unload() error {
	a.mu.Lock()
	model := a.model
	a.model = nil
	a.generation++
	a.mu.Unlock()

	if model == nil {
		return nil
	}

	a.inflight.Wait()
	if err := model.Close(); err != nil {
		return fmt.Errorf("close whisper model: %w", err)
	}
	a.log.Info("whisper model unloaded")
	return nil
}
