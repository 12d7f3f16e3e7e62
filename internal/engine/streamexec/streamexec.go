// Package streamexec implements the fully-offline streaming engine by
// driving a local recognizer subprocess (a vosk/whisper-stream style CLI):
// raw 16-bit little-endian PCM on stdin, JSON events one per line on stdout.
//
// Event lines have the shape
//
//	{"text":"partial so far","final":false}
//	{"text":"full utterance","final":true,"confidence":0.93}
//
// One subprocess is spawned per utterance; partial events stream back while
// audio is still being written, the final event arrives after stdin closes.
package streamexec

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	shellwords "github.com/mattn/go-shellwords"

	"github.com/dictalabs/dicta-core/internal/audio"
	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/engine"
	"github.com/dictalabs/dicta-core/internal/vad"
)

// chunkSamples is the stdin write granularity (~100ms at 16kHz), small
// enough that the recognizer can emit partials while the utterance streams.
const chunkSamples = 1600

type eventLine struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence"`
}

// Adapter spawns the configured recognizer command per utterance.
type Adapter struct {
	cfg  config.EngineConfig
	log  *slog.Logger
	argv []string

	mu     sync.Mutex
	loaded bool
}

func New(cfg config.EngineConfig, log *slog.Logger) *Adapter {
	a := &Adapter{
		cfg: cfg,
		log: log.With(slog.String("component", "engine.streamexec")),
	}
	if cfg.StreamCommand != "" {
		if argv, err := shellwords.NewParser().Parse(cfg.StreamCommand); err == nil {
			a.argv = argv
		} else {
			a.log.Warn("failed to parse stream command", slog.String("error", err.Error()))
		}
	}
	return a
}

func (a *Adapter) Descriptor() engine.Descriptor {
	desc := engine.Descriptor{
		ID:        "stream-exec",
		Streaming: true,
		Languages: []string{a.cfg.Language},
		ModelSize: a.cfg.ModelSize,
	}
	if len(a.argv) == 0 {
		desc.Detail = "engine.stream_command not configured"
		return desc
	}
	if _, err := exec.LookPath(a.argv[0]); err != nil {
		desc.Detail = fmt.Sprintf("%s not found on PATH", a.argv[0])
		return desc
	}
	desc.Available = true
	return desc
}

// Load verifies the recognizer binary exists. The actual model is loaded by
// the subprocess per utterance, so there is nothing slow to do here.
func (a *Adapter) Load(_ context.Context) error {
	if len(a.argv) == 0 {
		return fmt.Errorf("%w: engine.stream_command not configured", engine.ErrLoadFailed)
	}
	if _, err := exec.LookPath(a.argv[0]); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrLoadFailed, err)
	}
	a.mu.Lock()
	a.loaded = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Feed(ctx context.Context, utt *vad.Utterance, emit func(engine.TranscriptEvent)) error {
	a.mu.Lock()
	loaded := a.loaded
	a.mu.Unlock()
	if !loaded {
		return engine.ErrNotLoaded
	}

	args := append([]string(nil), a.argv[1:]...)
	args = append(args, "--sample-rate", fmt.Sprint(utt.SampleRate))
	if a.cfg.ModelPath != "" {
		args = append(args, "--model", a.cfg.ModelPath)
	}
	if a.cfg.Language != "" {
		args = append(args, "--language", a.cfg.Language)
	}

	cmd := exec.CommandContext(ctx, a.argv[0], args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", engine.ErrInferenceFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", engine.ErrInferenceFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start recognizer: %v", engine.ErrInferenceFailed, err)
	}

	// Writer: stream the utterance in small chunks, then close stdin to
	// signal end of audio.
	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		samples := utt.Samples
		for len(samples) > 0 {
			n := chunkSamples
			if n > len(samples) {
				n = len(samples)
			}
			if _, err := stdin.Write(audio.Int16ToBytes(samples[:n])); err != nil {
				writeErr <- err
				return
			}
			samples = samples[n:]
		}
		writeErr <- nil
	}()

	sawFinal := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev eventLine
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			a.log.Warn("unparseable recognizer event", slog.String("line", scanner.Text()))
			continue
		}
		if ev.Text == "" {
			continue
		}
		emit(engine.TranscriptEvent{
			UtteranceID: utt.ID,
			Text:        ev.Text,
			Final:       ev.Final,
			Confidence:  ev.Confidence,
		})
		if ev.Final {
			sawFinal = true
		}
	}

	waitErr := cmd.Wait()
	if err := ctx.Err(); err != nil {
		return engine.ErrCancelled
	}
	if err := <-writeErr; err != nil {
		return fmt.Errorf("%w: write audio: %v", engine.ErrInferenceFailed, err)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: read events: %v", engine.ErrInferenceFailed, err)
	}
	if waitErr != nil {
		return fmt.Errorf("%w: recognizer exited: %v", engine.ErrInferenceFailed, waitErr)
	}
	if !sawFinal {
		return fmt.Errorf("%w: recognizer produced no final event", engine.ErrInferenceFailed)
	}
	return nil
}

func (a *Adapter) Unload() error {
	a.mu.Lock()
	a.loaded = false
	a.mu.Unlock()
	return nil
}
