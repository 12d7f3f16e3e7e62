package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dictalabs/dicta-core/internal/audio"
	"github.com/dictalabs/dicta-core/internal/command"
	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/engine"
	"github.com/dictalabs/dicta-core/internal/protocol"
	"github.com/dictalabs/dicta-core/internal/vad"
)

const frameSamples = 320 // 20ms at 16kHz

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubClassifier declares speech for any non-zero frame, keeping the VAD
// fully deterministic in tests.
type stubClassifier struct{}

func (stubClassifier) IsSpeech(pcm []int16, _ int) (bool, error) { return pcm[0] != 0, nil }
func (stubClassifier) Close() error                              { return nil }

type fakeSource struct {
	ch   chan audio.Frame
	once sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan audio.Frame, 256)}
}

func (f *fakeSource) Start(context.Context) error { return nil }
func (f *fakeSource) Frames() <-chan audio.Frame  { return f.ch }
func (f *fakeSource) Stop() error {
	f.once.Do(func() { close(f.ch) })
	return nil
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) push(speech bool, n int) {
	for i := 0; i < n; i++ {
		pcm := make([]int16, frameSamples)
		if speech {
			for j := range pcm {
				pcm[j] = 1000
			}
		}
		f.ch <- audio.Frame{PCM: pcm, SampleRate: 16000, Timestamp: time.Now()}
	}
}

type fakeInjector struct {
	mu   sync.Mutex
	fail bool
	outs []command.Output
}

func (f *fakeInjector) Inject(_ context.Context, out command.Output) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("injection exploded")
	}
	f.outs = append(f.outs, out)
	return nil
}

func (f *fakeInjector) outputs() []command.Output {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]command.Output(nil), f.outs...)
}

type fakePublisher struct {
	mu          sync.Mutex
	transcripts []protocol.Transcript
}

func (f *fakePublisher) PublishStatus(protocol.Status) {}

func (f *fakePublisher) PublishTranscript(tr protocol.Transcript) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, tr)
}

func (f *fakePublisher) all() []protocol.Transcript {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Transcript(nil), f.transcripts...)
}

// slowAdapter blocks in Feed until released, for exercising the Processing
// state.
type slowAdapter struct {
	engine.MockAdapter
	release chan struct{}
}

func (s *slowAdapter) Feed(ctx context.Context, utt *vad.Utterance, emit func(engine.TranscriptEvent)) error {
	select {
	case <-ctx.Done():
		return engine.ErrCancelled
	case <-s.release:
	}
	return s.MockAdapter.Feed(ctx, utt, emit)
}

type failingAdapter struct {
	engine.MockAdapter
}

func (failingAdapter) Descriptor() engine.Descriptor {
	return engine.Descriptor{ID: "failing", Available: true}
}

func (failingAdapter) Load(context.Context) error {
	return fmt.Errorf("%w: model corrupt", engine.ErrLoadFailed)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Engine.Backend = "mock"
	cfg.Engine.Fallbacks = nil
	cfg.VAD = config.VADConfig{
		Classifier:            "energy",
		Sensitivity:           3,
		SilenceTimeoutSeconds: 0.1,
		StartFrames:           2,
		MinSpeechMS:           40,
		MaxUtteranceMS:        10000,
	}
	cfg.History.RetentionMode = "ephemeral"
	return cfg
}

type harness struct {
	ctrl     *Controller
	src      *fakeSource
	inj      *fakeInjector
	pub      *fakePublisher
	registry *engine.Registry
}

func newHarness(t *testing.T, cfg config.Config, adapters ...engine.Adapter) *harness {
	t.Helper()
	log := discardLogger()

	registry := engine.NewRegistry(log)
	if len(adapters) == 0 {
		mock := engine.NewMockAdapter()
		mock.Transcript = "hello world"
		adapters = []engine.Adapter{mock}
	}
	for _, a := range adapters {
		registry.Register(a)
	}

	h := &harness{
		src:      newFakeSource(),
		inj:      &fakeInjector{},
		pub:      &fakePublisher{},
		registry: registry,
	}

	deps := Deps{
		Registry:      registry,
		Interpreter:   command.NewInterpreter(cfg.Commands, log),
		NewSource:     func() (FrameSource, error) { return h.src, nil },
		NewClassifier: func() (vad.Classifier, error) { return stubClassifier{}, nil },
		NewInjector:   func() Injector { return h.inj },
		Publisher:     h.pub,
	}

	h.ctrl = NewController(context.Background(), cfg, deps, log)
	if err := h.ctrl.Start(); err != nil {
		t.Fatalf("start controller: %v", err)
	}
	t.Cleanup(h.ctrl.Close)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestUtteranceFlowsToInjector(t *testing.T) {
	h := newHarness(t, testConfig())

	h.ctrl.Toggle("test")
	waitFor(t, "listening", func() bool { return h.ctrl.State() == StateListening })

	h.src.push(true, 10)  // speech
	h.src.push(false, 10) // silence past the 0.1s timeout

	waitFor(t, "injected output", func() bool { return len(h.inj.outputs()) == 1 })
	out := h.inj.outputs()[0]
	if !out.IsLiteral() || out.Text != "hello world" {
		t.Fatalf("unexpected output %+v", out)
	}

	// Session continues listening after the utterance.
	waitFor(t, "listening again", func() bool { return h.ctrl.State() == StateListening })

	finals := 0
	for _, tr := range h.pub.all() {
		if !tr.Partial {
			finals++
		}
		if tr.Seq == 0 {
			t.Fatalf("transcript without sequence number: %+v", tr)
		}
	}
	if finals != 1 {
		t.Fatalf("expected exactly one final transcript, got %d", finals)
	}
}

func TestToggleOffMidUtteranceFlushes(t *testing.T) {
	h := newHarness(t, testConfig())

	h.ctrl.Toggle("test")
	waitFor(t, "listening", func() bool { return h.ctrl.State() == StateListening })

	h.src.push(true, 10)
	// Give the run loop time to consume the speech frames so the
	// utterance is open when the toggle lands.
	waitFor(t, "frames consumed", func() bool { return len(h.src.ch) == 0 })

	h.ctrl.Toggle("test")
	waitFor(t, "flushed output", func() bool { return len(h.inj.outputs()) == 1 })
	waitFor(t, "idle", func() bool { return h.ctrl.State() == StateIdle })
}

func TestEngineFallbackOnLoadFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.Backend = "failing"
	cfg.Engine.Fallbacks = []string{"mock"}

	mock := engine.NewMockAdapter()
	mock.Transcript = "fallback text"
	h := newHarness(t, cfg, failingAdapter{}, mock)

	h.ctrl.Toggle("test")
	waitFor(t, "listening", func() bool { return h.ctrl.State() == StateListening })

	if got := h.ctrl.Status().Engine; got != "mock" {
		t.Fatalf("expected fallback to mock, got %q", got)
	}

	for _, d := range h.registry.Descriptors() {
		if d.ID == "failing" && d.Available {
			t.Fatal("failed engine must be marked unavailable")
		}
	}
}

func TestNoEngineEntersError(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.Backend = "failing"
	cfg.Engine.Fallbacks = nil

	h := newHarness(t, cfg, failingAdapter{})

	h.ctrl.Toggle("test")
	waitFor(t, "error state", func() bool { return h.ctrl.State() == StateError })

	if h.ctrl.Status().LastError == "" {
		t.Fatal("error state must carry a user-visible reason")
	}

	// Explicit reset via re-toggle.
	h.ctrl.Toggle("test")
	waitFor(t, "idle after reset", func() bool { return h.ctrl.State() == StateIdle })
}

func TestInjectionFailureEntersError(t *testing.T) {
	h := newHarness(t, testConfig())
	h.inj.fail = true

	h.ctrl.Toggle("test")
	waitFor(t, "listening", func() bool { return h.ctrl.State() == StateListening })

	h.src.push(true, 10)
	h.src.push(false, 10)

	waitFor(t, "error state", func() bool { return h.ctrl.State() == StateError })
}

func TestToggleDuringProcessingIsQueued(t *testing.T) {
	slow := &slowAdapter{release: make(chan struct{})}
	slow.Transcript = "slow result"

	cfg := testConfig()
	h := newHarness(t, cfg, slow)

	h.ctrl.Toggle("test")
	waitFor(t, "listening", func() bool { return h.ctrl.State() == StateListening })

	h.src.push(true, 10)
	h.src.push(false, 10)
	waitFor(t, "processing", func() bool { return h.ctrl.State() == StateProcessing })

	// Toggle while the engine is busy: applied after the final lands.
	h.ctrl.Toggle("test")
	time.Sleep(20 * time.Millisecond)
	if got := h.ctrl.State(); got != StateProcessing {
		t.Fatalf("toggle during processing must be deferred, state = %s", got)
	}

	close(slow.release)
	waitFor(t, "final injected", func() bool { return len(h.inj.outputs()) == 1 })
	waitFor(t, "idle after queued toggle", func() bool { return h.ctrl.State() == StateIdle })
}
