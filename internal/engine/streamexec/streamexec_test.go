package streamexec

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/engine"
	"github.com/dictalabs/dicta-core/internal/vad"
)

func writeStubRecognizer(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub recognizer script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "stub-recognizer")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func testUtterance() *vad.Utterance {
	return &vad.Utterance{
		ID:         "u1",
		Samples:    make([]int16, 3200),
		SampleRate: 16000,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFeedStreamsPartialsThenFinal(t *testing.T) {
	script := `#!/bin/sh
cat > /dev/null
echo '{"text":"hello","final":false}'
echo '{"text":"hello world","final":true,"confidence":0.9}'
`
	cmd := writeStubRecognizer(t, script)
	a := New(config.EngineConfig{StreamCommand: cmd, Language: "en"}, discardLogger())

	if !a.Descriptor().Available {
		t.Fatalf("expected stub recognizer to probe available: %s", a.Descriptor().Detail)
	}
	if err := a.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	var events []engine.TranscriptEvent
	err := a.Feed(context.Background(), testUtterance(), func(ev engine.TranscriptEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("feed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Final || !events[1].Final {
		t.Fatalf("expected partial then final, got %+v", events)
	}
	if events[1].Text != "hello world" || events[1].Confidence != 0.9 {
		t.Fatalf("unexpected final event %+v", events[1])
	}
}

func TestFeedWithoutFinalIsInferenceFailure(t *testing.T) {
	script := `#!/bin/sh
cat > /dev/null
echo '{"text":"hello","final":false}'
`
	cmd := writeStubRecognizer(t, script)
	a := New(config.EngineConfig{StreamCommand: cmd}, discardLogger())
	if err := a.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	err := a.Feed(context.Background(), testUtterance(), func(engine.TranscriptEvent) {})
	if !errors.Is(err, engine.ErrInferenceFailed) {
		t.Fatalf("expected ErrInferenceFailed, got %v", err)
	}
}

func TestFeedCancelled(t *testing.T) {
	script := `#!/bin/sh
cat > /dev/null
sleep 30
`
	cmd := writeStubRecognizer(t, script)
	a := New(config.EngineConfig{StreamCommand: cmd}, discardLogger())
	if err := a.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.Feed(ctx, testUtterance(), func(engine.TranscriptEvent) {})
	}()
	cancel()

	if err := <-done; !errors.Is(err, engine.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestDescriptorUnavailableWithoutCommand(t *testing.T) {
	a := New(config.EngineConfig{}, discardLogger())
	desc := a.Descriptor()
	if desc.Available {
		t.Fatal("expected unavailable without a configured command")
	}
	if err := a.Load(context.Background()); !errors.Is(err, engine.ErrLoadFailed) {
		t.Fatalf("expected ErrLoadFailed, got %v", err)
	}
}

func TestFeedBeforeLoad(t *testing.T) {
	script := "#!/bin/sh\ncat > /dev/null\n"
	cmd := writeStubRecognizer(t, script)
	a := New(config.EngineConfig{StreamCommand: cmd}, discardLogger())

	err := a.Feed(context.Background(), testUtterance(), func(engine.TranscriptEvent) {})
	if !errors.Is(err, engine.ErrNotLoaded) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
}
