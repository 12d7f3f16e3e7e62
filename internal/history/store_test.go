package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/dictalabs/dicta-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeralNeverTouchesDisk(t *testing.T) {
	cfg := config.HistoryConfig{RetentionMode: "ephemeral", Path: filepath.Join(t.TempDir(), "never.db")}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.BeginSession(context.Background(), "s1", "whisper"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := s.Record(context.Background(), Entry{SessionID: "s1", Kind: "transcript", Text: "hi"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	entries, err := s.ListSession(context.Background(), "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if entries != nil {
		t.Fatalf("ephemeral store returned entries: %+v", entries)
	}
}

func TestRecordAndList(t *testing.T) {
	cfg := config.HistoryConfig{Path: filepath.Join(t.TempDir(), "history.db"), RetentionMode: "session"}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	if err := s.BeginSession(ctx, "s1", "whisper"); err != nil {
		t.Fatalf("begin session: %v", err)
	}
	if err := s.Record(ctx, Entry{SessionID: "s1", UtteranceID: "u1", Kind: "transcript", Text: "hello world.", Confidence: 0.9}); err != nil {
		t.Fatalf("record transcript: %v", err)
	}
	if err := s.Record(ctx, Entry{SessionID: "s1", UtteranceID: "u1", Kind: "action", Text: "newline"}); err != nil {
		t.Fatalf("record action: %v", err)
	}

	entries, err := s.ListSession(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Kind != "transcript" || entries[0].Text != "hello world." {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Kind != "action" || entries[1].Text != "newline" {
		t.Fatalf("unexpected second entry %+v", entries[1])
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	cfg := config.HistoryConfig{
		Path:          filepath.Join(t.TempDir(), "history.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
		MaxSessions:   1,
	}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	s.clock = func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }
	if err := s.BeginSession(ctx, "old", "whisper"); err != nil {
		t.Fatalf("begin old: %v", err)
	}
	if err := s.Record(ctx, Entry{SessionID: "old", Kind: "transcript", Text: "stale"}); err != nil {
		t.Fatalf("record old: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC) }
	if err := s.BeginSession(ctx, "new", "whisper"); err != nil {
		t.Fatalf("begin new: %v", err)
	}
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	old, err := s.ListSession(ctx, "old", 10)
	if err != nil {
		t.Fatalf("list old: %v", err)
	}
	if len(old) != 0 {
		t.Fatalf("expected old entries pruned, got %+v", old)
	}
}
