// Package inject delivers resolved dictation output into the focused
// application. Backend strategies are ordered for the detected display
// server and resolved once per session; each injection attempts the chain
// in order and falls through on failure, so one missing or broken tool
// degrades rather than stops dictation.
package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/dictalabs/dicta-core/internal/command"
	"github.com/dictalabs/dicta-core/internal/config"
)

// ErrAllBackendsFailed reports that every strategy in the chain failed for
// an output. The session surfaces it instead of dropping the text.
var ErrAllBackendsFailed = errors.New("all injection backends failed")

// Injector owns the per-session backend chain. Not safe for concurrent
// use; the session controller injects outputs one at a time.
type Injector struct {
	backends []Backend
	timeout  time.Duration
	log      *slog.Logger

	failed   map[string]bool
	lastRune int
}

// New resolves the backend chain for the configured or detected display
// server.
func New(cfg config.InjectionConfig, log *slog.Logger) *Injector {
	display := DetectDisplayServer(cfg.DisplayServer)
	return NewWithBackends(resolveBackends(cfg, display, log), cfg, log)
}

// NewWithBackends wires an explicit chain; tests use it with fakes.
func NewWithBackends(backends []Backend, cfg config.InjectionConfig, log *slog.Logger) *Injector {
	timeout := time.Duration(cfg.AttemptTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Injector{
		backends: backends,
		timeout:  timeout,
		log:      log.With(slog.String("component", "inject")),
		failed:   make(map[string]bool),
	}
}

// resolveBackends builds the strategy order for the display server and
// filters it down to tools that are actually installed.
func resolveBackends(cfg config.InjectionConfig, display string, log *slog.Logger) []Backend {
	xdo := &xdotoolBackend{run: runCommand}
	wt := &wtypeBackend{run: runCommand}
	yd := &ydotoolBackend{run: runCommand}

	var candidates []Backend
	var clip *clipboardBackend
	if display == "wayland" {
		candidates = []Backend{wt, yd}
		if hasXWayland() {
			candidates = append(candidates, xdo)
		}
		clip = &clipboardBackend{keyers: []Backend{wt, yd, xdo}}
	} else {
		candidates = []Backend{xdo}
		clip = &clipboardBackend{keyers: []Backend{xdo}}
	}
	candidates = append(candidates, clip)

	if len(cfg.Preference) > 0 {
		byName := make(map[string]Backend, len(candidates))
		for _, b := range candidates {
			byName[b.Name()] = b
		}
		var ordered []Backend
		for _, name := range cfg.Preference {
			if b, ok := byName[name]; ok {
				ordered = append(ordered, b)
			} else {
				log.Warn("unknown injection backend in preference list", slog.String("backend", name))
			}
		}
		if len(ordered) > 0 {
			candidates = ordered
		}
	}

	var usable []Backend
	names := make([]string, 0, len(candidates))
	for _, b := range candidates {
		if !b.Available() {
			continue
		}
		usable = append(usable, b)
		names = append(names, b.Name())
	}
	if len(usable) == 0 {
		log.Error("no injection backend available",
			slog.String("display_server", display))
	} else {
		log.Info("injection backends resolved",
			slog.String("display_server", display),
			slog.Any("chain", names))
	}
	return usable
}

// Backends returns the resolved chain names for status reporting.
func (in *Injector) Backends() []string {
	names := make([]string, 0, len(in.backends))
	for _, b := range in.backends {
		names = append(names, b.Name())
	}
	return names
}

// Inject delivers one resolved output through the first working backend.
func (in *Injector) Inject(ctx context.Context, out command.Output) error {
	if out.IsLiteral() {
		return in.typeText(ctx, out.Text)
	}
	return in.performAction(ctx, out.Action)
}

func (in *Injector) typeText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	err := in.attempt(ctx, "type text", func(ctx context.Context, b Backend) error {
		return b.TypeText(ctx, text)
	})
	if err == nil {
		in.lastRune = utf8.RuneCountInString(text)
	}
	return err
}

func (in *Injector) performAction(ctx context.Context, action command.Action) error {
	switch action {
	case command.ActionCapitalizeNext, command.ActionUppercaseNext, command.ActionLowercaseNext:
		// Formatting already shaped the literal that follows.
		return nil
	case command.ActionNewline:
		return in.pressKeys(ctx, string(action), "Return")
	case command.ActionNewParagraph:
		return in.pressKeys(ctx, string(action), "Return", "Return")
	case command.ActionDeleteLast:
		if in.lastRune == 0 {
			in.log.Debug("delete-last with nothing to delete")
			return nil
		}
		chords := make([]string, in.lastRune)
		for i := range chords {
			chords[i] = "BackSpace"
		}
		err := in.pressKeys(ctx, string(action), chords...)
		if err == nil {
			in.lastRune = 0
		}
		return err
	case command.ActionUndo:
		return in.pressKeys(ctx, string(action), "ctrl+z")
	case command.ActionRedo:
		return in.pressKeys(ctx, string(action), "ctrl+shift+z")
	case command.ActionSelectAll:
		return in.pressKeys(ctx, string(action), "ctrl+a")
	case command.ActionSelectLine:
		return in.pressKeys(ctx, string(action), "Home", "shift+End")
	case command.ActionSelectWord:
		return in.pressKeys(ctx, string(action), "ctrl+shift+Left")
	case command.ActionSelectParagraph:
		return in.pressKeys(ctx, string(action), "ctrl+shift+Up")
	case command.ActionCut:
		return in.pressKeys(ctx, string(action), "ctrl+x")
	case command.ActionCopy:
		return in.pressKeys(ctx, string(action), "ctrl+c")
	case command.ActionPaste:
		return in.pressKeys(ctx, string(action), "ctrl+v")
	default:
		in.log.Warn("unknown action", slog.String("action", string(action)))
		return nil
	}
}

func (in *Injector) pressKeys(ctx context.Context, desc string, chords ...string) error {
	return in.attempt(ctx, desc, func(ctx context.Context, b Backend) error {
		for _, chord := range chords {
			if err := b.PressKey(ctx, chord); err != nil {
				return err
			}
		}
		return nil
	})
}

// attempt walks the chain. A backend that fails is excluded for the rest of
// the session, so its failure is logged exactly once.
func (in *Injector) attempt(ctx context.Context, desc string, op func(context.Context, Backend) error) error {
	for _, b := range in.backends {
		if in.failed[b.Name()] {
			continue
		}
		attemptCtx, cancel := context.WithTimeout(ctx, in.timeout)
		err := op(attemptCtx, b)
		cancel()
		if err == nil {
			return nil
		}
		in.failed[b.Name()] = true
		in.log.Warn("injection backend failed, falling back",
			slog.String("backend", b.Name()),
			slog.String("operation", desc),
			slog.String("error", err.Error()))
	}
	return fmt.Errorf("%w: %s", ErrAllBackendsFailed, desc)
}
