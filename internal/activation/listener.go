package activation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	hook "github.com/robotn/gohook"

	"github.com/dictalabs/dicta-core/internal/config"
)

// Listener hooks global keyboard events and emits toggle signals. The hook
// delivery goroutine only runs the detector and a non-blocking channel
// send, keeping event-processing latency well under the input subsystem's
// tolerance.
type Listener struct {
	cfg     config.ActivationConfig
	log     *slog.Logger
	keycode uint16
	det     *DoubleTapDetector

	toggles chan struct{}
	wg      sync.WaitGroup
	stop    sync.Once
}

func NewListener(cfg config.ActivationConfig, log *slog.Logger) (*Listener, error) {
	code, ok := hook.Keycode[strings.ToLower(cfg.Key)]
	if !ok {
		return nil, fmt.Errorf("unknown activation key %q", cfg.Key)
	}
	return &Listener{
		cfg:     cfg,
		log:     log.With(slog.String("component", "activation")),
		keycode: code,
		det:     NewDoubleTapDetector(time.Duration(cfg.DoubleTapWindowMS) * time.Millisecond),
		toggles: make(chan struct{}, 1),
	}, nil
}

// Toggles delivers one signal per detected double tap. Signals arriving
// while a previous one is unconsumed are coalesced.
func (l *Listener) Toggles() <-chan struct{} {
	return l.toggles
}

// Start registers the global hook and begins watching key presses until the
// context is cancelled or Close is called.
func (l *Listener) Start(ctx context.Context) error {
	events := hook.Start()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Kind != hook.KeyDown {
					continue
				}
				if !l.det.Observe(ev.Keycode == l.keycode, time.Now()) {
					continue
				}
				select {
				case l.toggles <- struct{}{}:
				default:
					l.log.Debug("toggle signal coalesced")
				}
			}
		}
	}()

	l.log.Info("activation listener started",
		slog.String("key", l.cfg.Key),
		slog.Int("double_tap_window_ms", l.cfg.DoubleTapWindowMS))
	return nil
}

// Close unhooks from the input subsystem and waits for the watcher to exit.
func (l *Listener) Close() {
	l.stop.Do(func() {
		hook.End()
		l.wg.Wait()
		l.log.Info("activation listener stopped")
	})
}
