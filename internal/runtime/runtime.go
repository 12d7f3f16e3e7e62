// Package runtime assembles the dictation daemon: telemetry, the embedded
// NATS observer bus, the recognition engine registry, the session
// controller and the global hotkey listener, plus the local HTTP surface
// for health and metrics.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dictalabs/dicta-core/internal/activation"
	"github.com/dictalabs/dicta-core/internal/audio"
	"github.com/dictalabs/dicta-core/internal/bus"
	"github.com/dictalabs/dicta-core/internal/command"
	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/engine"
	"github.com/dictalabs/dicta-core/internal/engine/cloud"
	"github.com/dictalabs/dicta-core/internal/engine/streamexec"
	"github.com/dictalabs/dicta-core/internal/engine/whisper"
	"github.com/dictalabs/dicta-core/internal/history"
	"github.com/dictalabs/dicta-core/internal/inject"
	"github.com/dictalabs/dicta-core/internal/natsserver"
	"github.com/dictalabs/dicta-core/internal/protocol"
	"github.com/dictalabs/dicta-core/internal/session"
	"github.com/dictalabs/dicta-core/internal/vad"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer  *http.Server
	tracerClose func(context.Context) error
	embedded    *natsserver.EmbeddedServer
	bus         *bus.Client
	hist        *history.Store
	controller  *session.Controller
	listener    *activation.Listener
	subs        []*nats.Subscription

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the daemon up and blocks until ctx is cancelled. Failures
// here are fatal startup errors; once Start is serving, pipeline problems
// surface through the session controller's error state instead.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embedded = embedded

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		r.embedded.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = busClient

	hist, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		r.teardown()
		return fmt.Errorf("failed to open history store: %w", err)
	}
	r.hist = hist

	registry := r.buildRegistry(ctx)

	deps := session.Deps{
		Registry:    registry,
		Interpreter: command.NewInterpreter(r.cfg.Commands, r.logger),
		NewSource: func() (session.FrameSource, error) {
			return audio.NewSource(r.cfg.Audio, r.logger)
		},
		NewClassifier: func() (vad.Classifier, error) {
			return vad.NewClassifier(r.cfg.VAD, r.cfg.Audio.SampleRate)
		},
		NewInjector: func() session.Injector {
			return inject.New(r.cfg.Injection, r.logger)
		},
		History:   hist,
		Publisher: session.NewBusPublisher(busClient, r.logger),
	}
	r.controller = session.NewController(ctx, r.cfg, deps, r.logger)
	if err := r.controller.Start(); err != nil {
		r.teardown()
		return fmt.Errorf("failed to start session controller: %w", err)
	}

	if err := r.subscribe(); err != nil {
		r.teardown()
		return fmt.Errorf("failed to subscribe on bus: %w", err)
	}

	if r.cfg.Activation.Enabled {
		if err := r.startActivation(ctx); err != nil {
			// Hotkey failure is not fatal: the bus toggle still works.
			r.logger.Warn("activation hotkey unavailable", slog.String("error", err.Error()))
		}
	}

	r.startHTTP(metricsHandler)

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", r.httpServer.Addr),
		slog.String("engine", r.cfg.Engine.Backend))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.teardown()
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return nil
}

// buildRegistry registers every recognition backend and logs the probed
// availability set, which is fixed for the process lifetime apart from
// load-failure flags.
func (r *Runtime) buildRegistry(ctx context.Context) *engine.Registry {
	registry := engine.NewRegistry(r.logger)
	registry.Register(whisper.New(r.cfg.Engine, r.logger))
	registry.Register(streamexec.New(r.cfg.Engine, r.logger))
	registry.Register(cloud.New(r.cfg.Engine, r.logger))
	registry.Register(engine.NewMockAdapter())
	registry.Probe(ctx)
	return registry
}

func (r *Runtime) subscribe() error {
	conn := r.bus.Conn()

	toggleSub, err := conn.Subscribe(protocol.SubjectSessionToggle, func(msg *nats.Msg) {
		source := "bus"
		var req protocol.ToggleRequest
		if err := json.Unmarshal(msg.Data, &req); err == nil && req.Source != "" {
			source = req.Source
		}
		r.controller.Toggle(source)
	})
	if err != nil {
		return fmt.Errorf("subscribe toggle: %w", err)
	}
	r.subs = append(r.subs, toggleSub)

	statusSub, err := conn.Subscribe(protocol.SubjectStatusRequest, func(msg *nats.Msg) {
		data, err := json.Marshal(r.controller.Status())
		if err != nil {
			r.logger.Warn("failed to encode status", slog.String("error", err.Error()))
			return
		}
		if err := msg.Respond(data); err != nil {
			r.logger.Warn("failed to respond to status request", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe status: %w", err)
	}
	r.subs = append(r.subs, statusSub)

	return nil
}

func (r *Runtime) startActivation(ctx context.Context) error {
	listener, err := activation.NewListener(r.cfg.Activation, r.logger)
	if err != nil {
		return err
	}
	if err := listener.Start(ctx); err != nil {
		return err
	}
	r.listener = listener

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Toggles():
				r.controller.Toggle("hotkey")
			}
		}
	}()
	return nil
}

func (r *Runtime) startHTTP(metricsHandler http.Handler) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/statusz", r.handleStatus)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) teardown() {
	if r.listener != nil {
		r.listener.Close()
		r.listener = nil
	}
	if r.controller != nil {
		r.controller.Close()
		r.controller = nil
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	r.subs = nil
	if r.hist != nil {
		if err := r.hist.Close(); err != nil {
			r.logger.Warn("history close failed", slog.String("error", err.Error()))
		}
		r.hist = nil
	}
	if r.bus != nil {
		r.bus.Close()
		r.bus = nil
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
		r.embedded = nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(r.controller.Status()); err != nil {
		r.logger.Warn("failed to encode status", slog.String("error", err.Error()))
	}
}
