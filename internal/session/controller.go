// Package session owns the dictation lifecycle: it reacts to toggle
// signals, wires microphone frames through voice-activity segmentation into
// the active recognition engine, and delivers interpreted output to the
// injector. All state transitions happen on a single run-loop goroutine;
// engine inference runs on a worker so capture and activation stay
// responsive.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/dictalabs/dicta-core/internal/audio"
	"github.com/dictalabs/dicta-core/internal/command"
	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/engine"
	"github.com/dictalabs/dicta-core/internal/history"
	"github.com/dictalabs/dicta-core/internal/protocol"
	"github.com/dictalabs/dicta-core/internal/vad"
	"github.com/google/uuid"
)

// State is the session lifecycle phase.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateError      State = "error"
)

// FrameSource produces captured audio frames. Satisfied by audio.Source;
// tests substitute a fake.
type FrameSource interface {
	Start(ctx context.Context) error
	Frames() <-chan audio.Frame
	Stop() error
	Close() error
}

// Injector delivers resolved outputs into the focused application.
type Injector interface {
	Inject(ctx context.Context, out command.Output) error
}

// Publisher broadcasts status and transcripts to external observers.
type Publisher interface {
	PublishStatus(st protocol.Status)
	PublishTranscript(tr protocol.Transcript)
}

// Deps are the collaborators the controller orchestrates. Source, injector
// and classifier are factories because each session resolves them fresh:
// the device is owned per session and the injection chain is cached per
// session.
type Deps struct {
	Registry      *engine.Registry
	Interpreter   *command.Interpreter
	NewSource     func() (FrameSource, error)
	NewClassifier func() (vad.Classifier, error)
	NewInjector   func() Injector
	History       *history.Store // optional
	Publisher     Publisher      // optional
}

// Controller is the session state machine.
type Controller struct {
	cfg  config.Config
	deps Deps
	log  *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	toggles chan string
	wg      sync.WaitGroup

	// Observable snapshot, guarded by mu. Everything below frames is owned
	// by the run-loop goroutine and accessed without locking.
	mu          sync.RWMutex
	state       State
	sessionID   string
	engineID    string
	lastErr     string
	lastPartial string

	frames <-chan audio.Frame
	events chan engine.TranscriptEvent
	done   chan error

	adapter       engine.Adapter
	src           FrameSource
	seg           *vad.Segmenter
	classifier    vad.Classifier
	injector      Injector
	seq           uint64
	pendingStop   bool
	queuedToggles int
	processingAt  time.Time

	meter          metric.Meter
	utterances     metric.Int64Counter
	injected       metric.Int64Counter
	inferenceTime  metric.Float64Histogram
	injectFailures metric.Int64Counter
	engineFailures metric.Int64Counter
}

func NewController(parent context.Context, cfg config.Config, deps Deps, log *slog.Logger) *Controller {
	ctx, cancel := context.WithCancel(parent)
	c := &Controller{
		cfg:     cfg,
		deps:    deps,
		log:     log.With(slog.String("component", "session")),
		ctx:     ctx,
		cancel:  cancel,
		toggles: make(chan string, 8),
		state:   StateIdle,
		meter:   otel.Meter("github.com/dictalabs/dicta-core/runtime"),
	}
	if err := c.initMetrics(); err != nil {
		c.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return c
}

func (c *Controller) initMetrics() error {
	var err error
	c.utterances, err = c.meter.Int64Counter("dicta.utterances",
		metric.WithDescription("Utterances dispatched to a recognition engine"))
	if err != nil {
		return err
	}
	c.injected, err = c.meter.Int64Counter("dicta.transcripts.injected",
		metric.WithDescription("Final transcripts delivered into the focused application"))
	if err != nil {
		return err
	}
	c.inferenceTime, err = c.meter.Float64Histogram("dicta.inference.duration",
		metric.WithDescription("Seconds from utterance close to final transcript"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	c.injectFailures, err = c.meter.Int64Counter("dicta.inject.failures",
		metric.WithDescription("Outputs that exhausted the injection backend chain"))
	if err != nil {
		return err
	}
	c.engineFailures, err = c.meter.Int64Counter("dicta.engine.failures",
		metric.WithDescription("Engine load failures and utterances lost to inference errors"))
	return err
}

// Start launches the run loop.
func (c *Controller) Start() error {
	c.wg.Add(1)
	go c.run()
	c.publishStatus()
	return nil
}

// Close stops any active session, waits for in-flight work and releases the
// engine model.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
	if c.adapter != nil {
		if err := c.adapter.Unload(); err != nil {
			c.log.Warn("engine unload failed", slog.String("error", err.Error()))
		}
		c.adapter = nil
	}
}

// Toggle requests a session start/stop. Safe to call from any goroutine;
// never blocks the caller (the hook thread must not wait on the pipeline).
func (c *Controller) Toggle(source string) {
	select {
	case c.toggles <- source:
	default:
		c.log.Warn("toggle queue full, dropping request", slog.String("source", source))
	}
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Status builds the observer snapshot.
func (c *Controller) Status() protocol.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := protocol.Status{
		SessionID:   c.sessionID,
		State:       string(c.state),
		Engine:      c.engineID,
		LastError:   c.lastErr,
		LastPartial: c.lastPartial,
		Timestamp:   time.Now().UTC(),
	}
	if c.deps.Registry != nil {
		for _, d := range c.deps.Registry.Descriptors() {
			st.Engines = append(st.Engines, protocol.EngineAvailable{
				ID:        d.ID,
				Streaming: d.Streaming,
				Available: d.Available,
				Detail:    d.Detail,
			})
		}
	}
	return st
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return
		case source := <-c.toggles:
			c.handleToggle(source)
		case frame, ok := <-c.frames:
			if !ok {
				c.frames = nil
				continue
			}
			c.onFrame(frame)
		case ev, ok := <-c.events:
			if !ok {
				c.events = nil
				continue
			}
			c.onTranscript(ev)
		case err := <-c.done:
			c.drainEvents()
			c.done = nil
			c.onUtteranceDone(err)
		}
	}
}

// drainEvents consumes transcript events that were buffered before the
// worker reported completion, preserving event order relative to the final.
func (c *Controller) drainEvents() {
	if c.events == nil {
		return
	}
	for ev := range c.events {
		c.onTranscript(ev)
	}
	c.events = nil
}

func (c *Controller) handleToggle(source string) {
	c.log.Info("session toggle", slog.String("source", source), slog.String("state", string(c.State())))

	switch c.State() {
	case StateIdle:
		c.startSession()
	case StateListening:
		c.requestStop()
	case StateProcessing:
		// Applied once the in-flight utterance finishes; never discarded.
		c.queuedToggles++
	case StateError:
		// Explicit reset: a toggle acknowledges the error and re-arms.
		c.mu.Lock()
		c.lastErr = ""
		c.state = StateIdle
		c.mu.Unlock()
		c.publishStatus()
	}
}

func (c *Controller) startSession() {
	sessionID := uuid.NewString()

	adapter, engineID, err := c.selectEngine()
	if err != nil {
		c.enterError(fmt.Sprintf("no recognition engine available: %v", err))
		return
	}
	c.adapter = adapter

	classifier, err := c.deps.NewClassifier()
	if err != nil {
		c.enterError(fmt.Sprintf("voice activity classifier failed: %v", err))
		return
	}
	c.classifier = classifier
	c.seg = vad.NewSegmenter(c.cfg.VAD, classifier)
	c.injector = c.deps.NewInjector()

	src, err := c.deps.NewSource()
	if err != nil {
		c.enterError(fmt.Sprintf("audio source unavailable: %v", err))
		return
	}
	if err := src.Start(c.ctx); err != nil {
		if closeErr := src.Close(); closeErr != nil {
			c.log.Warn("audio close failed", slog.String("error", closeErr.Error()))
		}
		c.enterError(fmt.Sprintf("audio capture failed: %v", err))
		return
	}
	c.src = src
	c.frames = src.Frames()

	c.mu.Lock()
	c.sessionID = sessionID
	c.engineID = engineID
	c.seq = 0
	c.lastPartial = ""
	c.state = StateListening
	c.mu.Unlock()

	if c.deps.History != nil {
		if err := c.deps.History.BeginSession(c.ctx, sessionID, engineID); err != nil {
			c.log.Warn("failed to record session", slog.String("error", err.Error()))
		}
	}

	c.log.Info("dictation session started",
		slog.String("session_id", sessionID),
		slog.String("engine", engineID))
	c.publishStatus()
}

// selectEngine resolves and loads the configured backend, walking the
// fallback chain when a load fails. A failed backend is excluded for the
// rest of the process.
func (c *Controller) selectEngine() (engine.Adapter, string, error) {
	for {
		adapter, err := c.deps.Registry.Select(c.cfg.Engine.Backend, c.cfg.Engine.Fallbacks)
		if err != nil {
			return nil, "", err
		}
		id := adapter.Descriptor().ID

		loadCtx := c.ctx
		var cancel context.CancelFunc
		if c.cfg.Engine.LoadTimeoutMS > 0 {
			loadCtx, cancel = context.WithTimeout(c.ctx, time.Duration(c.cfg.Engine.LoadTimeoutMS)*time.Millisecond)
		}
		err = adapter.Load(loadCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return adapter, id, nil
		}

		c.log.Warn("engine failed to load, trying fallback",
			slog.String("engine", id),
			slog.String("error", err.Error()))
		if c.engineFailures != nil {
			c.engineFailures.Add(c.ctx, 1)
		}
		c.deps.Registry.MarkFailed(id, err.Error())
	}
}

// requestStop ends the listening phase. An open utterance is flushed and
// processed to completion so the user's final words are not lost; no audio
// captured after the toggle reaches the engine.
func (c *Controller) requestStop() {
	c.stopCapture()

	ev := c.seg.Flush()
	if ev.Type == vad.EventEnded {
		c.pendingStop = true
		c.beginProcessing(ev.Utterance)
		return
	}
	c.finishSession()
}

func (c *Controller) stopCapture() {
	if c.src == nil {
		return
	}
	if err := c.src.Stop(); err != nil {
		c.log.Warn("audio stop failed", slog.String("error", err.Error()))
	}
	if err := c.src.Close(); err != nil {
		c.log.Warn("audio close failed", slog.String("error", err.Error()))
	}
	c.src = nil
	c.frames = nil
}

func (c *Controller) onFrame(frame audio.Frame) {
	if c.State() != StateListening {
		// One in-flight utterance at a time: frames arriving while the
		// engine works are discarded, not queued into a new utterance.
		return
	}

	ev, err := c.seg.Push(frame)
	if err != nil {
		c.log.Warn("vad push failed", slog.String("error", err.Error()))
		return
	}
	switch ev.Type {
	case vad.EventStarted:
		c.log.Debug("utterance started")
	case vad.EventEnded:
		c.beginProcessing(ev.Utterance)
	case vad.EventDiscarded:
		c.log.Debug("utterance discarded as noise transient")
	}
}

func (c *Controller) beginProcessing(utt *vad.Utterance) {
	c.mu.Lock()
	c.state = StateProcessing
	c.mu.Unlock()
	c.processingAt = time.Now()
	c.publishStatus()

	if c.utterances != nil {
		c.utterances.Add(c.ctx, 1)
	}
	if dir := c.cfg.Audio.DumpDir; dir != "" {
		if path, err := audio.DumpWAV(dir, utt.Samples, utt.SampleRate); err != nil {
			c.log.Warn("utterance dump failed", slog.String("error", err.Error()))
		} else {
			c.log.Debug("utterance dumped", slog.String("path", path))
		}
	}

	c.log.Info("utterance closed",
		slog.String("utterance_id", utt.ID),
		slog.Duration("duration", utt.Duration()))

	events := make(chan engine.TranscriptEvent, 16)
	done := make(chan error, 1)
	c.events = events
	c.done = done

	adapter := c.adapter
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		err := c.feedWithRetry(adapter, utt, events)
		close(events)
		done <- err
	}()
}

// feedWithRetry runs inference, retrying a transient failure once within
// the same utterance.
func (c *Controller) feedWithRetry(adapter engine.Adapter, utt *vad.Utterance, events chan<- engine.TranscriptEvent) error {
	emit := func(ev engine.TranscriptEvent) {
		events <- ev
	}
	err := adapter.Feed(c.ctx, utt, emit)
	if err != nil && errors.Is(err, engine.ErrInferenceFailed) {
		c.log.Warn("inference failed, retrying once",
			slog.String("utterance_id", utt.ID),
			slog.String("error", err.Error()))
		err = adapter.Feed(c.ctx, utt, emit)
	}
	return err
}

func (c *Controller) onTranscript(ev engine.TranscriptEvent) {
	c.seq++
	tr := protocol.Transcript{
		SessionID:   c.sessionID,
		UtteranceID: ev.UtteranceID,
		Seq:         c.seq,
		Text:        ev.Text,
		Partial:     !ev.Final,
		Confidence:  ev.Confidence,
		Timestamp:   time.Now().UTC(),
	}
	if c.deps.Publisher != nil {
		c.deps.Publisher.PublishTranscript(tr)
	}

	if !ev.Final {
		c.mu.Lock()
		c.lastPartial = ev.Text
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.lastPartial = ""
	c.mu.Unlock()
	if c.inferenceTime != nil {
		c.inferenceTime.Record(c.ctx, time.Since(c.processingAt).Seconds())
	}
	c.deliver(ev)
}

// deliver interprets a final transcript and injects the resolved outputs in
// order. An injection failure is surfaced, never silently dropped.
func (c *Controller) deliver(ev engine.TranscriptEvent) {
	outputs := c.deps.Interpreter.Interpret(ev.Text)
	for _, out := range outputs {
		if err := c.injector.Inject(c.ctx, out); err != nil {
			if c.injectFailures != nil {
				c.injectFailures.Add(c.ctx, 1)
			}
			c.enterError(fmt.Sprintf("failed to inject transcript: %v", err))
			return
		}
		c.record(ev, out)
	}
	if c.injected != nil {
		c.injected.Add(c.ctx, 1)
	}
}

func (c *Controller) record(ev engine.TranscriptEvent, out command.Output) {
	if c.deps.History == nil {
		return
	}
	entry := history.Entry{
		SessionID:   c.sessionID,
		UtteranceID: ev.UtteranceID,
		Confidence:  ev.Confidence,
	}
	if out.IsLiteral() {
		entry.Kind = "transcript"
		entry.Text = out.Text
	} else {
		entry.Kind = "action"
		entry.Text = string(out.Action)
	}
	if err := c.deps.History.Record(c.ctx, entry); err != nil {
		c.log.Warn("failed to record history entry", slog.String("error", err.Error()))
	}
}

func (c *Controller) onUtteranceDone(err error) {
	if c.State() == StateError {
		// Injection already failed; the session is torn down.
		c.queuedToggles = 0
		c.pendingStop = false
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, engine.ErrCancelled):
		c.log.Info("utterance cancelled")
	case errors.Is(err, engine.ErrInferenceFailed):
		// Already retried once; drop this utterance but keep the session.
		c.log.Error("utterance lost after retry", slog.String("error", err.Error()))
		if c.engineFailures != nil {
			c.engineFailures.Add(c.ctx, 1)
		}
		c.mu.Lock()
		c.lastErr = err.Error()
		c.mu.Unlock()
	default:
		c.enterError(fmt.Sprintf("recognition failed: %v", err))
		return
	}

	if c.pendingStop {
		c.pendingStop = false
		c.finishSession()
	} else {
		c.mu.Lock()
		c.state = StateListening
		c.mu.Unlock()
		c.publishStatus()
	}

	// Toggles queued while processing are applied now, in order.
	for c.queuedToggles > 0 {
		c.queuedToggles--
		c.handleToggle("queued")
	}
}

func (c *Controller) finishSession() {
	c.stopCapture()
	if c.seg != nil {
		c.seg.Reset()
	}
	c.closeClassifier()

	if c.deps.History != nil {
		if err := c.deps.History.Prune(c.ctx); err != nil {
			c.log.Warn("history prune failed", slog.String("error", err.Error()))
		}
	}

	c.mu.Lock()
	sessionID := c.sessionID
	c.sessionID = ""
	c.state = StateIdle
	c.mu.Unlock()

	c.log.Info("dictation session ended", slog.String("session_id", sessionID))
	c.publishStatus()
}

func (c *Controller) closeClassifier() {
	if c.classifier == nil {
		return
	}
	if err := c.classifier.Close(); err != nil {
		c.log.Warn("classifier close failed", slog.String("error", err.Error()))
	}
	c.classifier = nil
}

// enterError is the terminal transition for unrecoverable conditions. The
// state is user-visible and only a fresh toggle re-arms the controller.
func (c *Controller) enterError(msg string) {
	c.stopCapture()
	if c.seg != nil {
		c.seg.Reset()
	}
	c.closeClassifier()
	c.pendingStop = false
	c.queuedToggles = 0

	c.mu.Lock()
	c.lastErr = msg
	c.state = StateError
	c.mu.Unlock()

	c.log.Error("session entered error state", slog.String("error", msg))
	c.publishStatus()
}

func (c *Controller) shutdown() {
	c.stopCapture()
	if c.seg != nil && c.seg.Open() {
		c.log.Info("discarding open utterance on shutdown")
		c.seg.Reset()
	}
	c.closeClassifier()
}

func (c *Controller) publishStatus() {
	if c.deps.Publisher == nil {
		return
	}
	c.deps.Publisher.PublishStatus(c.Status())
}
