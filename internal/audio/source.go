package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/gordonklaus/portaudio"
)

// ErrDeviceUnavailable is returned when no usable input device exists,
// including after the fallback to the system default device failed.
var ErrDeviceUnavailable = errors.New("audio: no usable input device")

// Source owns the microphone device and produces a continuous sequence of
// fixed-size PCM frames on a bounded channel. Capture never blocks on a slow
// consumer: when the queue is full the oldest frame is dropped and a
// backpressure warning is logged (rate limited).
type Source struct {
	cfg    config.AudioConfig
	log    *slog.Logger
	frames chan Frame

	mu          sync.Mutex
	stream      *portaudio.Stream
	running     bool
	initialized bool

	dropped      uint64
	lastDropWarn time.Time

	wg sync.WaitGroup
}

func NewSource(cfg config.AudioConfig, log *slog.Logger) (*Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	return &Source{
		cfg:         cfg,
		log:         log.With(slog.String("component", "audio")),
		frames:      make(chan Frame, cfg.QueueFrames),
		initialized: true,
	}, nil
}

// Frames returns the channel carrying captured frames. The channel is closed
// when capture stops.
func (s *Source) Frames() <-chan Frame {
	return s.frames
}

// Start opens the configured device (falling back to the system default) and
// begins producing frames until ctx is cancelled or Stop is called.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("audio: capture already running")
	}

	frameLen := s.cfg.SampleRate * s.cfg.FrameDurationMS / 1000
	buffer := make([]int16, frameLen)

	stream, err := s.openStream(buffer)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("%w: start stream: %v", ErrDeviceUnavailable, err)
	}

	s.stream = stream
	s.running = true

	s.wg.Add(1)
	go s.captureLoop(ctx, buffer)

	s.log.Info("audio capture started",
		slog.Int("sample_rate", s.cfg.SampleRate),
		slog.Int("frame_ms", s.cfg.FrameDurationMS),
		slog.String("device", s.cfg.Device))
	return nil
}

// openStream opens the requested device, falling back to the system default
// when enumeration fails or the named device does not exist.
func (s *Source) openStream(buffer []int16) (*portaudio.Stream, error) {
	if s.cfg.Device != "" && s.cfg.Device != "default" {
		device, err := findInputDevice(s.cfg.Device)
		if err != nil {
			s.log.Warn("requested input device not found, falling back to default",
				slog.String("device", s.cfg.Device),
				slog.String("error", err.Error()))
		} else {
			params := portaudio.StreamParameters{
				Input: portaudio.StreamDeviceParameters{
					Device:   device,
					Channels: s.cfg.Channels,
					Latency:  device.DefaultLowInputLatency,
				},
				SampleRate:      float64(s.cfg.SampleRate),
				FramesPerBuffer: len(buffer),
			}
			stream, err := portaudio.OpenStream(params, buffer)
			if err == nil {
				return stream, nil
			}
			s.log.Warn("failed to open requested device, falling back to default",
				slog.String("device", s.cfg.Device),
				slog.String("error", err.Error()))
		}
	}

	stream, err := portaudio.OpenDefaultStream(s.cfg.Channels, 0, float64(s.cfg.SampleRate), len(buffer), buffer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return stream, nil
}

func (s *Source) captureLoop(ctx context.Context, buffer []int16) {
	defer s.wg.Done()
	defer close(s.frames)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		running := s.running
		stream := s.stream
		s.mu.Unlock()
		if !running || stream == nil {
			return
		}

		if err := stream.Read(); err != nil {
			s.mu.Lock()
			stillRunning := s.running
			s.mu.Unlock()
			if !stillRunning {
				return
			}
			// Overflows are routine when the consumer briefly stalls.
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			s.log.Warn("audio read failed", slog.String("error", err.Error()))
			continue
		}

		pcm := make([]int16, len(buffer))
		copy(pcm, buffer)
		frame := Frame{PCM: pcm, SampleRate: s.cfg.SampleRate, Timestamp: time.Now()}

		if dropped := pushDropOldest(s.frames, frame); dropped {
			s.noteDrop()
		}
	}
}

// pushDropOldest enqueues frame, discarding the oldest queued frame when the
// channel is full. Returns true when a frame was dropped.
func pushDropOldest(ch chan Frame, frame Frame) bool {
	select {
	case ch <- frame:
		return false
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- frame:
	default:
	}
	return true
}

func (s *Source) noteDrop() {
	s.mu.Lock()
	s.dropped++
	dropped := s.dropped
	warn := time.Since(s.lastDropWarn) > time.Second
	if warn {
		s.lastDropWarn = time.Now()
	}
	s.mu.Unlock()

	if warn {
		s.log.Warn("audio backpressure: dropping oldest frame",
			slog.Uint64("dropped_total", dropped))
	}
}

// Dropped returns the number of frames discarded under backpressure.
func (s *Source) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Stop halts capture and releases the device. The frame channel is closed
// once the capture goroutine exits.
func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	var err error
	if stream != nil {
		if stopErr := stream.Stop(); stopErr != nil {
			s.log.Warn("audio stream stop failed", slog.String("error", stopErr.Error()))
		}
		if closeErr := stream.Close(); closeErr != nil {
			err = fmt.Errorf("close audio stream: %w", closeErr)
		}
	}
	s.wg.Wait()
	return err
}

// Close stops capture and terminates the audio subsystem.
func (s *Source) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		s.initialized = false
		if err := portaudio.Terminate(); err != nil {
			return fmt.Errorf("terminate portaudio: %w", err)
		}
	}
	return nil
}
