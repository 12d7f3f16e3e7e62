package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected 16kHz default sample rate, got %d", cfg.Audio.SampleRate)
	}
	if cfg.VAD.SilenceTimeoutSeconds != 2.0 {
		t.Fatalf("expected 2s silence timeout, got %v", cfg.VAD.SilenceTimeoutSeconds)
	}
	if cfg.Activation.DoubleTapWindowMS != 400 {
		t.Fatalf("expected 400ms double tap window, got %d", cfg.Activation.DoubleTapWindowMS)
	}
	if cfg.Engine.Backend != "whisper" {
		t.Fatalf("expected whisper default backend, got %s", cfg.Engine.Backend)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DICTA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("DICTA_BUS_EMBEDDED", "false")
	t.Setenv("DICTA_AUDIO_DEVICE", "hw:1")
	t.Setenv("DICTA_VAD_SENSITIVITY", "5")
	t.Setenv("DICTA_VAD_SILENCE_TIMEOUT_SECONDS", "1.5")
	t.Setenv("DICTA_ENGINE_BACKEND", "mock")
	t.Setenv("DICTA_INJECTION_PREFERENCE", "wtype,ydotool")
	t.Setenv("DICTA_ACTIVATION_DOUBLE_TAP_WINDOW_MS", "300")
	t.Setenv("DICTA_HISTORY_RETENTION_MODE", "persistent")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Embedded {
		t.Fatal("expected embedded override false")
	}
	if cfg.Audio.Device != "hw:1" {
		t.Fatalf("expected audio device override, got %s", cfg.Audio.Device)
	}
	if cfg.VAD.Sensitivity != 5 {
		t.Fatalf("expected sensitivity override, got %d", cfg.VAD.Sensitivity)
	}
	if cfg.VAD.SilenceTimeoutSeconds != 1.5 {
		t.Fatalf("expected silence timeout override, got %v", cfg.VAD.SilenceTimeoutSeconds)
	}
	if cfg.Engine.Backend != "mock" {
		t.Fatalf("expected engine backend override, got %s", cfg.Engine.Backend)
	}
	if len(cfg.Injection.Preference) != 2 || cfg.Injection.Preference[0] != "wtype" {
		t.Fatalf("expected injection preference override, got %v", cfg.Injection.Preference)
	}
	if cfg.Activation.DoubleTapWindowMS != 300 {
		t.Fatalf("expected double tap window override, got %d", cfg.Activation.DoubleTapWindowMS)
	}
	if cfg.History.RetentionMode != "persistent" {
		t.Fatalf("expected history retention override, got %s", cfg.History.RetentionMode)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dicta.yaml")
	data := []byte(`
engine:
  backend: stream-exec
  stream_command: "vosk-transcriber --stream"
vad:
  sensitivity: 2
  silence_timeout_seconds: 3.5
commands:
  custom:
    smiley face: ":-)"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.Backend != "stream-exec" {
		t.Fatalf("expected stream-exec backend, got %s", cfg.Engine.Backend)
	}
	if cfg.Engine.StreamCommand == "" {
		t.Fatal("expected stream command from file")
	}
	if cfg.VAD.Sensitivity != 2 || cfg.VAD.SilenceTimeoutSeconds != 3.5 {
		t.Fatalf("expected vad overrides from file, got %+v", cfg.VAD)
	}
	if cfg.Commands.Custom["smiley face"] != ":-)" {
		t.Fatalf("expected custom phrase, got %v", cfg.Commands.Custom)
	}
	// defaults must survive a partial file
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected default sample rate preserved, got %d", cfg.Audio.SampleRate)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad sensitivity", map[string]string{"DICTA_VAD_SENSITIVITY": "9"}},
		{"bad frame duration", map[string]string{"DICTA_AUDIO_FRAME_DURATION_MS": "25"}},
		{"bad backend", map[string]string{"DICTA_ENGINE_BACKEND": "vosk"}},
		{"stream-exec without command", map[string]string{"DICTA_ENGINE_BACKEND": "stream-exec"}},
		{"bad display server", map[string]string{"DICTA_INJECTION_DISPLAY_SERVER": "mir"}},
		{"bad retention", map[string]string{"DICTA_HISTORY_RETENTION_MODE": "forever"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
