package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Audio       AudioConfig      `yaml:"audio"`
	VAD         VADConfig        `yaml:"vad"`
	Engine      EngineConfig     `yaml:"engine"`
	Commands    CommandsConfig   `yaml:"commands"`
	Injection   InjectionConfig  `yaml:"injection"`
	Activation  ActivationConfig `yaml:"activation"`
	History     HistoryConfig    `yaml:"history"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type AudioConfig struct {
	Device          string `yaml:"device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
	FrameDurationMS int    `yaml:"frame_duration_ms"`
	QueueFrames     int    `yaml:"queue_frames"`
	DumpDir         string `yaml:"dump_dir"`
}

type VADConfig struct {
	Classifier            string  `yaml:"classifier"` // webrtc, energy
	Sensitivity           int     `yaml:"sensitivity"`
	SilenceTimeoutSeconds float64 `yaml:"silence_timeout_seconds"`
	StartFrames           int     `yaml:"start_frames"`
	MinSpeechMS           int     `yaml:"min_speech_ms"`
	MaxUtteranceMS        int     `yaml:"max_utterance_ms"`
}

type EngineConfig struct {
	Backend       string   `yaml:"backend"` // whisper, stream-exec, cloud, mock
	Fallbacks     []string `yaml:"fallbacks"`
	ModelPath     string   `yaml:"model_path"`
	ModelSize     string   `yaml:"model_size"`
	Language      string   `yaml:"language"`
	Threads       int      `yaml:"threads"`
	StreamCommand string   `yaml:"stream_command"`
	CloudURL      string   `yaml:"cloud_url"`
	CloudToken    string   `yaml:"cloud_token"`
	LoadTimeoutMS int      `yaml:"load_timeout_ms"`
}

type CommandsConfig struct {
	Enabled             bool              `yaml:"enabled"`
	CapitalizeSentences bool              `yaml:"capitalize_sentences"`
	Custom              map[string]string `yaml:"custom"`
}

type InjectionConfig struct {
	Preference       []string `yaml:"preference"`
	DisplayServer    string   `yaml:"display_server"` // auto, x11, wayland
	AttemptTimeoutMS int      `yaml:"attempt_timeout_ms"`
}

type ActivationConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Key               string `yaml:"key"`
	DoubleTapWindowMS int    `yaml:"double_tap_window_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		RuntimeName: "dicta-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 8090,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Audio: AudioConfig{
			Device:          "default",
			SampleRate:      16000,
			Channels:        1,
			FrameDurationMS: 20,
			QueueFrames:     64,
		},
		VAD: VADConfig{
			Classifier:            "webrtc",
			Sensitivity:           3,
			SilenceTimeoutSeconds: 2.0,
			StartFrames:           3,
			MinSpeechMS:           300,
			MaxUtteranceMS:        30000,
		},
		Engine: EngineConfig{
			Backend:       "whisper",
			Fallbacks:     []string{"stream-exec", "mock"},
			ModelSize:     "base",
			Language:      "en",
			Threads:       4,
			LoadTimeoutMS: 30000,
		},
		Commands: CommandsConfig{
			Enabled:             true,
			CapitalizeSentences: true,
		},
		Injection: InjectionConfig{
			Preference:       nil, // resolved from detected display server
			DisplayServer:    "auto",
			AttemptTimeoutMS: 3000,
		},
		Activation: ActivationConfig{
			Enabled:           true,
			Key:               "ctrl",
			DoubleTapWindowMS: 400,
		},
		History: HistoryConfig{
			Path:          "./data/dicta-history.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "DICTA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "DICTA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "DICTA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "DICTA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "DICTA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "DICTA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "DICTA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "DICTA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "DICTA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "DICTA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "DICTA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "DICTA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "DICTA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "DICTA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "DICTA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Audio.Device, "DICTA_AUDIO_DEVICE")
	overrideInt(&cfg.Audio.SampleRate, "DICTA_AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "DICTA_AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.FrameDurationMS, "DICTA_AUDIO_FRAME_DURATION_MS")
	overrideInt(&cfg.Audio.QueueFrames, "DICTA_AUDIO_QUEUE_FRAMES")
	overrideString(&cfg.Audio.DumpDir, "DICTA_AUDIO_DUMP_DIR")
	overrideString(&cfg.VAD.Classifier, "DICTA_VAD_CLASSIFIER")
	overrideInt(&cfg.VAD.Sensitivity, "DICTA_VAD_SENSITIVITY")
	overrideFloat(&cfg.VAD.SilenceTimeoutSeconds, "DICTA_VAD_SILENCE_TIMEOUT_SECONDS")
	overrideInt(&cfg.VAD.StartFrames, "DICTA_VAD_START_FRAMES")
	overrideInt(&cfg.VAD.MinSpeechMS, "DICTA_VAD_MIN_SPEECH_MS")
	overrideInt(&cfg.VAD.MaxUtteranceMS, "DICTA_VAD_MAX_UTTERANCE_MS")
	overrideString(&cfg.Engine.Backend, "DICTA_ENGINE_BACKEND")
	overrideStringSlice(&cfg.Engine.Fallbacks, "DICTA_ENGINE_FALLBACKS")
	overrideString(&cfg.Engine.ModelPath, "DICTA_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.ModelSize, "DICTA_ENGINE_MODEL_SIZE")
	overrideString(&cfg.Engine.Language, "DICTA_ENGINE_LANGUAGE")
	overrideInt(&cfg.Engine.Threads, "DICTA_ENGINE_THREADS")
	overrideString(&cfg.Engine.StreamCommand, "DICTA_ENGINE_STREAM_COMMAND")
	overrideString(&cfg.Engine.CloudURL, "DICTA_ENGINE_CLOUD_URL")
	overrideString(&cfg.Engine.CloudToken, "DICTA_ENGINE_CLOUD_TOKEN")
	overrideInt(&cfg.Engine.LoadTimeoutMS, "DICTA_ENGINE_LOAD_TIMEOUT_MS")
	overrideBool(&cfg.Commands.Enabled, "DICTA_COMMANDS_ENABLED")
	overrideBool(&cfg.Commands.CapitalizeSentences, "DICTA_COMMANDS_CAPITALIZE_SENTENCES")
	overrideStringSlice(&cfg.Injection.Preference, "DICTA_INJECTION_PREFERENCE")
	overrideString(&cfg.Injection.DisplayServer, "DICTA_INJECTION_DISPLAY_SERVER")
	overrideInt(&cfg.Injection.AttemptTimeoutMS, "DICTA_INJECTION_ATTEMPT_TIMEOUT_MS")
	overrideBool(&cfg.Activation.Enabled, "DICTA_ACTIVATION_ENABLED")
	overrideString(&cfg.Activation.Key, "DICTA_ACTIVATION_KEY")
	overrideInt(&cfg.Activation.DoubleTapWindowMS, "DICTA_ACTIVATION_DOUBLE_TAP_WINDOW_MS")
	overrideString(&cfg.History.Path, "DICTA_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "DICTA_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "DICTA_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxSessions, "DICTA_HISTORY_MAX_SESSIONS")
	overrideBool(&cfg.History.VacuumOnStart, "DICTA_HISTORY_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// Validate checks a config after programmatic overrides (CLI flags).
func Validate(cfg Config) error {
	return validate(cfg)
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	switch cfg.Audio.FrameDurationMS {
	case 10, 20, 30:
		// frame lengths the VAD classifier accepts
	default:
		return errors.New("audio.frame_duration_ms must be 10, 20 or 30")
	}
	if cfg.Audio.QueueFrames <= 0 {
		return errors.New("audio.queue_frames must be positive")
	}
	switch cfg.VAD.Classifier {
	case "webrtc", "energy":
	default:
		return errors.New("vad.classifier must be one of webrtc|energy")
	}
	if cfg.VAD.Sensitivity < 1 || cfg.VAD.Sensitivity > 5 {
		return errors.New("vad.sensitivity must be between 1 and 5")
	}
	if cfg.VAD.SilenceTimeoutSeconds <= 0 {
		return errors.New("vad.silence_timeout_seconds must be positive")
	}
	if cfg.VAD.StartFrames <= 0 {
		return errors.New("vad.start_frames must be positive")
	}
	switch cfg.Engine.Backend {
	case "whisper", "stream-exec", "cloud", "mock":
	default:
		return errors.New("engine.backend must be one of whisper|stream-exec|cloud|mock")
	}
	if cfg.Engine.Backend == "stream-exec" && cfg.Engine.StreamCommand == "" {
		return errors.New("engine.stream_command must be set when backend=stream-exec")
	}
	if cfg.Engine.Backend == "cloud" && cfg.Engine.CloudURL == "" {
		return errors.New("engine.cloud_url must be set when backend=cloud")
	}
	switch cfg.Injection.DisplayServer {
	case "auto", "x11", "wayland":
	default:
		return errors.New("injection.display_server must be one of auto|x11|wayland")
	}
	if cfg.Injection.AttemptTimeoutMS <= 0 {
		return errors.New("injection.attempt_timeout_ms must be positive")
	}
	if cfg.Activation.Enabled {
		if cfg.Activation.Key == "" {
			return errors.New("activation.key must not be empty")
		}
		if cfg.Activation.DoubleTapWindowMS <= 0 {
			return errors.New("activation.double_tap_window_ms must be positive")
		}
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	switch cfg.History.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("history.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	return nil
}
