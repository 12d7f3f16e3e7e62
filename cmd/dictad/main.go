package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dictalabs/dicta-core/internal/audio"
	"github.com/dictalabs/dicta-core/internal/config"
	"github.com/dictalabs/dicta-core/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath    string
		engineName    string
		modelSize     string
		displayServer string
		debug         bool
		listDevices   bool
		showVersion   bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (defaults apply when empty)")
	flag.StringVar(&engineName, "engine", "", "Recognition engine override (whisper|stream-exec|cloud|mock)")
	flag.StringVar(&modelSize, "model-size", "", "Model size override (tiny|base|small|medium|large)")
	flag.StringVar(&displayServer, "display-server", "", "Force display server mode (x11|wayland)")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&listDevices, "list-devices", false, "List audio input devices and exit")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	if listDevices {
		devices, err := audio.ListInputDevices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list devices: %v\n", err)
			os.Exit(1)
		}
		for _, d := range devices {
			marker := " "
			if d.IsDefault {
				marker = "*"
			}
			fmt.Printf("%s %s (channels=%d, rate=%.0f)\n", marker, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
		}
		return
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if engineName != "" {
		cfg.Engine.Backend = engineName
	}
	if modelSize != "" {
		cfg.Engine.ModelSize = modelSize
	}
	if displayServer != "" {
		cfg.Injection.DisplayServer = displayServer
	}
	if debug {
		cfg.Telemetry.LogLevel = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rt := runtime.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
