package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gen2brain/beeep"
	"github.com/joho/godotenv"

	"voicepaste/internal/bootstrap"
	"voicepaste/internal/config"
	"voicepaste/internal/domain"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "voicepaste:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "", "path to the settings file (default ~/.config/voicepaste/config.json)")
		setAPIKey  = flag.String("set-api-key", "", "store an API key and exit")
		setHotkey  = flag.String("set-hotkey", "", "store a hotkey combo such as ctrl+alt+space and exit")
	)
	flag.Parse()

	if *setAPIKey != "" || *setHotkey != "" {
		return updateStore(*configPath, *setAPIKey, *setHotkey)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("VOICEPASTE_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	sink := &hostSink{log: logger}
	svc, err := bootstrap.Build(sink, *configPath)
	if err != nil {
		return err
	}

	orchestrator := svc.Orchestrator
	err = svc.Hotkey.Start(
		func() { orchestrator.Begin(context.Background()) },
		func() {
			// End blocks until the final transcript lands; keep the
			// hotkey loop responsive.
			go orchestrator.End(context.Background())
		},
	)
	if err != nil {
		return err
	}
	defer svc.Hotkey.Stop()

	logger.Info("voicepaste ready",
		"backend", svc.Config.Backend,
		"hotkey", svc.Config.Hotkey)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	orchestrator.Cancel("app quit")
	logger.Info("voicepaste stopped")
	return nil
}

func updateStore(path, apiKey, combo string) error {
	store, err := config.NewStore(path)
	if err != nil {
		return err
	}
	if apiKey != "" {
		if err := store.SetAPIKey(apiKey); err != nil {
			return fmt.Errorf("failed to store API key: %w", err)
		}
		fmt.Println("API key stored")
	}
	if combo != "" {
		if err := store.SetHotkey(combo); err != nil {
			return fmt.Errorf("failed to store hotkey: %w", err)
		}
		fmt.Println("hotkey stored:", combo)
	}
	return nil
}

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// hostSink surfaces session activity to the log and raises a desktop
// notification for errors.
type hostSink struct {
	log *slog.Logger
}

func (s *hostSink) StateChanged(from, to domain.SessionState) {
	s.log.Debug("session state changed", "from", string(from), "to", string(to))
}

func (s *hostSink) PartialTranscript(text string) {
	s.log.Debug("partial transcript", "text", text)
}

func (s *hostSink) SessionError(code domain.ErrorCode, message string) {
	s.log.Error("session error", "code", string(code), "message", message)
	if err := beeep.Alert("VoicePaste", domain.ErrorMessage(code), ""); err != nil {
		s.log.Warn("notification failed", "error", err)
	}
}
