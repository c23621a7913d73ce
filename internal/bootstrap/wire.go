package bootstrap

import (
	"fmt"

	"github.com/samber/do/v2"

	"voicepaste/internal/audio"
	"voicepaste/internal/config"
	"voicepaste/internal/hotkey"
	"voicepaste/internal/paste"
	"voicepaste/internal/ports"
	"voicepaste/internal/recognizer/dashscope"
	"voicepaste/internal/recognizer/deepgram"
	"voicepaste/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Orchestrator *usecase.SessionOrchestrator
	Hotkey       *hotkey.Listener
	Store        ports.ConfigStore
	Config       config.Config
}

// Build wires all runtime dependencies. storePath selects the key-value
// file; empty means the per-user default.
func Build(sink ports.EventSink, storePath string) (Services, error) {
	store, err := config.NewStore(storePath)
	if err != nil {
		return Services{}, err
	}
	cfg, err := config.Load(store)
	if err != nil {
		return Services{}, err
	}

	injector := do.New()
	do.ProvideValue(injector, cfg)

	do.Provide(injector, func(do.Injector) (ports.ConfigStore, error) {
		return store, nil
	})
	do.Provide(injector, func(do.Injector) (ports.EventSink, error) {
		return sink, nil
	})
	do.Provide(injector, func(i do.Injector) (ports.Recorder, error) {
		c := do.MustInvoke[config.Config](i)
		return audio.NewFFmpegRecorder(audio.Config{
			Command:       c.FFmpegCommand,
			InputFormat:   c.InputFormat,
			InputDevice:   c.InputDevice,
			SampleRate:    c.SampleRate,
			Channels:      c.Channels,
			ChunkDuration: c.ChunkDuration,
		}), nil
	})
	do.Provide(injector, newRecognizer)
	do.Provide(injector, func(i do.Injector) (ports.PasteService, error) {
		c := do.MustInvoke[config.Config](i)
		return paste.NewClipboardPasteService(c.RestoreDelay), nil
	})
	do.Provide(injector, func(i do.Injector) (*usecase.SessionOrchestrator, error) {
		c := do.MustInvoke[config.Config](i)
		return usecase.NewSessionOrchestrator(
			do.MustInvoke[ports.Recorder](i),
			do.MustInvoke[ports.Recognizer](i),
			do.MustInvoke[ports.PasteService](i),
			do.MustInvoke[ports.EventSink](i),
			usecase.Config{
				FinalizeTimeout: c.FinalizeTimeout,
				QueueCapacity:   c.QueueCapacity,
			},
		), nil
	})
	do.Provide(injector, func(i do.Injector) (*hotkey.Listener, error) {
		c := do.MustInvoke[config.Config](i)
		return hotkey.NewListener(c.Hotkey), nil
	})

	orchestrator, err := do.Invoke[*usecase.SessionOrchestrator](injector)
	if err != nil {
		return Services{}, err
	}
	listener, err := do.Invoke[*hotkey.Listener](injector)
	if err != nil {
		return Services{}, err
	}

	return Services{
		Orchestrator: orchestrator,
		Hotkey:       listener,
		Store:        store,
		Config:       cfg,
	}, nil
}

func newRecognizer(i do.Injector) (ports.Recognizer, error) {
	c := do.MustInvoke[config.Config](i)
	switch c.Backend {
	case config.BackendDashScope:
		return dashscope.NewRecognizer(dashscope.Config{
			APIKey:         c.DashScopeAPIKey,
			Model:          c.DashScopeModel,
			RequestTimeout: c.RequestTimeout,
		}), nil
	case config.BackendDeepgram:
		return deepgram.NewRecognizer(deepgram.Config{
			APIKey:     c.DeepgramAPIKey,
			Model:      c.DeepgramModel,
			Language:   c.DeepgramLanguage,
			SampleRate: c.SampleRate,
			Channels:   c.Channels,
		}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}
