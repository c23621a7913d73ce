package ports

import (
	"context"

	"voicepaste/internal/domain"
)

// AudioFrames is the bounded channel carrying one session's audio from the
// recorder to the recognizer. A nil chunk is the end-of-stream sentinel.
type AudioFrames chan *domain.AudioChunk

// Recorder captures microphone audio into a session channel.
//
// Start begins producing chunks into frames until Stop. Pushes that would
// exceed the channel capacity are dropped and counted, never blocking the
// capture callback. Stop is idempotent and always pushes the sentinel, even
// if capture never actually started; the sentinel may appear more than once
// across repeated Stop calls.
type Recorder interface {
	Start(ctx context.Context, frames AudioFrames) error
	Stop() error
	DroppedChunks() int
}

// EventFunc receives recognition events. Events must be delivered from the
// recognizer's own goroutine, never synchronously from inside Start.
type EventFunc func(event domain.RecognitionEvent)

// Recognizer consumes a session's audio and emits transcription events.
//
// Start consumes chunks from frames until the sentinel, performs one
// recognition pass, and emits zero or more partial events followed by
// exactly one final or one error event, all tagged with sessionID. Stop
// signals cancellation, joins the background work with a short bounded
// wait, and guarantees no further events are emitted afterwards.
type Recognizer interface {
	Start(ctx context.Context, sessionID uint64, frames AudioFrames, onEvent EventFunc) error
	Stop() error
}

// PasteService inserts final text into the focused application.
type PasteService interface {
	Paste(text string) domain.PasteResult
}

// EventSink receives orchestrator notifications. Callbacks are invoked
// synchronously inside state transitions and are never concurrent with one
// another; implementations must not call back into the orchestrator.
type EventSink interface {
	StateChanged(from, to domain.SessionState)
	PartialTranscript(text string)
	SessionError(code domain.ErrorCode, message string)
}

// ConfigStore persists the credential and hotkey between runs.
type ConfigStore interface {
	APIKey() string
	SetAPIKey(key string) error
	Hotkey() string
	SetHotkey(hotkey string) error
}
