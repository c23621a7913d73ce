package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voicepaste/internal/domain"
	"voicepaste/internal/metrics"
	"voicepaste/internal/ports"
)

var ErrSessionActive = errors.New("a session is active; recognizer can only be swapped while idle")

const (
	defaultFinalizeTimeout = 3 * time.Second
	defaultQueueCapacity   = 50
)

// Config controls session timing and buffering.
type Config struct {
	// FinalizeTimeout bounds how long End waits for a final transcript
	// after recording stops.
	FinalizeTimeout time.Duration
	// QueueCapacity is the audio channel capacity in chunks.
	QueueCapacity int
}

// SessionOrchestrator runs one record/transcribe/paste cycle per hotkey
// press/release pair. All state reads and transitions happen under a single
// lock; the lock is never held across the blocking wait in End.
type SessionOrchestrator struct {
	paste ports.PasteService
	sink  ports.EventSink
	cfg   Config
	log   *slog.Logger

	mu         sync.Mutex
	recorder   ports.Recorder
	recognizer ports.Recognizer
	state      domain.SessionState
	sessionID  uint64
	frames     ports.AudioFrames
	final      *finalSignal
	stats      *metrics.SessionMetrics
}

func NewSessionOrchestrator(
	recorder ports.Recorder,
	recognizer ports.Recognizer,
	paste ports.PasteService,
	sink ports.EventSink,
	cfg Config,
) *SessionOrchestrator {
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = defaultFinalizeTimeout
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	return &SessionOrchestrator{
		recorder:   recorder,
		recognizer: recognizer,
		paste:      paste,
		sink:       sink,
		cfg:        cfg,
		log:        slog.Default(),
		state:      domain.SessionStateIdle,
	}
}

// State returns the current session state.
func (o *SessionOrchestrator) State() domain.SessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetRecognizer swaps the recognizer backend. Only legal while idle.
func (o *SessionOrchestrator) SetRecognizer(r ports.Recognizer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != domain.SessionStateIdle {
		return ErrSessionActive
	}
	o.recognizer = r
	return nil
}

// Begin starts a new session. No-op unless idle.
func (o *SessionOrchestrator) Begin(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != domain.SessionStateIdle {
		return
	}

	o.sessionID++
	o.final = newFinalSignal()
	o.frames = make(ports.AudioFrames, o.cfg.QueueCapacity)
	o.stats = metrics.NewSessionMetrics(o.sessionID)
	o.transitionLocked(domain.SessionStateRecording)

	if err := o.recognizer.Start(ctx, o.sessionID, o.frames, o.handleRecognitionEvent); err != nil {
		o.failLocked(domain.ErrorCodeASRProtocol, "start failed: "+err.Error())
		return
	}
	if err := o.recorder.Start(ctx, o.frames); err != nil {
		o.failLocked(domain.ErrorCodeASRProtocol, "start failed: "+err.Error())
		return
	}
}

// End stops recording and drives the session to completion. No-op unless
// recording. Blocks the calling goroutine until a final transcript arrives
// or the finalize timeout elapses; never call it from a UI-owned goroutine.
func (o *SessionOrchestrator) End(ctx context.Context) {
	o.mu.Lock()
	if o.state != domain.SessionStateRecording {
		o.mu.Unlock()
		return
	}
	o.transitionLocked(domain.SessionStateFinalizing)
	o.stopRecorderLocked()
	sig := o.final
	id := o.sessionID
	timeout := o.cfg.FinalizeTimeout
	o.mu.Unlock()

	gotFinal := waitForFinal(ctx, sig, timeout)

	o.mu.Lock()
	defer o.mu.Unlock()
	// An error event or Cancel may have finished the session while we
	// were waiting.
	if o.sessionID != id || o.state != domain.SessionStateFinalizing {
		return
	}
	if !gotFinal {
		o.failLocked(domain.ErrorCodeASRProtocol, "final result timeout")
		return
	}

	text := strings.TrimSpace(sig.finalText())
	if text == "" {
		o.stopRecognizerLocked()
		o.finishLocked()
		o.transitionLocked(domain.SessionStateIdle)
		return
	}

	o.transitionLocked(domain.SessionStatePasting)
	result := o.paste.Paste(text)
	if !result.Success {
		o.emitErrorLocked(domain.ErrorCodeNoActiveTarget, result.Reason)
	}
	o.stopRecognizerLocked()
	o.finishLocked()
	o.transitionLocked(domain.SessionStateIdle)
}

// Cancel aborts whatever is in progress, reporting reason as a terminal
// error. No-op while idle. Wakes any End call blocked in its finalize wait.
func (o *SessionOrchestrator) Cancel(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == domain.SessionStateIdle {
		return
	}
	o.failLocked(domain.ErrorCodeASRProtocol, reason)
}

// handleRecognitionEvent is invoked from the recognizer's goroutine.
func (o *SessionOrchestrator) handleRecognitionEvent(event domain.RecognitionEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	// Drop events from earlier sessions and duplicate terminal events
	// arriving after the cycle has already completed.
	if event.SessionID != o.sessionID || o.state == domain.SessionStateIdle {
		return
	}

	switch event.Kind {
	case domain.RecognitionPartial:
		if o.stats != nil {
			o.stats.AddPartial(event.Text)
		}
		o.sink.PartialTranscript(event.Text)
	case domain.RecognitionFinal:
		if o.final == nil {
			return
		}
		if o.stats != nil {
			o.stats.AddFinal(event.Text)
		}
		o.final.fire(event.Text)
	case domain.RecognitionError:
		code := event.Code
		if code == "" {
			code = domain.ErrorCodeASRProtocol
		}
		o.failLocked(code, event.Message)
	}
}

// failLocked is the single error path: transit Error, report once, tear
// both dependencies down, wake any waiter, fall through to Idle.
func (o *SessionOrchestrator) failLocked(code domain.ErrorCode, message string) {
	o.transitionLocked(domain.SessionStateError)
	o.emitErrorLocked(code, message)
	o.stopRecorderLocked()
	o.stopRecognizerLocked()
	if o.final != nil {
		o.final.fire("")
	}
	o.finishLocked()
	o.transitionLocked(domain.SessionStateIdle)
}

func (o *SessionOrchestrator) emitErrorLocked(code domain.ErrorCode, message string) {
	o.sink.SessionError(code, message)
}

// stopRecorderLocked and stopRecognizerLocked are best-effort: a cleanup
// failure must never mask the error already being reported.
func (o *SessionOrchestrator) stopRecorderLocked() {
	if err := o.recorder.Stop(); err != nil {
		o.log.Debug("recorder stop discarded", "error", err)
	}
}

func (o *SessionOrchestrator) stopRecognizerLocked() {
	if err := o.recognizer.Stop(); err != nil {
		o.log.Debug("recognizer stop discarded", "error", err)
	}
}

func (o *SessionOrchestrator) finishLocked() {
	if o.stats == nil {
		return
	}
	o.stats.SetDroppedChunks(o.recorder.DroppedChunks())
	o.stats.Finish()
	o.log.Info("session finished", o.stats.LogAttrs()...)
	o.stats = nil
}

func (o *SessionOrchestrator) transitionLocked(to domain.SessionState) {
	from := o.state
	if from == to {
		return
	}
	o.state = to
	o.sink.StateChanged(from, to)
}

func waitForFinal(ctx context.Context, sig *finalSignal, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-sig.done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
