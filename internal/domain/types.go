package domain

import "time"

// SessionState models one push-to-talk dictation cycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "IDLE"
	SessionStateRecording  SessionState = "RECORDING"
	SessionStateFinalizing SessionState = "FINALIZING"
	SessionStatePasting    SessionState = "PASTING"
	SessionStateError      SessionState = "ERROR"
)

// ErrorCode identifies normalized failure categories. Codes are stable
// strings used for both logic and display.
type ErrorCode string

const (
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrorCodeNetwork          ErrorCode = "NETWORK_ERROR"
	ErrorCodeAuthFailed       ErrorCode = "AUTH_FAILED"
	ErrorCodeNoActiveTarget   ErrorCode = "NO_ACTIVE_TARGET"
	ErrorCodeASRProtocol      ErrorCode = "ASR_PROTOCOL_ERROR"
)

// ErrorMessage returns the fixed user-facing message for a code.
func ErrorMessage(code ErrorCode) string {
	switch code {
	case ErrorCodePermissionDenied:
		return "Permission is required in system settings."
	case ErrorCodeNetwork:
		return "Network failed, please retry."
	case ErrorCodeAuthFailed:
		return "API key is invalid."
	case ErrorCodeNoActiveTarget:
		return "No active input target, result kept in clipboard."
	case ErrorCodeASRProtocol:
		return "ASR response format is invalid."
	default:
		return "Unknown error"
	}
}

// AudioChunk is one captured slice of PCM16 microphone audio. A nil
// *AudioChunk on the session channel is the end-of-stream sentinel.
type AudioChunk struct {
	PCM16      []byte
	SampleRate int
	Channels   int
	CapturedAt time.Time
}

// RecognitionKind tags recognizer events.
type RecognitionKind string

const (
	RecognitionPartial RecognitionKind = "partial"
	RecognitionFinal   RecognitionKind = "final"
	RecognitionError   RecognitionKind = "error"
)

// RecognitionEvent is emitted by a recognizer backend. Exactly one Final or
// terminal Error event is expected per session. SessionID tags the session
// the event belongs to so events from a superseded session can be discarded.
type RecognitionEvent struct {
	Kind      RecognitionKind
	SessionID uint64
	Text      string
	Code      ErrorCode
	Message   string
	Retryable bool
}

// PasteResult reports the outcome of one paste attempt. ClipboardRestored
// indicates whether the prior clipboard content was put back even when the
// paste action itself failed.
type PasteResult struct {
	Success           bool
	Reason            string
	ClipboardRestored bool
}
