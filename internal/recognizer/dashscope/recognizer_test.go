package dashscope

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"voicepaste/internal/domain"
	"voicepaste/internal/ports"
)

type eventCollector struct {
	mu     sync.Mutex
	events []domain.RecognitionEvent
	done   chan struct{}
	once   sync.Once
}

func newEventCollector() *eventCollector {
	return &eventCollector{done: make(chan struct{})}
}

func (c *eventCollector) handle(event domain.RecognitionEvent) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	if event.Kind == domain.RecognitionFinal || event.Kind == domain.RecognitionError {
		c.once.Do(func() { close(c.done) })
	}
}

func (c *eventCollector) waitTerminal(t *testing.T) []domain.RecognitionEvent {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(3 * time.Second):
		t.Fatalf("no terminal event received")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.RecognitionEvent, len(c.events))
	copy(out, c.events)
	return out
}

func pushAudio(frames ports.AudioFrames, payloads ...string) {
	for _, p := range payloads {
		frames <- &domain.AudioChunk{PCM16: []byte(p), SampleRate: 16000, Channels: 1, CapturedAt: time.Now()}
	}
	frames <- nil
}

func sseChunk(text string) string {
	return `data:{"output":{"choices":[{"message":{"content":[{"text":"` + text + `"}]}}]}}` + "\n\n"
}

func TestRecognizerStreamsPartialsThenFinal(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %q", got)
		}
		if got := r.Header.Get("X-DashScope-SSE"); got != "enable" {
			t.Errorf("expected SSE header, got %q", got)
		}
		if got := r.Header.Get("X-Request-Id"); got == "" {
			t.Errorf("expected request id header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sseChunk("hel")))
		_, _ = w.Write([]byte(sseChunk("hello world")))
	}))
	defer server.Close()

	rec := NewRecognizer(Config{APIKey: "test-key", BaseURL: server.URL})
	collector := newEventCollector()
	frames := make(ports.AudioFrames, 8)
	pushAudio(frames, "aabb", "ccdd")

	if err := rec.Start(context.Background(), 7, frames, collector.handle); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	events := collector.waitTerminal(t)
	if len(events) < 3 {
		t.Fatalf("expected partials plus final, got %v", events)
	}
	if events[0].Kind != domain.RecognitionPartial || events[0].Text != "hel" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	last := events[len(events)-1]
	if last.Kind != domain.RecognitionFinal || last.Text != "hello world" {
		t.Fatalf("unexpected final: %+v", last)
	}
	for _, ev := range events {
		if ev.SessionID != 7 {
			t.Fatalf("event missing session tag: %+v", ev)
		}
	}
}

func TestRecognizerEmptyAudioEmitsEmptyFinal(t *testing.T) {
	t.Parallel()

	rec := NewRecognizer(Config{APIKey: "test-key", BaseURL: "http://127.0.0.1:1"})
	collector := newEventCollector()
	frames := make(ports.AudioFrames, 1)
	frames <- nil

	if err := rec.Start(context.Background(), 1, frames, collector.handle); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	events := collector.waitTerminal(t)
	if len(events) != 1 || events[0].Kind != domain.RecognitionFinal || events[0].Text != "" {
		t.Fatalf("expected single empty final, got %v", events)
	}
}

func TestRecognizerMissingAPIKeyFailsAuth(t *testing.T) {
	t.Setenv("DASHSCOPE_API_KEY", "")

	rec := NewRecognizer(Config{BaseURL: "http://127.0.0.1:1"})
	collector := newEventCollector()
	frames := make(ports.AudioFrames, 2)
	pushAudio(frames, "aabb")

	if err := rec.Start(context.Background(), 1, frames, collector.handle); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	events := collector.waitTerminal(t)
	last := events[len(events)-1]
	if last.Kind != domain.RecognitionError || last.Code != domain.ErrorCodeAuthFailed {
		t.Fatalf("expected auth error, got %+v", last)
	}
	if last.Retryable {
		t.Fatalf("auth errors are not retryable")
	}
}

func TestRecognizerUnauthorizedStatusMapsToAuthFailed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"Invalid API-key provided."}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	rec := NewRecognizer(Config{APIKey: "bad", BaseURL: server.URL})
	collector := newEventCollector()
	frames := make(ports.AudioFrames, 2)
	pushAudio(frames, "aabb")

	if err := rec.Start(context.Background(), 1, frames, collector.handle); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	events := collector.waitTerminal(t)
	last := events[len(events)-1]
	if last.Kind != domain.RecognitionError || last.Code != domain.ErrorCodeAuthFailed {
		t.Fatalf("expected auth error, got %+v", last)
	}
}

func TestRecognizerConnectionFailureMapsToNetwork(t *testing.T) {
	t.Parallel()

	rec := NewRecognizer(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	collector := newEventCollector()
	frames := make(ports.AudioFrames, 2)
	pushAudio(frames, "aabb")

	if err := rec.Start(context.Background(), 1, frames, collector.handle); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	events := collector.waitTerminal(t)
	last := events[len(events)-1]
	if last.Kind != domain.RecognitionError || last.Code != domain.ErrorCodeNetwork {
		t.Fatalf("expected network error, got %+v", last)
	}
	if !last.Retryable {
		t.Fatalf("network errors are retryable")
	}
}

func TestRecognizerStopBeforeSentinelEmitsNothing(t *testing.T) {
	t.Parallel()

	rec := NewRecognizer(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	collector := newEventCollector()
	frames := make(ports.AudioFrames, 2)
	frames <- &domain.AudioChunk{PCM16: []byte("aabb"), SampleRate: 16000, Channels: 1}

	if err := rec.Start(context.Background(), 1, frames, collector.handle); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	collector.mu.Lock()
	defer collector.mu.Unlock()
	if len(collector.events) != 0 {
		t.Fatalf("expected no events after stop, got %v", collector.events)
	}
}

func TestStartWhilePassStillRunningFails(t *testing.T) {
	t.Parallel()

	rec := NewRecognizer(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	collector := newEventCollector()
	frames := make(ports.AudioFrames, 2)
	frames <- &domain.AudioChunk{PCM16: []byte("aabb"), SampleRate: 16000, Channels: 1}

	if err := rec.Start(context.Background(), 1, frames, collector.handle); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer func() { _ = rec.Stop() }()

	// The first pass is still collecting audio; a second session must not
	// be silently ignored with its channel left unconsumed.
	if err := rec.Start(context.Background(), 2, make(ports.AudioFrames, 2), collector.handle); err == nil {
		t.Fatalf("expected error while a pass is still running")
	}
}

func TestPCMToWAVBase64RoundTripsHeader(t *testing.T) {
	t.Parallel()

	b64, err := pcmToWAVBase64([]byte{0x01, 0x00, 0x02, 0x00}, 16000, 1)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if b64 == "" {
		t.Fatalf("expected non-empty wav payload")
	}
}
