// Package deepgram recognizes speech over Deepgram's streaming websocket.
// Unlike the DashScope backend it sends audio while recording is still in
// progress and aggregates the is_final segments into the one final
// transcript emitted when the stream ends.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voicepaste/internal/domain"
	"voicepaste/internal/ports"
)

const stopJoinWait = 500 * time.Millisecond

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Language    string
	SmartFormat bool
	SampleRate  int
	Channels    int
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.deepgram.com/v1"
	}
	if c.Model == "" {
		c.Model = "nova-2"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	return c
}

// Recognizer implements ports.Recognizer against Deepgram.
type Recognizer struct {
	cfg Config

	mu      sync.Mutex
	current *streamPass
}

func NewRecognizer(cfg Config) *Recognizer {
	return &Recognizer{cfg: cfg.withDefaults()}
}

func (r *Recognizer) Start(ctx context.Context, sessionID uint64, frames ports.AudioFrames, onEvent ports.EventFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// A pass that outlived Stop's bounded join still owns the event
	// callback; failing here beats leaving the new channel unconsumed.
	if r.current != nil && !r.current.finished() {
		return errors.New("previous recognition pass is still running")
	}

	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return errors.New("deepgram API key is not configured")
	}

	wsURL, err := buildListenURL(r.cfg)
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	pass := &streamPass{
		conn:      conn,
		sessionID: sessionID,
		onEvent:   onEvent,
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	r.current = pass

	pass.wg.Add(2)
	go pass.writeLoop(ctx, frames)
	go pass.readLoop()
	go func() {
		pass.wg.Wait()
		_ = conn.Close()
		close(pass.done)
	}()
	return nil
}

// Stop abandons the network stream and joins the loops with a short bounded
// wait. No events are emitted afterwards.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	pass := r.current
	r.mu.Unlock()
	if pass == nil {
		return nil
	}
	return pass.stop()
}

type streamPass struct {
	conn      *websocket.Conn
	sessionID uint64
	onEvent   ports.EventFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
	endOnce  sync.Once
	stopped  chan struct{}
	done     chan struct{}

	aggMu      sync.Mutex
	finals     []string
	lastSpoken string
}

func (p *streamPass) stop() error {
	p.stopOnce.Do(func() {
		close(p.stopped)
		_ = p.conn.Close()
	})
	select {
	case <-p.done:
	case <-time.After(stopJoinWait):
	}
	return nil
}

func (p *streamPass) finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *streamPass) emit(event domain.RecognitionEvent) {
	select {
	case <-p.stopped:
		return
	default:
	}
	event.SessionID = p.sessionID
	p.onEvent(event)
}

// emitTerminal delivers the single final-or-error event for the pass.
func (p *streamPass) emitTerminal(event domain.RecognitionEvent) {
	p.endOnce.Do(func() { p.emit(event) })
}

func (p *streamPass) writeLoop(ctx context.Context, frames ports.AudioFrames) {
	defer p.wg.Done()

	for {
		select {
		case chunk := <-frames:
			if chunk == nil {
				_ = p.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
				return
			}
			if len(chunk.PCM16) == 0 {
				continue
			}
			if err := p.conn.WriteMessage(websocket.BinaryMessage, chunk.PCM16); err != nil {
				return
			}
		case <-p.stopped:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *streamPass) readLoop() {
	defer p.wg.Done()

	for {
		_, payload, err := p.conn.ReadMessage()
		if err != nil {
			if isNormalClose(err) {
				p.emitTerminal(domain.RecognitionEvent{
					Kind: domain.RecognitionFinal,
					Text: p.aggregated(),
				})
			} else {
				p.emitTerminal(domain.RecognitionEvent{
					Kind:      domain.RecognitionError,
					Code:      domain.ErrorCodeNetwork,
					Message:   "failed to read provider event: " + err.Error(),
					Retryable: true,
				})
			}
			return
		}

		var response listenResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			p.emitTerminal(domain.RecognitionEvent{
				Kind:      domain.RecognitionError,
				Code:      domain.ErrorCodeASRProtocol,
				Message:   message,
				Retryable: true,
			})
			return
		}

		transcript := extractTranscript(response)
		if transcript == "" {
			continue
		}

		p.record(transcript, response.IsFinal || response.SpeechFinal)
		if !response.IsFinal && !response.SpeechFinal {
			p.emit(domain.RecognitionEvent{Kind: domain.RecognitionPartial, Text: transcript})
		}
	}
}

func (p *streamPass) record(text string, isFinal bool) {
	p.aggMu.Lock()
	defer p.aggMu.Unlock()
	p.lastSpoken = text
	if isFinal {
		p.finals = append(p.finals, text)
	}
}

// aggregated joins the confirmed segments, falling back to the last interim
// text when the stream ended before any segment was confirmed.
func (p *streamPass) aggregated() string {
	p.aggMu.Lock()
	defer p.aggMu.Unlock()

	joined := strings.TrimSpace(strings.Join(p.finals, " "))
	if joined == "" {
		return p.lastSpoken
	}
	if p.lastSpoken == "" || strings.HasSuffix(joined, p.lastSpoken) {
		return joined
	}
	if len(p.lastSpoken) > len(joined) {
		return strings.TrimSpace(joined + " " + p.lastSpoken)
	}
	return joined
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

type listenResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func extractTranscript(response listenResponse) string {
	if len(response.Channel.Alternatives) == 0 {
		return ""
	}
	return strings.TrimSpace(response.Channel.Alternatives[0].Transcript)
}

func buildListenURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", cfg.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", cfg.Channels))
	query.Set("interim_results", "true")
	query.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
