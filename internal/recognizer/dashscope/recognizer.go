// Package dashscope recognizes speech with the DashScope qwen3-asr-flash
// model. The model accepts one complete audio clip and streams recognition
// results back, so the recognizer collects PCM chunks until the end-of-stream
// sentinel, encodes a WAV, and performs a single streaming HTTP exchange.
package dashscope

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"voicepaste/internal/domain"
	"voicepaste/internal/ports"
)

const (
	defaultBaseURL = "https://dashscope.aliyuncs.com/api/v1"
	defaultModel   = "qwen3-asr-flash"
	defaultTimeout = 10 * time.Second
	stopJoinWait   = 500 * time.Millisecond
)

// Config controls the DashScope backend.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// Recognizer implements ports.Recognizer against DashScope.
type Recognizer struct {
	cfg Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRecognizer(cfg Config) *Recognizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Recognizer{cfg: cfg}
}

// Start launches the background recognition pass. A pass that has not
// finished yet, such as a worker that outlived Stop's bounded join, makes
// Start fail rather than leave the new session's channel unconsumed.
func (r *Recognizer) Start(ctx context.Context, sessionID uint64, frames ports.AudioFrames, onEvent ports.EventFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		select {
		case <-r.done:
		default:
			return errors.New("previous recognition pass is still running")
		}
	}

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go r.worker(workerCtx, sessionID, frames, onEvent, done)
	return nil
}

// Stop cancels any in-flight pass and joins the worker with a short
// bounded wait. No events are emitted after Stop returns.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(stopJoinWait):
		}
	}
	return nil
}

func (r *Recognizer) worker(ctx context.Context, sessionID uint64, frames ports.AudioFrames, onEvent ports.EventFunc, done chan struct{}) {
	defer close(done)

	pcm, sampleRate, channels, ok := collectPCM(ctx, frames)
	if !ok {
		return
	}

	emit := func(event domain.RecognitionEvent) {
		if ctx.Err() != nil {
			return
		}
		event.SessionID = sessionID
		onEvent(event)
	}

	if len(pcm) == 0 {
		emit(domain.RecognitionEvent{Kind: domain.RecognitionFinal, Text: ""})
		return
	}

	wavB64, err := pcmToWAVBase64(pcm, sampleRate, channels)
	if err != nil {
		emit(domain.RecognitionEvent{
			Kind:    domain.RecognitionError,
			Code:    domain.ErrorCodeASRProtocol,
			Message: "failed to encode audio: " + err.Error(),
		})
		return
	}

	r.recognizeStream(ctx, wavB64, emit)
}

// collectPCM drains the session channel until the sentinel. Returns ok=false
// when cancelled mid-stream.
func collectPCM(ctx context.Context, frames ports.AudioFrames) (pcm []byte, sampleRate, channels int, ok bool) {
	sampleRate = 16000
	channels = 1
	for {
		select {
		case chunk := <-frames:
			if chunk == nil {
				return pcm, sampleRate, channels, true
			}
			pcm = append(pcm, chunk.PCM16...)
			sampleRate = chunk.SampleRate
			channels = chunk.Channels
		case <-ctx.Done():
			return nil, 0, 0, false
		}
	}
}

func (r *Recognizer) recognizeStream(ctx context.Context, wavB64 string, emit func(domain.RecognitionEvent)) {
	apiKey := strings.TrimSpace(r.cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("DASHSCOPE_API_KEY"))
	}
	if apiKey == "" {
		emit(domain.RecognitionEvent{
			Kind:    domain.RecognitionError,
			Code:    domain.ErrorCodeAuthFailed,
			Message: "No API key configured",
		})
		return
	}

	body, err := json.Marshal(generationRequest{
		Model: r.cfg.Model,
		Input: generationInput{
			Messages: []generationMessage{
				{Role: "system", Content: []generationContent{{Text: ""}}},
				{Role: "user", Content: []generationContent{{Audio: wavB64}}},
			},
		},
		Parameters: generationParameters{
			ResultFormat: "message",
			ASROptions:   asrOptions{EnableITN: false},
			Incremental:  true,
		},
	})
	if err != nil {
		emit(toErrorEvent(err))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	endpoint := strings.TrimRight(r.cfg.BaseURL, "/") + "/services/aigc/multimodal-generation/generation"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		emit(toErrorEvent(err))
		return
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DashScope-SSE", "enable")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		emit(toErrorEvent(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		emit(statusToErrorEvent(resp.StatusCode, string(payload)))
		return
	}

	latest := ""
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		text, perr := extractText(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		if perr != nil {
			continue
		}
		if text != "" {
			latest = text
			emit(domain.RecognitionEvent{Kind: domain.RecognitionPartial, Text: text})
		}
	}
	if err := scanner.Err(); err != nil {
		emit(toErrorEvent(err))
		return
	}

	emit(domain.RecognitionEvent{Kind: domain.RecognitionFinal, Text: latest})
}

type generationRequest struct {
	Model      string               `json:"model"`
	Input      generationInput      `json:"input"`
	Parameters generationParameters `json:"parameters"`
}

type generationInput struct {
	Messages []generationMessage `json:"messages"`
}

type generationMessage struct {
	Role    string              `json:"role"`
	Content []generationContent `json:"content"`
}

type generationContent struct {
	Text  string `json:"text,omitempty"`
	Audio string `json:"audio,omitempty"`
}

type generationParameters struct {
	ResultFormat string     `json:"result_format"`
	ASROptions   asrOptions `json:"asr_options"`
	Incremental  bool       `json:"incremental_output"`
}

type asrOptions struct {
	EnableITN bool `json:"enable_itn"`
}

type generationChunk struct {
	Output struct {
		Choices []struct {
			Message struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
}

func extractText(payload string) (string, error) {
	var chunk generationChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", err
	}
	if len(chunk.Output.Choices) == 0 {
		return "", nil
	}
	content := chunk.Output.Choices[0].Message.Content
	if len(content) == 0 {
		return "", nil
	}
	return content[0].Text, nil
}

// pcmToWAVBase64 writes the collected PCM through a temporary WAV file and
// returns its base64 encoding. The wav encoder needs a seekable writer to
// patch up the header, hence the temp file.
func pcmToWAVBase64(pcm []byte, sampleRate, channels int) (string, error) {
	path := filepath.Join(os.TempDir(), "voicepaste-"+uuid.NewString()+".wav")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer os.Remove(path)

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           pcm16ToInts(pcm),
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	wavBytes, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(wavBytes), nil
}

func pcm16ToInts(pcm []byte) []int {
	samples := make([]int, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		samples = append(samples, int(int16(binary.LittleEndian.Uint16(pcm[i:]))))
	}
	return samples
}

// toErrorEvent maps a transport error to one of the stable error codes.
func toErrorEvent(err error) domain.RecognitionEvent {
	message := err.Error()
	low := strings.ToLower(message)

	code := domain.ErrorCodeASRProtocol
	retryable := true
	switch {
	case strings.Contains(low, "401") || strings.Contains(low, "auth") || strings.Contains(low, "api key"):
		code = domain.ErrorCodeAuthFailed
		retryable = false
	case errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(low, "timeout") ||
		strings.Contains(low, "network") ||
		strings.Contains(low, "connection"):
		code = domain.ErrorCodeNetwork
		retryable = true
	}
	return domain.RecognitionEvent{
		Kind:      domain.RecognitionError,
		Code:      code,
		Message:   message,
		Retryable: retryable,
	}
}

func statusToErrorEvent(status int, body string) domain.RecognitionEvent {
	message := fmt.Sprintf("dashscope returned status %d: %s", status, strings.TrimSpace(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.RecognitionEvent{
			Kind:    domain.RecognitionError,
			Code:    domain.ErrorCodeAuthFailed,
			Message: message,
		}
	case status >= http.StatusInternalServerError:
		return domain.RecognitionEvent{
			Kind:      domain.RecognitionError,
			Code:      domain.ErrorCodeNetwork,
			Message:   message,
			Retryable: true,
		}
	default:
		return domain.RecognitionEvent{
			Kind:      domain.RecognitionError,
			Code:      domain.ErrorCodeASRProtocol,
			Message:   message,
			Retryable: true,
		}
	}
}
