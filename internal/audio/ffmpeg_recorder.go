package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"voicepaste/internal/domain"
	"voicepaste/internal/ports"
)

const (
	startupProbe  = 250 * time.Millisecond
	stopGrace     = 1200 * time.Millisecond
	minChunkBytes = 256
)

// Config describes how the microphone should be captured.
type Config struct {
	Command       string
	InputFormat   string
	InputDevice   string
	SampleRate    int
	Channels      int
	ChunkDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.Command == "" {
		c.Command = "ffmpeg"
	}
	if c.InputFormat == "" {
		c.InputFormat = "pulse"
	}
	if c.InputDevice == "" {
		c.InputDevice = "default"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = 100 * time.Millisecond
	}
	return c
}

// FFmpegRecorder captures microphone PCM16 audio with an ffmpeg subprocess
// and slices it into fixed-duration chunks on the session channel. Pushes
// that would exceed the channel capacity are dropped and counted.
type FFmpegRecorder struct {
	cfg Config

	mu         sync.Mutex
	running    bool
	frames     ports.AudioFrames
	process    *os.Process
	stdout     io.ReadCloser
	stderr     *bytes.Buffer
	waitErr    <-chan error
	readerDone chan struct{}

	dropped atomic.Int64
}

func NewFFmpegRecorder(cfg Config) *FFmpegRecorder {
	return &FFmpegRecorder{cfg: cfg.withDefaults()}
}

// Start spawns ffmpeg and begins pushing chunks into frames. Idempotent
// while already running.
func (r *FFmpegRecorder) Start(ctx context.Context, frames ports.AudioFrames) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	cfg := r.cfg
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create capture stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start capture process: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return fmt.Errorf("capture process exited before capture started: %w: %s", err, trimmed(stderr.String()))
		}
		return errors.New("capture process exited before capture started")
	case <-time.After(startupProbe):
	}

	r.running = true
	r.frames = frames
	r.process = cmd.Process
	r.stdout = stdout
	r.stderr = &stderr
	r.waitErr = waitErr
	r.readerDone = make(chan struct{})
	go r.readLoop(stdout, frames, r.readerDone)
	return nil
}

// Stop halts capture and pushes the end-of-stream sentinel into the
// session channel. Idempotent; the sentinel lands exactly once per Start.
func (r *FFmpegRecorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		r.pushSentinelLocked()
		return nil
	}
	r.running = false

	if r.process != nil {
		_ = r.process.Signal(os.Interrupt)
	}

	var stopErr error
	select {
	case err, ok := <-r.waitErr:
		if ok {
			stopErr = normalizeStopErr(err)
		}
	case <-time.After(stopGrace):
		if r.process != nil {
			_ = r.process.Kill()
		}
		err, ok := <-r.waitErr
		if ok {
			stopErr = normalizeStopErr(err)
		}
	}

	if closeErr := r.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		if stopErr == nil {
			stopErr = closeErr
		}
	}
	<-r.readerDone

	if stopErr != nil && r.stderr != nil && r.stderr.Len() > 0 {
		stopErr = fmt.Errorf("%w: %s", stopErr, trimmed(r.stderr.String()))
	}

	r.pushSentinelLocked()
	r.process = nil
	return stopErr
}

// DroppedChunks reports how many chunks were discarded because the session
// channel was full.
func (r *FFmpegRecorder) DroppedChunks() int {
	return int(r.dropped.Load())
}

func (r *FFmpegRecorder) readLoop(stdout io.Reader, frames ports.AudioFrames, done chan struct{}) {
	defer close(done)

	cfg := r.cfg
	chunkBytes := cfg.SampleRate * cfg.Channels * 2 * int(cfg.ChunkDuration/time.Millisecond) / 1000
	if chunkBytes < minChunkBytes {
		chunkBytes = minChunkBytes
	}

	for {
		buf := make([]byte, chunkBytes)
		n, err := io.ReadFull(stdout, buf)
		if n > 0 {
			chunk := &domain.AudioChunk{
				PCM16:      buf[:n],
				SampleRate: cfg.SampleRate,
				Channels:   cfg.Channels,
				CapturedAt: time.Now(),
			}
			select {
			case frames <- chunk:
			default:
				r.dropped.Add(1)
			}
		}
		if err != nil {
			return
		}
	}
}

// pushSentinelLocked enqueues the nil end-of-stream marker exactly once
// per session. Only data chunks may be lost on overflow; when the channel
// is still full the oldest chunk is evicted to make room for the marker.
func (r *FFmpegRecorder) pushSentinelLocked() {
	frames := r.frames
	if frames == nil {
		return
	}
	r.frames = nil
	for {
		select {
		case frames <- nil:
			return
		default:
		}
		select {
		case chunk := <-frames:
			if chunk == nil {
				// Marker already present.
				return
			}
			r.dropped.Add(1)
		default:
		}
	}
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimmed(input string) string {
	return string(bytes.TrimSpace([]byte(input)))
}
