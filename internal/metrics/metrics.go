package metrics

import (
	"sync"
	"time"
)

// SessionMetrics accumulates per-session counters for log output.
// Informational only; never consulted for control flow.
type SessionMetrics struct {
	mu sync.Mutex

	sessionID        uint64
	startedAt        time.Time
	finishedAt       time.Time
	firstResultAt    time.Time
	partialCount     int
	finalCount       int
	transcriptLength int
	droppedChunks    int
}

func NewSessionMetrics(sessionID uint64) *SessionMetrics {
	return &SessionMetrics{sessionID: sessionID, startedAt: time.Now()}
}

func (m *SessionMetrics) AddPartial(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markFirstResult()
	m.partialCount++
	m.transcriptLength = len(text)
}

func (m *SessionMetrics) AddFinal(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markFirstResult()
	m.finalCount++
	m.transcriptLength = len(text)
}

func (m *SessionMetrics) SetDroppedChunks(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.droppedChunks = n
}

func (m *SessionMetrics) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finishedAt.IsZero() {
		m.finishedAt = time.Now()
	}
}

// LogAttrs returns key-value pairs for slog.
func (m *SessionMetrics) LogAttrs() []any {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := m.finishedAt
	if end.IsZero() {
		end = time.Now()
	}
	var firstResult time.Duration
	if !m.firstResultAt.IsZero() {
		firstResult = m.firstResultAt.Sub(m.startedAt)
	}
	return []any{
		"session_id", m.sessionID,
		"duration", end.Sub(m.startedAt).Round(time.Millisecond),
		"first_result", firstResult.Round(time.Millisecond),
		"partials", m.partialCount,
		"finals", m.finalCount,
		"transcript_chars", m.transcriptLength,
		"dropped_chunks", m.droppedChunks,
	}
}

func (m *SessionMetrics) markFirstResult() {
	if m.firstResultAt.IsZero() {
		m.firstResultAt = time.Now()
	}
}
