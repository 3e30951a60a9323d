package telemetry

import (
	"sync"
	"time"
)

// Level is the severity of a console entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}

// Entry is one line of user-facing console output.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   Level     `json:"level"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
	Count   int       `json:"count"`
}

// LogService is the bounded console buffer that expression and script
// output lands in. A message identical to the last one from the same source
// bumps that entry's Count instead of appending.
type LogService struct {
	mu      sync.Mutex
	max     int
	entries []Entry
	last    map[string]int
	logger  *Logger
	metrics *Metrics
	now     func() time.Time
}

// NewLogService creates a buffer holding at most max entries. Entries are
// mirrored to logger when it is non-nil.
func NewLogService(max int, logger *Logger) *LogService {
	if max <= 0 {
		max = 500
	}
	return &LogService{
		max:    max,
		last:   make(map[string]int),
		logger: logger,
		now:    time.Now,
	}
}

// SetMetrics attaches a metrics sink counting entries by level.
func (s *LogService) SetMetrics(m *Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// Append records message from source.
func (s *LogService) Append(level Level, source, message string) {
	if !level.Valid() {
		level = LevelInfo
	}

	s.mu.Lock()
	if i, ok := s.last[source]; ok && i < len(s.entries) {
		e := &s.entries[i]
		if e.Level == level && e.Message == message {
			e.Count++
			e.Time = s.now()
			s.mu.Unlock()
			return
		}
	}

	s.entries = append(s.entries, Entry{
		Time:    s.now(),
		Level:   level,
		Source:  source,
		Message: message,
		Count:   1,
	})
	if over := len(s.entries) - s.max; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
		s.reindex()
	} else {
		s.last[source] = len(s.entries) - 1
	}
	metrics := s.metrics
	s.mu.Unlock()

	metrics.RecordLogEntry(level)
	s.mirror(level, source, message)
}

// Entries returns a copy of the buffer, oldest first.
func (s *LogService) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of buffered entries.
func (s *LogService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear empties the buffer.
func (s *LogService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.last = make(map[string]int)
}

// Sink returns a function that appends under a fixed source.
func (s *LogService) Sink(source string) func(Level, string) {
	return func(level Level, message string) {
		s.Append(level, source, message)
	}
}

// reindex rebuilds last after the front of the buffer was dropped.
// Caller holds mu.
func (s *LogService) reindex() {
	s.last = make(map[string]int, len(s.last))
	for i, e := range s.entries {
		s.last[e.Source] = i
	}
}

func (s *LogService) mirror(level Level, source, message string) {
	if s.logger == nil {
		return
	}
	ev := s.logger.zlog.Info()
	switch level {
	case LevelDebug:
		ev = s.logger.zlog.Debug()
	case LevelWarn:
		ev = s.logger.zlog.Warn()
	case LevelError:
		ev = s.logger.zlog.Error()
	}
	ev.Str("source", source).Msg(message)
}
