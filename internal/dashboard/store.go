package dashboard

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"fundingarb/internal/metrics"
	"fundingarb/internal/models"
)

// metricStore keeps the most recent emitted metrics. It is safe for
// concurrent use.
type metricStore struct {
	mu    sync.RWMutex
	items []metrics.Metric
	limit int
}

func newMetricStore(limit int) *metricStore {
	if limit <= 0 {
		limit = 200
	}
	return &metricStore{limit: limit}
}

func (s *metricStore) handle(metric metrics.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, metric)
	if len(s.items) > s.limit {
		s.items = append([]metrics.Metric(nil), s.items[len(s.items)-s.limit:]...)
	}
}

func (s *metricStore) snapshot() []metrics.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metrics.Metric, len(s.items))
	copy(out, s.items)
	return out
}

type logRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// logStore is a logrus hook retaining the most recent log entries.
type logStore struct {
	mu      sync.RWMutex
	items   []logRecord
	limit   int
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	if limit <= 0 {
		limit = 200
	}
	ls := &logStore{limit: limit}
	ls.enabled.Store(true)
	return ls
}

func (s *logStore) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	if component, ok := entry.Data["component"].(string); ok {
		record.Component = component
	}

	if len(entry.Data) > 0 {
		record.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if k == "component" {
				continue
			}
			switch val := v.(type) {
			case error:
				record.Fields[k] = val.Error()
			case fmt.Stringer:
				record.Fields[k] = val.String()
			default:
				record.Fields[k] = val
			}
		}
	}

	s.mu.Lock()
	s.items = append(s.items, record)
	if len(s.items) > s.limit {
		s.items = append([]logRecord(nil), s.items[len(s.items)-s.limit:]...)
	}
	s.mu.Unlock()
	return nil
}

func (s *logStore) snapshot() []logRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]logRecord, len(s.items))
	copy(out, s.items)
	return out
}

func (s *logStore) close() {
	s.enabled.Store(false)
}

// cycleSummary is the short form of a cycle report kept in history.
type cycleSummary struct {
	CycleID      string    `json:"cycle_id"`
	StartedAt    time.Time `json:"started_at"`
	DurationMs   int64     `json:"duration_ms"`
	Quotes       int       `json:"quotes"`
	Candidates   int       `json:"candidates"`
	Excluded     int       `json:"excluded"`
	FailedVenues int       `json:"failed_venues"`
	BestAsset    string    `json:"best_asset,omitempty"`
	BestAPR      float64   `json:"best_apr,omitempty"`
}

func summarize(r models.CycleReport) cycleSummary {
	s := cycleSummary{
		CycleID:      r.CycleID,
		StartedAt:    r.StartedAt,
		DurationMs:   r.Duration.Milliseconds(),
		Quotes:       r.QuoteCount(),
		Candidates:   len(r.Candidates),
		Excluded:     len(r.Diagnostics.Excluded),
		FailedVenues: len(r.Diagnostics.FailedVenues),
	}
	if len(r.Candidates) > 0 {
		s.BestAsset = r.Candidates[0].BaseCurrency
		s.BestAPR = r.Candidates[0].ResultingAPR
	}
	return s
}

// cycleStore holds the latest cycle report and a bounded summary history.
type cycleStore struct {
	mu      sync.RWMutex
	latest  *models.CycleReport
	history []cycleSummary
	limit   int
}

func newCycleStore(limit int) *cycleStore {
	if limit <= 0 {
		limit = 100
	}
	return &cycleStore{limit: limit}
}

func (s *cycleStore) record(r models.CycleReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = &r
	s.history = append(s.history, summarize(r))
	if len(s.history) > s.limit {
		s.history = append([]cycleSummary(nil), s.history[len(s.history)-s.limit:]...)
	}
}

func (s *cycleStore) last() (models.CycleReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return models.CycleReport{}, false
	}
	return *s.latest, true
}

func (s *cycleStore) summaries() []cycleSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]cycleSummary, len(s.history))
	copy(out, s.history)
	return out
}
