// Package channel fans cycle reports out to independent consumers.
package channel

import (
	"context"
	"sync"
	"time"

	"fundingarb/internal/metrics"
	"fundingarb/internal/models"
	"fundingarb/logger"
)

// SubscriberStats tracks one consumer's counters.
type SubscriberStats struct {
	Sent    int64
	Dropped int64
}

type subscriber struct {
	name  string
	ch    chan models.CycleReport
	stats SubscriberStats
}

// Channels delivers every published report to each subscriber without
// blocking the publisher; a full subscriber buffer drops the report for
// that subscriber only.
type Channels struct {
	bufferSize int

	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
	log    *logger.Log
}

// NewChannels creates a hub whose subscriber channels hold bufferSize reports.
func NewChannels(bufferSize int) *Channels {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	log := logger.GetLogger()
	log.WithComponent("channels").WithField("buffer_size", bufferSize).Info("cycle report channels initialized")
	return &Channels{bufferSize: bufferSize, log: log}
}

// Subscribe registers a named consumer and returns its receive channel.
// The channel is closed by Close.
func (c *Channels) Subscribe(name string) <-chan models.CycleReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &subscriber{name: name, ch: make(chan models.CycleReport, c.bufferSize)}
	if c.closed {
		close(s.ch)
		return s.ch
	}
	c.subs = append(c.subs, s)
	return s.ch
}

// Publish offers report to every subscriber and returns how many accepted it.
func (c *Channels) Publish(ctx context.Context, report models.CycleReport) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}

	delivered := 0
	for _, s := range c.subs {
		select {
		case s.ch <- report:
			s.stats.Sent++
			delivered++
		case <-ctx.Done():
			return delivered
		default:
			s.stats.Dropped++
			metrics.EmitDropMetric(c.log, metrics.DropMetricCycleReport, s.name)
			c.log.WithComponent("channels").WithFields(logger.Fields{
				"subscriber": s.name,
				"cycle_id":   report.CycleID,
			}).Warn("subscriber buffer full, dropping cycle report")
		}
	}
	return delivered
}

// Stats returns per-subscriber counters keyed by subscriber name.
func (c *Channels) Stats() map[string]SubscriberStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]SubscriberStats, len(c.subs))
	for _, s := range c.subs {
		out[s.name] = s.stats
	}
	return out
}

// StartMetricsReporting logs subscriber counters every interval until ctx ends.
func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for name, st := range c.Stats() {
					c.log.WithComponent("channels").WithFields(logger.Fields{
						"subscriber": name,
						"sent":       st.Sent,
						"dropped":    st.Dropped,
					}).Info("channel stats")
				}
			}
		}
	}()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (c *Channels) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, s := range c.subs {
		close(s.ch)
	}
	c.log.WithComponent("channels").Info("cycle report channels closed")
}
