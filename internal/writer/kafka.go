package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"fundingarb/config"
	"fundingarb/internal/models"
	"fundingarb/logger"
)

// MessageWriter is the part of kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a kafka.Writer for the configured brokers and topic.
func NewKafkaWriter(cfg config.KafkaConfig) (*kafka.Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	return &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}, nil
}

// candidateMessage is the JSON value published for each ranked candidate.
type candidateMessage struct {
	CycleID    string                    `json:"cycle_id"`
	Rank       int                       `json:"rank"`
	ObservedAt time.Time                 `json:"observed_at"`
	Candidate  models.ArbitrageCandidate `json:"candidate"`
}

// CandidatePublisher writes the ranked candidates of every cycle report to
// Kafka, keyed by base currency.
type CandidatePublisher struct {
	reports <-chan models.CycleReport
	writer  MessageWriter
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	log     *logger.Log
}

// NewCandidatePublisher creates a publisher fed by reports.
func NewCandidatePublisher(reports <-chan models.CycleReport, w MessageWriter) (*CandidatePublisher, error) {
	if reports == nil {
		return nil, fmt.Errorf("nil report channel provided")
	}
	if w == nil {
		return nil, fmt.Errorf("nil kafka writer provided")
	}
	return &CandidatePublisher{reports: reports, writer: w, log: logger.GetLogger()}, nil
}

func (p *CandidatePublisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("candidate publisher already running")
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)

	p.log.WithComponent("kafka_writer").Info("starting candidate publisher")
	p.wg.Add(1)
	go p.run(ctx)
	return nil
}

func (p *CandidatePublisher) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case report, ok := <-p.reports:
			if !ok {
				return
			}
			if err := p.publish(ctx, report); err != nil {
				p.log.WithComponent("kafka_writer").WithError(err).WithField("cycle_id", report.CycleID).Warn("failed to publish candidates")
			}
		}
	}
}

func (p *CandidatePublisher) publish(ctx context.Context, report models.CycleReport) error {
	if len(report.Candidates) == 0 {
		return nil
	}
	observed := report.StartedAt.UTC()

	msgs := make([]kafka.Message, 0, len(report.Candidates))
	for i, c := range report.Candidates {
		data, err := json.Marshal(candidateMessage{
			CycleID:    report.CycleID,
			Rank:       i + 1,
			ObservedAt: observed,
			Candidate:  c,
		})
		if err != nil {
			return fmt.Errorf("marshal candidate %s: %w", c.BaseCurrency, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(c.BaseCurrency), Value: data, Time: observed})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write messages: %w", err)
	}
	p.log.WithComponent("kafka_writer").WithFields(logger.Fields{
		"cycle_id": report.CycleID,
		"messages": len(msgs),
	}).Debug("candidates written to kafka")
	return nil
}

// Stop ends the publish loop and closes the writer.
func (p *CandidatePublisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	if err := p.writer.Close(); err != nil {
		p.log.WithComponent("kafka_writer").WithError(err).Warn("failed to close kafka writer")
	}
	p.log.WithComponent("kafka_writer").Info("candidate publisher stopped")
}
