package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/buildingai/buildingai/internal/core/domain"
)

// Subjects.
const (
	SubjectAll        = "detection.>"
	SubjectProgress   = "detection.progress."
	SubjectRun        = "detection.run."
	SubjectRunsFilter = "detection.run.>"
)

// Streams.
const (
	StreamProgress = "DETECTION_PROGRESS"
	StreamRuns     = "DETECTION_RUNS"
)

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if err := ensureStreams(js); err != nil {
		conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, js: js}, nil
}

func ensureStreams(js nats.JetStreamContext) error {
	streams := []nats.StreamConfig{
		{
			Name:      StreamProgress,
			Subjects:  []string{SubjectProgress + ">"},
			Retention: nats.LimitsPolicy,
			MaxAge:    1 * time.Hour,
			Storage:   nats.MemoryStorage,
		},
		{
			Name:      StreamRuns,
			Subjects:  []string{SubjectRunsFilter},
			Retention: nats.InterestPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist, try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}
	return nil
}

// PublishProgress publishes a settled sub-region on detection.progress.<run>.
func (p *Publisher) PublishProgress(ctx context.Context, ev *domain.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	runID := ev.RunID
	if runID == "" {
		runID = "adhoc"
	}
	_, err = p.js.Publish(SubjectProgress+runID, data, nats.Context(ctx))
	return err
}

// PublishRun publishes a finished run on detection.run.<status>.
func (p *Publisher) PublishRun(ctx context.Context, run *domain.DetectionRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectRun+string(run.Status), data, nats.Context(ctx), nats.MsgId(run.ID))
	return err
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return connect(url)
}

func connect(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
