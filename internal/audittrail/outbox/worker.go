// Package outbox streams committed audit entries to Kafka. Entries are
// written to the audit_outbox table inside the mutating transaction; this
// worker publishes them after commit, so consumers see the same ordered
// feed the primary table holds without polling it.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"dhfcore/internal/audittrail/metrics"
)

const defaultBatchSize = 100

// Publisher abstracts the Kafka client for tests.
type Publisher interface {
	ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults
}

// Worker polls the outbox table and publishes pending rows in Seq order.
type Worker struct {
	db        *sql.DB
	publisher Publisher
	topic     string
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewWorker constructs an outbox worker.
func NewWorker(db *sql.DB, publisher Publisher, topic string, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Worker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Worker{db: db, publisher: publisher, topic: topic, interval: interval, logger: logger, metrics: m}
}

// NewKafkaClient builds the franz-go client used by the worker.
func NewKafkaClient(brokers []string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// Run polls until the context is cancelled. Publish failures are retried on
// the next tick; rows are only marked published after Kafka acknowledges.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drain(ctx); err != nil {
				w.logger.ErrorContext(ctx, "audit outbox drain failed", "error", err)
			}
		}
	}
}

func (w *Worker) drain(ctx context.Context) error {
	rows, err := w.db.QueryContext(ctx, `
		SELECT seq, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
	`, defaultBatchSize)
	if err != nil {
		return fmt.Errorf("select pending outbox rows: %w", err)
	}
	defer rows.Close()

	var (
		seqs    []int64
		records []*kgo.Record
	)
	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return fmt.Errorf("scan outbox row: %w", err)
		}
		seqs = append(seqs, seq)
		records = append(records, &kgo.Record{
			Topic: w.topic,
			Key:   []byte(strconv.FormatInt(seq, 10)),
			Value: payload,
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate outbox rows: %w", err)
	}
	if w.metrics != nil {
		w.metrics.SetOutboxPending(len(seqs))
	}
	if len(records) == 0 {
		return nil
	}

	if err := w.publisher.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("publish outbox batch: %w", err)
	}

	// Mark only after the broker acknowledged. A crash between publish and
	// mark re-publishes the batch; consumers dedupe on seq.
	now := time.Now()
	for _, seq := range seqs {
		if _, err := w.db.ExecContext(ctx,
			`UPDATE audit_outbox SET published_at = $1 WHERE seq = $2`, now, seq); err != nil {
			return fmt.Errorf("mark outbox row %d published: %w", seq, err)
		}
		if w.metrics != nil {
			w.metrics.IncOutboxPublished()
		}
	}
	return nil
}
