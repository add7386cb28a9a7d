package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/claim-radar/backend/internal/bootstrap"
	"github.com/DeafMist/claim-radar/backend/internal/config"
	"github.com/DeafMist/claim-radar/backend/internal/dedupe"
	"github.com/DeafMist/claim-radar/backend/internal/events"
	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/logger"
	"github.com/DeafMist/claim-radar/backend/internal/metrics"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/pipeline"
)

type ingester interface {
	Ingest(ctx context.Context, raw models.RawDocument) (pipeline.IngestResult, error)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}
	llm, err := config.LoadLLM()
	if err != nil {
		log.Error("load llm config", slog.Any("err", err))
		os.Exit(1)
	}
	pcfg, err := config.LoadPipeline()
	if err != nil {
		log.Error("load pipeline config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	st, _, err := bootstrap.OpenStore(ctx, cfg.Common, llm.Dimensions, bootstrap.DefaultConnectOptions(), log)
	if err != nil {
		log.Error("open store", slog.Any("err", err))
		os.Exit(1)
	}

	p, err := bootstrap.NewPipeline(st, llm, pcfg, bootstrap.PipelineDeps{
		Recent: dedupe.NewRecent(cfg.DedupeCapacity, cfg.DedupeTTL),
	}, log)
	if err != nil {
		log.Error("init pipeline", slog.Any("err", err))
		os.Exit(1)
	}
	rescorer := events.NewRescorer(p.Scorer(), log)

	intakeReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: 0, // Disable auto-commit; manual commit only
	})
	defer intakeReader.Close()

	verdictReader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.VerdictTopic,
		GroupID:        cfg.VerdictConsumer,
		MinBytes:       1,
		MaxBytes:       1e6,
		CommitInterval: 0,
	})
	defer verdictReader.Close()

	intakeDLQ := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.DLQTopic(),
		MaxAttempts: 3,
	})
	defer intakeDLQ.Close()

	verdictDLQ := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.VerdictTopic + "_dlq",
		MaxAttempts: 3,
	})
	defer verdictDLQ.Close()

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", cfg.DLQTopic()),
		slog.String("verdict_topic", cfg.VerdictTopic),
		slog.String("store", cfg.StoreBackend),
	)

	intake := &consumer{
		name:   "intake",
		reader: intakeReader,
		dlq:    newDLQ(intakeDLQ, log),
		handle: func(ctx context.Context, msg kafka.Message) error {
			return processMessage(ctx, log, p, msg)
		},
		log: log,
	}
	verdicts := &consumer{
		name:   "verdicts",
		reader: verdictReader,
		dlq:    newDLQ(verdictDLQ, log),
		handle: rescorer.Handle,
		log:    log,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return intake.run(gctx) })
	g.Go(func() error { return verdicts.run(gctx) })
	g.Go(func() error { return metrics.Serve(gctx, cfg.MetricsAddr, log) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker stopped", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("worker stopped")
}

// consumer fetches, handles and commits messages one at a time. Messages the
// handler rejects go to the dead letter topic before their offset is committed.
type consumer struct {
	name   string
	reader messageReader
	dlq    *dlq
	handle func(ctx context.Context, msg kafka.Message) error
	log    *slog.Logger
}

func (c *consumer) run(ctx context.Context) error {
	log := c.log.With(slog.String("consumer", c.name))
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info("context canceled, stopping")
				return nil
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)

			// Only commit if DLQ write succeeded; otherwise skip commit and reprocess on restart
			if !c.dlq.send(ctx, msg, err) {
				if ctx.Err() != nil {
					return nil
				}
				log.Error("DLQ write exhausted retries, message may be lost if later messages commit",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				continue
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

type dlq struct {
	w        messageWriter
	attempts int
	backoff  time.Duration
	log      *slog.Logger
}

func newDLQ(w messageWriter, log *slog.Logger) *dlq {
	return &dlq{w: w, attempts: 5, backoff: time.Second, log: log}
}

// send copies msg to the dead letter topic with error context, retrying with
// exponential backoff. It reports whether the write succeeded.
func (d *dlq) send(ctx context.Context, msg kafka.Message, cause error) bool {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(append([]kafka.Header(nil), msg.Headers...),
			kafka.Header{Key: "original_topic", Value: []byte(msg.Topic)},
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "error_kind", Value: []byte(errorKind(cause))},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := 0; attempt < d.attempts; attempt++ {
		dlqErr := d.w.WriteMessages(ctx, dlqMsg)
		if dlqErr == nil {
			d.log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		}
		backoff := d.backoff * time.Duration(1<<uint(attempt))
		d.log.Warn("DLQ write failed, retrying",
			slog.Any("err", dlqErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			d.log.Info("context canceled during DLQ retry")
			return false
		}
	}
	return false
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, faults.ErrValidation):
		return "validation"
	case errors.Is(err, faults.ErrUpstreamUnavailable):
		return "upstream"
	case errors.Is(err, faults.ErrNotFound):
		return "not_found"
	case errors.Is(err, faults.ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}

func processMessage(ctx context.Context, log *slog.Logger, p ingester, msg kafka.Message) error {
	var raw models.RawDocument
	if err := json.Unmarshal(msg.Value, &raw); err != nil {
		return faults.Invalid("payload", err.Error())
	}

	res, err := p.Ingest(ctx, raw)
	if err != nil {
		return err
	}

	log.Info("document processed",
		slog.String("outcome", string(res.Outcome)),
		slog.String("id", res.DocumentID),
		slog.String("existing_id", res.ExistingID),
		slog.String("dedup", string(res.Dedup.Kind)),
		slog.Int("claims", len(res.ClaimIDs)),
		slog.Bool("deferred", res.Deferred),
	)
	return nil
}
