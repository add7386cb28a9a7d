package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/claim-radar/backend/internal/config"
	"github.com/DeafMist/claim-radar/backend/internal/feed"
	"github.com/DeafMist/claim-radar/backend/internal/logger"
	"github.com/DeafMist/claim-radar/backend/internal/models"
)

type source interface {
	Poll(ctx context.Context) ([]models.RawDocument, error)
	MarkSeen(doc models.RawDocument)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func main() {
	log := logger.New("feeder")
	cfg, err := config.LoadFeeder()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	poller := feed.NewPoller(cfg.FeedURLs, feed.Options{
		SourceType:     cfg.SourceType,
		RequestTimeout: cfg.RequestTimeout,
		SeenCapacity:   cfg.SeenCapacity,
	}, log)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	log.Info("feeder started",
		slog.Int("feeds", len(cfg.FeedURLs)),
		slog.String("topic", cfg.KafkaTopic),
		slog.Duration("interval", cfg.Interval),
	)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	runOnce(ctx, log, poller, writer)
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			runOnce(ctx, log, poller, writer)
		}
	}
}

func runOnce(ctx context.Context, log *slog.Logger, src source, w messageWriter) {
	sent, err := publish(ctx, src, w)
	if err != nil {
		log.Warn("feed run incomplete (will retry on next interval)", slog.Int("sent", sent), slog.Any("err", err))
		return
	}
	log.Info("feed run completed", slog.Int("sent", sent))
}

// publish polls src and writes every new item to the intake topic, keyed by
// url. Items are marked seen only once Kafka acknowledged them.
func publish(ctx context.Context, src source, w messageWriter) (int, error) {
	docs, pollErr := src.Poll(ctx)

	sent := 0
	for _, doc := range docs {
		body, err := json.Marshal(doc)
		if err != nil {
			return sent, fmt.Errorf("encode %s: %w", doc.URL, err)
		}
		if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(doc.URL), Value: body}); err != nil {
			return sent, fmt.Errorf("write %s: %w", doc.URL, err)
		}
		src.MarkSeen(doc)
		sent++
	}
	return sent, pollErr
}
