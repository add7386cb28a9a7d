package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/claim-radar/backend/internal/bootstrap"
	"github.com/DeafMist/claim-radar/backend/internal/config"
	"github.com/DeafMist/claim-radar/backend/internal/events"
	"github.com/DeafMist/claim-radar/backend/internal/logger"
	"github.com/DeafMist/claim-radar/backend/internal/pipeline"
	"github.com/DeafMist/claim-radar/backend/internal/workflow"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	root := newRootCmd(envApp(os.Stdout))
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var cliConnect = bootstrap.ConnectOptions{MaxRetries: 3, RetryDelay: time.Second, MaxDelay: 5 * time.Second}

// app holds what the commands need. Collaborators are built lazily so that
// commands like version never touch the store.
type app struct {
	out           io.Writer
	openPipeline  func(ctx context.Context) (*pipeline.Pipeline, error)
	ensureIndices func(ctx context.Context) error
}

// envApp wires the production store and model clients from environment variables.
func envApp(out io.Writer) *app {
	// Command output goes to stdout, so logs go to stderr.
	log := logger.NewWithWriter(os.Stderr, "factctl", os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	return &app{
		out: out,
		openPipeline: func(ctx context.Context) (*pipeline.Pipeline, error) {
			common, err := config.LoadCommon()
			if err != nil {
				return nil, err
			}
			llm, err := config.LoadLLM()
			if err != nil {
				return nil, err
			}
			pcfg, err := config.LoadPipeline()
			if err != nil {
				return nil, err
			}
			st, _, err := bootstrap.OpenStore(ctx, common, llm.Dimensions, cliConnect, log)
			if err != nil {
				return nil, err
			}

			var notifier workflow.Notifier
			if api, err := config.LoadAPI(); err == nil && len(api.KafkaBrokers) > 0 {
				notifier = events.NewPublisher(events.NewKafkaWriter(api.KafkaBrokers, api.VerdictTopic), log)
			} else {
				notifier = events.NewRescorer(bootstrap.NewScorer(st, pcfg, log), log)
			}
			return bootstrap.NewPipeline(st, llm, pcfg, bootstrap.PipelineDeps{Notifier: notifier}, log)
		},
		ensureIndices: func(ctx context.Context) error {
			common, err := config.LoadCommon()
			if err != nil {
				return err
			}
			llm, err := config.LoadLLM()
			if err != nil {
				return err
			}
			es, err := bootstrap.ConnectElasticsearch(ctx, common, llm.Dimensions, cliConnect, log)
			if err != nil {
				return err
			}
			return es.EnsureIndices(ctx)
		},
	}
}
