package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/claim-radar/backend/internal/faults"
	"github.com/DeafMist/claim-radar/backend/internal/models"
	"github.com/DeafMist/claim-radar/backend/internal/pipeline"
)

const maxLineBytes = 4 << 20

type ingestSummary struct {
	Total      int            `json:"total"`
	Stored     int            `json:"stored"`
	Duplicates int            `json:"duplicates"`
	Deferred   int            `json:"deferred"`
	Failed     int            `json:"failed"`
	Errors     []ingestFailed `json:"errors,omitempty"`
}

type ingestFailed struct {
	Line  int    `json:"line"`
	Error string `json:"error"`
}

func newIngestCmd(a *app) *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "ingest <file.jsonl>",
		Short: "Ingest raw documents from a JSON lines file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1")
			}
			in, closeFn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeFn()

			p, err := a.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := ingestLines(cmd.Context(), p, in, concurrency)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, summary); err != nil {
				return err
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d documents failed", summary.Failed, summary.Total)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Documents ingested in parallel")
	return cmd
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

// ingestLines feeds every non-empty line to the pipeline. A bad line is
// counted and reported; only cancellation or a read error stops the run.
func ingestLines(ctx context.Context, p *pipeline.Pipeline, in io.Reader, concurrency int) (ingestSummary, error) {
	var (
		mu      sync.Mutex
		summary ingestSummary
	)
	fail := func(line int, err error) {
		mu.Lock()
		defer mu.Unlock()
		summary.Failed++
		summary.Errors = append(summary.Errors, ingestFailed{Line: line, Error: err.Error()})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		summary.Total++

		var doc models.RawDocument
		if err := json.Unmarshal(raw, &doc); err != nil {
			fail(line, faults.Invalid("payload", err.Error()))
			continue
		}
		if gctx.Err() != nil {
			break
		}

		n := line
		g.Go(func() error {
			res, err := p.Ingest(gctx, doc)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				fail(n, err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case res.Outcome == pipeline.OutcomeDuplicateSkipped:
				summary.Duplicates++
			case res.Deferred:
				summary.Stored++
				summary.Deferred++
			default:
				summary.Stored++
			}
			return nil
		})
	}
	waitErr := g.Wait()
	sort.Slice(summary.Errors, func(i, j int) bool { return summary.Errors[i].Line < summary.Errors[j].Line })
	if err := sc.Err(); err != nil {
		return summary, fmt.Errorf("read input: %w", err)
	}
	if waitErr != nil {
		return summary, waitErr
	}
	return summary, ctx.Err()
}
