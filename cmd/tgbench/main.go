package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tgbench/tgbench/internal/benchmark"
	"github.com/tgbench/tgbench/internal/config"
	"github.com/tgbench/tgbench/internal/logging"
	"github.com/tgbench/tgbench/internal/output"
	"github.com/tgbench/tgbench/internal/shard"
	"github.com/tgbench/tgbench/internal/tokenizer"
	"github.com/tgbench/tgbench/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	logging.Setup()

	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// The tokenizer is fetched before any connection work so a bad model
	// name fails fast, without touching the server.
	log.WithField("tokenizer", cfg.TokenizerName).Info("loading tokenizer")
	tok, err := tokenizer.Acquire(context.Background(), cfg.TokenizerName, cfg.Revision)
	if err != nil {
		return err
	}
	log.WithField("vocab_size", tok.VocabSize()).Info("tokenizer ready")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := tracing.Init(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracing shutdown failed")
		}
	}()
	tracer := provider.Tracer()

	log.WithField("socket", cfg.MasterShardUDSPath).Info("connecting to text generation server")
	connectCtx, connectSpan := tracing.StartPhaseSpan(ctx, tracer, "connect")
	client, err := shard.Connect(connectCtx, cfg.MasterShardUDSPath)
	tracing.EndSpan(connectSpan, err)
	if err != nil {
		return err
	}
	defer client.Close()
	log.WithField("shards", client.Len()).Info("connected to all shards")

	// Start from a clean server: every shard must drop any cached state
	// before the first measured run.
	if err := client.ClearCache(ctx, nil); err != nil {
		return err
	}

	runCtx, runSpan := tracing.StartPhaseSpan(ctx, tracer, "benchmark",
		attribute.String("tokenizer", cfg.TokenizerName),
		attribute.Int("shards", client.Len()),
	)
	report, err := benchmark.Run(runCtx, cfg, tok, client)
	tracing.EndSpan(runSpan, err)
	if err != nil {
		return err
	}

	if cfg.JSONOutput {
		return output.PrintJSONReport(os.Stdout, report)
	}
	output.PrintReport(os.Stdout, report)
	return nil
}
