// Package benchmark drives the measured prefill/decode sweep against an
// attached text-generation server.
package benchmark

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/tgbench/tgbench/internal/config"
	"github.com/tgbench/tgbench/internal/metrics"
	"github.com/tgbench/tgbench/internal/shard"
	"github.com/tgbench/tgbench/internal/tokenizer"
)

// BatchReport holds the aggregated latencies for one batch size of the sweep.
type BatchReport struct {
	BatchSize int `json:"batch_size"`

	// Prefill covers the whole first forward pass of each run.
	Prefill metrics.Stats `json:"prefill"`
	// Decode covers individual decode steps, not whole decode phases.
	Decode metrics.Stats `json:"decode"`

	// Throughput in generated tokens per second, derived from mean latency.
	PrefillTokensPerSec float64 `json:"prefill_tokens_per_sec"`
	DecodeTokensPerSec  float64 `json:"decode_tokens_per_sec"`
}

// Report is the full outcome of a benchmark sweep.
type Report struct {
	Tokenizer      string        `json:"tokenizer"`
	Revision       string        `json:"revision,omitempty"`
	Shards         int           `json:"shards"`
	SequenceLength int           `json:"sequence_length"`
	DecodeLength   int           `json:"decode_length"`
	Runs           int           `json:"runs"`
	Batches        []BatchReport `json:"batches"`
}

// Generator abstracts the sharded client so tests can substitute failures.
type Generator interface {
	Len() int
	Prefill(ctx context.Context, batch shard.Batch) (shard.GenerateResult, error)
	Decode(ctx context.Context, batches []shard.CachedBatch) (shard.GenerateResult, error)
	ClearCache(ctx context.Context, batchID *uint64) error
}

// Run executes the full sweep: for every configured batch size, warmup
// iterations are discarded, then measured runs are recorded. The server
// cache is cleared after every iteration so runs never influence each other.
func Run(ctx context.Context, cfg *config.Config, tok *tokenizer.Tokenizer, client Generator) (*Report, error) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	prompt := tok.Prompt(rng, cfg.SequenceLength)

	report := &Report{
		Tokenizer:      cfg.TokenizerName,
		Revision:       cfg.Revision,
		Shards:         client.Len(),
		SequenceLength: cfg.SequenceLength,
		DecodeLength:   cfg.DecodeLength,
		Runs:           cfg.Runs,
	}

	runner := &runner{cfg: cfg, client: client, prompt: prompt}
	for _, batchSize := range cfg.BatchSizes {
		log.WithField("batch_size", batchSize).Info("benchmarking batch size")
		batch, err := runner.sweep(ctx, batchSize)
		if err != nil {
			return nil, fmt.Errorf("batch size %d: %w", batchSize, err)
		}
		report.Batches = append(report.Batches, batch)
	}
	return report, nil
}

type runner struct {
	cfg    *config.Config
	client Generator
	prompt string

	// nextBatchID is bumped per iteration so cached batches never collide.
	nextBatchID uint64
	nextReqID   uint64
}

func (r *runner) sweep(ctx context.Context, batchSize int) (BatchReport, error) {
	for i := 0; i < r.cfg.Warmups; i++ {
		if err := r.iteration(ctx, batchSize, nil, nil); err != nil {
			return BatchReport{}, fmt.Errorf("warmup %d: %w", i+1, err)
		}
	}

	prefill := metrics.NewRecorder()
	decode := metrics.NewRecorder()
	for i := 0; i < r.cfg.Runs; i++ {
		if err := r.iteration(ctx, batchSize, prefill, decode); err != nil {
			return BatchReport{}, fmt.Errorf("run %d: %w", i+1, err)
		}
	}

	report := BatchReport{
		BatchSize: batchSize,
		Prefill:   prefill.Stats(),
		Decode:    decode.Stats(),
	}
	report.PrefillTokensPerSec = throughput(batchSize, report.Prefill.Mean)
	report.DecodeTokensPerSec = throughput(batchSize, report.Decode.Mean)
	return report, nil
}

// iteration runs one prefill pass plus decode_length-1 decode steps, then
// clears the cached batch. Recorders are nil during warmup.
func (r *runner) iteration(ctx context.Context, batchSize int, prefill, decode *metrics.Recorder) error {
	batch := r.newBatch(batchSize)
	batchID := batch.ID

	start := time.Now()
	result, err := r.client.Prefill(ctx, batch)
	if err != nil {
		return fmt.Errorf("prefill: %w", err)
	}
	if prefill != nil {
		prefill.Record(time.Since(start))
	}

	for step := 0; step < r.cfg.DecodeLength-1; step++ {
		if result.Batch == nil {
			return fmt.Errorf("decode step %d: server dropped the cached batch", step+1)
		}
		start = time.Now()
		result, err = r.client.Decode(ctx, []shard.CachedBatch{*result.Batch})
		if err != nil {
			return fmt.Errorf("decode step %d: %w", step+1, err)
		}
		if decode != nil {
			decode.Record(time.Since(start))
		}
	}

	if err := r.client.ClearCache(ctx, &batchID); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

func (r *runner) newBatch(batchSize int) shard.Batch {
	r.nextBatchID++
	requests := make([]shard.Request, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		r.nextReqID++
		requests = append(requests, shard.Request{
			ID:                 r.nextReqID,
			Inputs:             r.prompt,
			Truncate:           uint32(r.cfg.SequenceLength),
			Parameters:         r.parameters(),
			StoppingParameters: r.stopping(),
		})
	}
	return shard.Batch{
		ID:       r.nextBatchID,
		Requests: requests,
		Size:     uint32(batchSize),
	}
}

// parameters maps the optional CLI overrides onto the wire defaults used
// when a parameter is left unset.
func (r *runner) parameters() shard.NextTokenChooserParameters {
	gen := r.cfg.Generation
	params := shard.NextTokenChooserParameters{
		Temperature:       1.0,
		TopP:              1.0,
		TypicalP:          1.0,
		RepetitionPenalty: 1.0,
		DoSample:          gen.DoSample,
		Watermark:         gen.Watermark,
	}
	if gen.Temperature != nil {
		params.Temperature = *gen.Temperature
	}
	if gen.TopK != nil {
		params.TopK = uint32(*gen.TopK)
	}
	if gen.TopP != nil {
		params.TopP = *gen.TopP
	}
	if gen.TypicalP != nil {
		params.TypicalP = *gen.TypicalP
	}
	if gen.RepetitionPenalty != nil {
		params.RepetitionPenalty = *gen.RepetitionPenalty
	}
	return params
}

// stopping forces the shards to generate exactly decode_length tokens so
// every run measures the same amount of work.
func (r *runner) stopping() shard.StoppingCriteriaParameters {
	stopping := shard.StoppingCriteriaParameters{
		MaxNewTokens:   uint32(r.cfg.DecodeLength),
		IgnoreEOSToken: true,
	}
	if r.cfg.Generation.MinNewTokens != nil {
		stopping.MinNewTokens = uint32(*r.cfg.Generation.MinNewTokens)
	}
	return stopping
}

func throughput(batchSize int, mean time.Duration) float64 {
	if mean <= 0 {
		return 0
	}
	return float64(batchSize) / mean.Seconds()
}
