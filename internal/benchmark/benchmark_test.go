package benchmark_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgbench/tgbench/internal/benchmark"
	"github.com/tgbench/tgbench/internal/config"
	"github.com/tgbench/tgbench/internal/shard"
	"github.com/tgbench/tgbench/internal/shard/shardtest"
	"github.com/tgbench/tgbench/internal/tokenizer"
)

const tokenizerDefinition = `{
	"model": {"vocab": {"hello": 0, "world": 1, "bench": 2, "mark": 3}},
	"added_tokens": [{"id": 4, "content": "<eos>"}]
}`

func loadTokenizer(t *testing.T) *tokenizer.Tokenizer {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, tokenizer.DefinitionFile), []byte(tokenizerDefinition), 0o644))
	tok, err := tokenizer.Acquire(context.Background(), dir, "main")
	require.NoError(t, err)
	return tok
}

func testConfig() *config.Config {
	return &config.Config{
		TokenizerName:  "test/model",
		BatchSizes:     []int{1, 2},
		SequenceLength: 8,
		DecodeLength:   4,
		Runs:           3,
		Warmups:        1,
	}
}

func TestRunSweepsEveryBatchSize(t *testing.T) {
	cluster := shardtest.StartCluster(t, 2)
	client, err := shard.Connect(context.Background(), cluster.MasterPath())
	require.NoError(t, err)
	defer client.Close()

	cfg := testConfig()
	report, err := benchmark.Run(context.Background(), cfg, loadTokenizer(t), client)
	require.NoError(t, err)

	require.Len(t, report.Batches, 2)
	assert.Equal(t, 2, report.Shards)
	assert.Equal(t, 8, report.SequenceLength)
	assert.Equal(t, 4, report.DecodeLength)

	for i, batch := range report.Batches {
		assert.Equal(t, cfg.BatchSizes[i], batch.BatchSize)
		// 3 measured runs per batch size; warmups are not recorded.
		assert.Equal(t, int64(3), batch.Prefill.Count)
		// decode_length-1 decode steps per run.
		assert.Equal(t, int64(9), batch.Decode.Count)
		assert.Greater(t, batch.PrefillTokensPerSec, 0.0)
		assert.Greater(t, batch.DecodeTokensPerSec, 0.0)
	}

	iterations := 2 * (cfg.Warmups + cfg.Runs)
	// Every iteration touches both shards once per RPC.
	assert.Equal(t, iterations*2, cluster.PrefillCalls())
	assert.Equal(t, iterations*(cfg.DecodeLength-1)*2, cluster.DecodeCalls())
	assert.Equal(t, iterations*2, cluster.ClearCalls())
}

func TestRunClearsCacheBetweenIterations(t *testing.T) {
	cluster := shardtest.StartCluster(t, 1)
	client, err := shard.Connect(context.Background(), cluster.MasterPath())
	require.NoError(t, err)
	defer client.Close()

	cfg := testConfig()
	cfg.BatchSizes = []int{1}
	cfg.Warmups = 0
	cfg.Runs = 5

	_, err = benchmark.Run(context.Background(), cfg, loadTokenizer(t), client)
	require.NoError(t, err)
	assert.Equal(t, 5, cluster.ClearCalls())
}

func TestRunSingleDecodeTokenSkipsDecodeSteps(t *testing.T) {
	cluster := shardtest.StartCluster(t, 1)
	client, err := shard.Connect(context.Background(), cluster.MasterPath())
	require.NoError(t, err)
	defer client.Close()

	cfg := testConfig()
	cfg.BatchSizes = []int{1}
	cfg.DecodeLength = 1
	cfg.Warmups = 0
	cfg.Runs = 2

	report, err := benchmark.Run(context.Background(), cfg, loadTokenizer(t), client)
	require.NoError(t, err)
	assert.Equal(t, 0, cluster.DecodeCalls())
	assert.Equal(t, int64(0), report.Batches[0].Decode.Count)
	assert.Equal(t, 0.0, report.Batches[0].DecodeTokensPerSec)
}

type failingGenerator struct {
	failDecodeAt int
	decodes      int
}

func (f *failingGenerator) Len() int { return 1 }

func (f *failingGenerator) Prefill(_ context.Context, batch shard.Batch) (shard.GenerateResult, error) {
	return shard.GenerateResult{
		Generations: int(batch.Size),
		Batch:       &shard.CachedBatch{ID: batch.ID, Size: batch.Size},
	}, nil
}

func (f *failingGenerator) Decode(_ context.Context, batches []shard.CachedBatch) (shard.GenerateResult, error) {
	f.decodes++
	if f.decodes >= f.failDecodeAt {
		return shard.GenerateResult{}, errors.New("shard crashed")
	}
	return shard.GenerateResult{Generations: 1, Batch: &batches[0]}, nil
}

func (f *failingGenerator) ClearCache(context.Context, *uint64) error { return nil }

func TestRunStopsOnDecodeError(t *testing.T) {
	cfg := testConfig()
	cfg.BatchSizes = []int{1}
	cfg.Warmups = 0

	_, err := benchmark.Run(context.Background(), cfg, loadTokenizer(t), &failingGenerator{failDecodeAt: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch size 1")
	assert.Contains(t, err.Error(), "decode step 2")
}
