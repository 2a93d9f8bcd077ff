package shard_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgbench/tgbench/internal/shard"
	"github.com/tgbench/tgbench/internal/shard/shardtest"
)

func TestConnectAttachesEveryShard(t *testing.T) {
	cluster := shardtest.StartCluster(t, 3)

	client, err := shard.Connect(context.Background(), cluster.MasterPath())
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 3, client.Len())
}

func TestConnectUnreachableMaster(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-socket")

	_, err := shard.Connect(context.Background(), missing)
	require.Error(t, err)

	var cerr *shard.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, shard.Unreachable, cerr.Kind)
	assert.Equal(t, missing, cerr.Addr)
}

func TestConnectIsAllOrNothing(t *testing.T) {
	cluster := shardtest.StartCluster(t, 2)
	cluster.Servers[1].SetFailHealth(true)

	_, err := shard.Connect(context.Background(), cluster.MasterPath())
	require.Error(t, err)

	var cerr *shard.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, shard.HandshakeFailed, cerr.Kind)
	assert.Equal(t, cluster.Servers[1].Path, cerr.Addr)
}

func TestClearCacheWaitsForEveryAck(t *testing.T) {
	cluster := shardtest.StartCluster(t, 2)

	client, err := shard.Connect(context.Background(), cluster.MasterPath())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.ClearCache(context.Background(), nil))
	assert.Equal(t, 2, cluster.ClearCalls())
}

func TestClearCacheFailsWhenAnyShardRefuses(t *testing.T) {
	cluster := shardtest.StartCluster(t, 2)
	cluster.Servers[1].SetFailClearCache(true)

	client, err := shard.Connect(context.Background(), cluster.MasterPath())
	require.NoError(t, err)
	defer client.Close()

	err = client.ClearCache(context.Background(), nil)
	require.Error(t, err)

	var cerr *shard.ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, shard.ResetFailed, cerr.Kind)
}

func TestClearCacheScopedToBatch(t *testing.T) {
	cluster := shardtest.StartCluster(t, 1)

	client, err := shard.Connect(context.Background(), cluster.MasterPath())
	require.NoError(t, err)
	defer client.Close()

	id := uint64(7)
	require.NoError(t, client.ClearCache(context.Background(), &id))
	assert.Equal(t, 1, cluster.ClearCalls())
}

func TestPrefillAndDecodeRoundTrip(t *testing.T) {
	cluster := shardtest.StartCluster(t, 2)

	client, err := shard.Connect(context.Background(), cluster.MasterPath())
	require.NoError(t, err)
	defer client.Close()

	batch := shard.Batch{
		ID:   1,
		Size: 2,
		Requests: []shard.Request{
			{ID: 0, Inputs: "hello world", Truncate: 10, StoppingParameters: shard.StoppingCriteriaParameters{MaxNewTokens: 8, IgnoreEOSToken: true}},
			{ID: 1, Inputs: "hello world", Truncate: 10, StoppingParameters: shard.StoppingCriteriaParameters{MaxNewTokens: 8, IgnoreEOSToken: true}},
		},
	}

	prefill, err := client.Prefill(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, prefill.Generations)
	require.NotNil(t, prefill.Batch)
	assert.Equal(t, uint64(1), prefill.Batch.ID)
	assert.Equal(t, uint32(2), prefill.Batch.Size)

	decode, err := client.Decode(context.Background(), []shard.CachedBatch{*prefill.Batch})
	require.NoError(t, err)
	assert.Equal(t, 2, decode.Generations)
	require.NotNil(t, decode.Batch)
	assert.Equal(t, uint64(1), decode.Batch.ID)

	// Both shards must have served every step.
	assert.Equal(t, 2, cluster.PrefillCalls())
	assert.Equal(t, 2, cluster.DecodeCalls())
}

func TestInfo(t *testing.T) {
	cluster := shardtest.StartCluster(t, 1)

	client, err := shard.Connect(context.Background(), cluster.MasterPath())
	require.NoError(t, err)
	defer client.Close()

	info, err := client.Info(context.Background())
	require.NoError(t, err)
	assert.True(t, info.RequiresPadding)
	assert.Equal(t, "float16", info.Dtype)
	assert.Equal(t, "cuda", info.DeviceType)
}
