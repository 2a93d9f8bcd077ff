package shard

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ShardedClient is one logical connection fanned out over every shard
// behind a master control socket. It is owned by the bootstrap and must not
// be used from more than one goroutine at a time; the fan-out inside each
// call is the only concurrency it performs.
type ShardedClient struct {
	clients []*Client
}

// Connect dials the master control socket, discovers the participating
// shards and attaches to all of them. Attachment is all-or-nothing: if any
// shard cannot be reached or fails its readiness probe, every connection is
// torn down and the whole operation fails.
func Connect(ctx context.Context, masterPath string) (*ShardedClient, error) {
	master, err := Dial(masterPath)
	if err != nil {
		return nil, &ConnectionError{Kind: Unreachable, Addr: masterPath, Err: err}
	}
	defer func() { _ = master.Close() }()

	urls, err := master.ServiceDiscovery(ctx)
	if err != nil {
		return nil, &ConnectionError{Kind: Unreachable, Addr: masterPath, Err: err}
	}
	if len(urls) == 0 {
		urls = []string{masterPath}
	}
	logrus.Debugf("discovered %d shard(s) behind %s", len(urls), masterPath)

	clients := make([]*Client, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	for i, url := range urls {
		g.Go(func() error {
			client, err := Dial(url)
			if err != nil {
				return &ConnectionError{Kind: Unreachable, Addr: url, Err: err}
			}
			if err := client.Health(gctx); err != nil {
				_ = client.Close()
				return &ConnectionError{Kind: HandshakeFailed, Addr: url, Err: err}
			}
			clients[i] = client
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, client := range clients {
			if client != nil {
				_ = client.Close()
			}
		}
		return nil, err
	}
	return &ShardedClient{clients: clients}, nil
}

// Len returns the number of attached shards.
func (s *ShardedClient) Len() int { return len(s.clients) }

// Close tears down every shard connection.
func (s *ShardedClient) Close() error {
	var firstErr error
	for _, client := range s.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ClearCache broadcasts a cache clear to every shard and waits until all of
// them acknowledged. A single missing acknowledgment fails the whole call;
// there is no partial-success mode, because a shard with stale state would
// corrupt the measurements.
func (s *ShardedClient) ClearCache(ctx context.Context, batchID *uint64) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, client := range s.clients {
		g.Go(func() error {
			if err := client.ClearCache(gctx, batchID); err != nil {
				return &ConnectionError{Kind: ResetFailed, Addr: client.Addr(), Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

// Info returns the model metadata reported by the first shard; all shards
// serve the same model.
func (s *ShardedClient) Info(ctx context.Context) (Info, error) {
	return s.clients[0].Info(ctx)
}

// Prefill broadcasts the batch to every shard and returns the first shard's
// result once all of them finished the step.
func (s *ShardedClient) Prefill(ctx context.Context, batch Batch) (GenerateResult, error) {
	results := make([]GenerateResult, len(s.clients))
	g, gctx := errgroup.WithContext(ctx)
	for i, client := range s.clients {
		g.Go(func() error {
			result, err := client.Prefill(gctx, batch)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return GenerateResult{}, err
	}
	return results[0], nil
}

// Decode broadcasts a decode step to every shard and returns the first
// shard's result once all of them finished.
func (s *ShardedClient) Decode(ctx context.Context, batches []CachedBatch) (GenerateResult, error) {
	results := make([]GenerateResult, len(s.clients))
	g, gctx := errgroup.WithContext(ctx)
	for i, client := range s.clients {
		g.Go(func() error {
			result, err := client.Decode(gctx, batches)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return GenerateResult{}, err
	}
	return results[0], nil
}
