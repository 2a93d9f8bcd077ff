package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/protoadapt"
)

// NextTokenChooserParameters selects how the shard picks each generated
// token. Zero values mean the backend-neutral defaults set by the caller.
type NextTokenChooserParameters struct {
	Temperature       float64 `json:"temperature,omitempty"`
	TopK              uint32  `json:"topK,omitempty"`
	TopP              float64 `json:"topP,omitempty"`
	TypicalP          float64 `json:"typicalP,omitempty"`
	DoSample          bool    `json:"doSample,omitempty"`
	Seed              uint64  `json:"seed,omitempty"`
	RepetitionPenalty float64 `json:"repetitionPenalty,omitempty"`
	Watermark         bool    `json:"watermark,omitempty"`
}

// StoppingCriteriaParameters bounds how many tokens a request generates.
type StoppingCriteriaParameters struct {
	MaxNewTokens   uint32   `json:"maxNewTokens,omitempty"`
	StopSequences  []string `json:"stopSequences,omitempty"`
	IgnoreEOSToken bool     `json:"ignoreEosToken,omitempty"`
	MinNewTokens   uint32   `json:"minNewTokens,omitempty"`
}

// Request is one sequence inside a prefill batch.
type Request struct {
	ID                 uint64                     `json:"id"`
	Inputs             string                     `json:"inputs"`
	Truncate           uint32                     `json:"truncate,omitempty"`
	Parameters         NextTokenChooserParameters `json:"parameters"`
	StoppingParameters StoppingCriteriaParameters `json:"stoppingParameters"`
}

// Batch is a new batch submitted to Prefill.
type Batch struct {
	ID       uint64    `json:"id"`
	Requests []Request `json:"requests,omitempty"`
	Size     uint32    `json:"size,omitempty"`
}

// CachedBatch identifies a batch the shards keep generation state for.
type CachedBatch struct {
	ID   uint64
	Size uint32
}

// Info describes the model a shard serves.
type Info struct {
	RequiresPadding bool
	Dtype           string
	DeviceType      string
}

// GenerateResult is the outcome of a Prefill or Decode step.
type GenerateResult struct {
	// Generations is the number of sequences that produced a token.
	Generations int
	// Batch is the server-side cached batch to feed into the next Decode,
	// nil when every sequence finished.
	Batch *CachedBatch
}

// Client talks to a single shard over its unix socket.
type Client struct {
	addr string
	conn *grpc.ClientConn
}

// Dial opens a lazy connection to one shard. Bare filesystem paths are
// dialed as unix sockets. Reachability is only verified by the first RPC.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(normalizeTarget(addr),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}
	return &Client{addr: addr, conn: conn}, nil
}

// normalizeTarget maps discovery urls and socket paths to gRPC targets.
func normalizeTarget(addr string) string {
	if strings.HasPrefix(addr, "unix://") {
		return addr
	}
	if strings.HasPrefix(addr, "/") {
		return "unix://" + addr
	}
	return addr
}

// Addr returns the address the client was dialed with.
func (c *Client) Addr() string { return c.addr }

// Close tears down the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Health probes shard readiness.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.invoke(ctx, "Health", nil)
	return err
}

// Info fetches the model metadata of the shard.
func (c *Client) Info(ctx context.Context) (Info, error) {
	resp, err := c.invoke(ctx, "Info", nil)
	if err != nil {
		return Info{}, err
	}
	return Info{
		RequiresPadding: fieldBool(resp, "requires_padding"),
		Dtype:           fieldString(resp, "dtype"),
		DeviceType:      fieldString(resp, "device_type"),
	}, nil
}

// ServiceDiscovery returns the socket urls of every shard behind this one.
func (c *Client) ServiceDiscovery(ctx context.Context) ([]string, error) {
	resp, err := c.invoke(ctx, "ServiceDiscovery", nil)
	if err != nil {
		return nil, err
	}
	raw, ok := resp.GetFieldByName("urls").([]interface{})
	if !ok {
		return nil, nil
	}
	urls := make([]string, 0, len(raw))
	for _, entry := range raw {
		if url, ok := entry.(string); ok {
			urls = append(urls, url)
		}
	}
	return urls, nil
}

// ClearCache discards the shard's cached generation state. A nil id clears
// everything; otherwise only the named batch is dropped.
func (c *Client) ClearCache(ctx context.Context, batchID *uint64) error {
	payload := map[string]interface{}{}
	if batchID != nil {
		payload["id"] = *batchID
	}
	_, err := c.invoke(ctx, "ClearCache", payload)
	return err
}

// Prefill submits a new batch and runs the prefill step over it.
func (c *Client) Prefill(ctx context.Context, batch Batch) (GenerateResult, error) {
	resp, err := c.invoke(ctx, "Prefill", map[string]interface{}{"batch": batch})
	if err != nil {
		return GenerateResult{}, err
	}
	return generateResult(resp)
}

// Decode generates one token for every sequence in the given cached batches.
func (c *Client) Decode(ctx context.Context, batches []CachedBatch) (GenerateResult, error) {
	wire := make([]map[string]interface{}, 0, len(batches))
	for _, b := range batches {
		wire = append(wire, map[string]interface{}{"id": b.ID, "size": b.Size})
	}
	resp, err := c.invoke(ctx, "Decode", map[string]interface{}{"batches": wire})
	if err != nil {
		return GenerateResult{}, err
	}
	return generateResult(resp)
}

// invoke performs a unary RPC using a dynamic message built from payload.
func (c *Client) invoke(ctx context.Context, method string, payload interface{}) (*dynamic.Message, error) {
	md, err := methodDescriptor(method)
	if err != nil {
		return nil, err
	}

	req := dynamic.NewMessage(md.GetInputType())
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%s request payload: %w", method, err)
		}
		if err := req.UnmarshalJSON(body); err != nil {
			return nil, fmt.Errorf("%s request payload: %w", method, err)
		}
	}
	resp := dynamic.NewMessage(md.GetOutputType())

	fullMethod := fmt.Sprintf("/%s/%s", ServiceName, method)
	err = c.conn.Invoke(ctx, fullMethod,
		protoadapt.MessageV2Of(req), protoadapt.MessageV2Of(resp))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func generateResult(resp *dynamic.Message) (GenerateResult, error) {
	result := GenerateResult{}
	if raw, ok := resp.GetFieldByName("generations").([]interface{}); ok {
		result.Generations = len(raw)
	}
	if nested, ok := resp.GetFieldByName("batch").(*dynamic.Message); ok && nested != nil {
		result.Batch = &CachedBatch{
			ID:   fieldUint64(nested, "id"),
			Size: fieldUint32(nested, "size"),
		}
	}
	return result, nil
}

func fieldBool(m *dynamic.Message, name string) bool {
	v, _ := m.GetFieldByName(name).(bool)
	return v
}

func fieldString(m *dynamic.Message, name string) string {
	v, _ := m.GetFieldByName(name).(string)
	return v
}

func fieldUint64(m *dynamic.Message, name string) uint64 {
	v, _ := m.GetFieldByName(name).(uint64)
	return v
}

func fieldUint32(m *dynamic.Message, name string) uint32 {
	v, _ := m.GetFieldByName(name).(uint32)
	return v
}
