package config

import (
	"fmt"
	"strings"
)

// DefaultBatchSizes is the sweep used when no batch sizes are supplied.
// The progression is meant to walk the server from memory bound (BS=1)
// towards compute bound, where decode latency starts to climb.
var DefaultBatchSizes = []int{1, 2, 4, 8, 16, 32}

// DefaultMasterShardPath is the well-known master control socket written
// by the first shard of a text-generation server.
const DefaultMasterShardPath = "/tmp/text-generation-server-0"

// Config is the fully resolved benchmark plan. It is built once by the
// Loader and never mutated afterwards.
type Config struct {
	TokenizerName      string           `mapstructure:"tokenizer_name"`
	Revision           string           `mapstructure:"revision"`
	BatchSizes         []int            `mapstructure:"batch_size"`
	SequenceLength     int              `mapstructure:"sequence_length"`
	DecodeLength       int              `mapstructure:"decode_length"`
	Runs               int              `mapstructure:"runs"`
	Warmups            int              `mapstructure:"warmups"`
	MasterShardUDSPath string           `mapstructure:"master_shard_uds_path"`
	JSONOutput         bool             `mapstructure:"json_output"`
	OTLPEndpoint       string           `mapstructure:"otlp_endpoint"`
	Generation         GenerationConfig `mapstructure:"generation"`

	// batchSizesSet records whether batch sizes were supplied explicitly.
	// An explicit empty list is a validation error, not the default sweep.
	batchSizesSet bool
}

// GenerationConfig carries optional decoding parameters forwarded verbatim
// to the shards. A nil field means "use the backend default".
type GenerationConfig struct {
	Temperature       *float64 `mapstructure:"temperature"`
	TopK              *int     `mapstructure:"top_k"`
	TopP              *float64 `mapstructure:"top_p"`
	TypicalP          *float64 `mapstructure:"typical_p"`
	RepetitionPenalty *float64 `mapstructure:"repetition_penalty"`
	Watermark         bool     `mapstructure:"watermark"`
	DoSample          bool     `mapstructure:"do_sample"`
	MinNewTokens      *int     `mapstructure:"min_new_tokens"`
}

// ValidationError aggregates every configuration problem found in a single
// pass so users can fix them all at once.
type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the invariants the benchmark loop depends on. It has no
// side effects and performs no I/O.
func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.TokenizerName) == "" {
		issues = append(issues, "tokenizer-name is required")
	}
	if c.batchSizesSet && len(c.BatchSizes) == 0 {
		issues = append(issues, "batch-size was supplied but is empty")
	}
	for idx, bs := range c.BatchSizes {
		if bs < 1 {
			issues = append(issues, fmt.Sprintf("batch-size[%d] must be >= 1, got %d", idx, bs))
		}
	}
	if c.SequenceLength < 1 {
		issues = append(issues, "sequence-length must be >= 1")
	}
	if c.DecodeLength < 1 {
		issues = append(issues, "decode-length must be >= 1")
	}
	if c.Runs < 1 {
		issues = append(issues, "runs must be >= 1")
	}
	if c.Warmups < 0 {
		issues = append(issues, "warmups must be >= 0")
	}
	if strings.TrimSpace(c.MasterShardUDSPath) == "" {
		issues = append(issues, "master-shard-uds-path is required")
	}

	issues = append(issues, validateGeneration(c.Generation)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateGeneration(g GenerationConfig) []string {
	var issues []string
	if g.Temperature != nil && *g.Temperature <= 0 {
		issues = append(issues, "temperature must be > 0")
	}
	if g.TopK != nil && *g.TopK < 1 {
		issues = append(issues, "top-k must be >= 1")
	}
	if g.TopP != nil && (*g.TopP <= 0 || *g.TopP > 1) {
		issues = append(issues, "top-p must be in (0, 1]")
	}
	if g.TypicalP != nil && (*g.TypicalP <= 0 || *g.TypicalP > 1) {
		issues = append(issues, "typical-p must be in (0, 1]")
	}
	if g.RepetitionPenalty != nil && *g.RepetitionPenalty <= 0 {
		issues = append(issues, "repetition-penalty must be > 0")
	}
	if g.MinNewTokens != nil && *g.MinNewTokens < 1 {
		issues = append(issues, "min-new-tokens must be >= 1")
	}
	return issues
}
