package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader resolves command-line arguments with environment fallback into a
// Config.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments into a Config. Any flag left unset on
// the command line falls back to the environment variable of the same
// logical name (TOKENIZER_NAME, SEQUENCE_LENGTH, ...), then to its default.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	fs := cmd.Flags()
	if helpFlag := fs.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	cfg := &Config{
		TokenizerName:      strings.TrimSpace(v.GetString("tokenizer-name")),
		Revision:           strings.TrimSpace(v.GetString("revision")),
		SequenceLength:     v.GetInt("sequence-length"),
		DecodeLength:       v.GetInt("decode-length"),
		Runs:               v.GetInt("runs"),
		Warmups:            v.GetInt("warmups"),
		MasterShardUDSPath: strings.TrimSpace(v.GetString("master-shard-uds-path")),
		JSONOutput:         v.GetBool("json-output"),
		OTLPEndpoint:       strings.TrimSpace(v.GetString("otlp-endpoint")),
	}

	sizes, set, err := resolveBatchSizes(fs)
	if err != nil {
		return nil, err
	}
	cfg.batchSizesSet = set
	if set {
		cfg.BatchSizes = sizes
	} else {
		cfg.BatchSizes = append([]int(nil), DefaultBatchSizes...)
	}

	cfg.Generation = resolveGeneration(fs, v)

	return cfg, nil
}

// resolveBatchSizes reads the batch-size sweep from the flag set or the
// BATCH_SIZE environment variable. The second return value reports whether
// the user supplied the list at all; an explicit empty list is preserved as
// empty so validation can reject it instead of substituting the default.
func resolveBatchSizes(fs *pflag.FlagSet) ([]int, bool, error) {
	var entries []string
	switch {
	case fs.Changed("batch-size"):
		vals, err := fs.GetStringSlice("batch-size")
		if err != nil {
			return nil, false, err
		}
		entries = vals
	default:
		raw, ok := os.LookupEnv("BATCH_SIZE")
		if !ok {
			return nil, false, nil
		}
		entries = strings.Split(raw, ",")
	}

	sizes := make([]int, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		size, err := strconv.Atoi(entry)
		if err != nil {
			return nil, true, fmt.Errorf("batch-size: invalid value %q", entry)
		}
		sizes = append(sizes, size)
	}
	return sizes, true, nil
}

// resolveGeneration builds the optional generation parameter block. A field
// is only set when its flag was changed or its environment variable exists,
// so the shards keep their own defaults otherwise.
func resolveGeneration(fs *pflag.FlagSet, v *viper.Viper) GenerationConfig {
	gen := GenerationConfig{
		Watermark: v.GetBool("watermark"),
		DoSample:  v.GetBool("do-sample"),
	}
	if provided(fs, "temperature") {
		val := v.GetFloat64("temperature")
		gen.Temperature = &val
	}
	if provided(fs, "top-k") {
		val := v.GetInt("top-k")
		gen.TopK = &val
	}
	if provided(fs, "top-p") {
		val := v.GetFloat64("top-p")
		gen.TopP = &val
	}
	if provided(fs, "typical-p") {
		val := v.GetFloat64("typical-p")
		gen.TypicalP = &val
	}
	if provided(fs, "repetition-penalty") {
		val := v.GetFloat64("repetition-penalty")
		gen.RepetitionPenalty = &val
	}
	if provided(fs, "min-new-tokens") {
		val := v.GetInt("min-new-tokens")
		gen.MinNewTokens = &val
	}
	return gen
}

// provided reports whether the user supplied a value for the named flag,
// either on the command line or through its environment variable.
func provided(fs *pflag.FlagSet, name string) bool {
	if fs.Changed(name) {
		return true
	}
	_, ok := os.LookupEnv(envKey(name))
	return ok
}

// envKey maps a flag name to its environment variable name.
func envKey(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
