package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tgbench",
		Short:         "Latency benchmark for text-generation shards",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set. Every flag
// falls back to an environment variable of the same name, uppercased with
// dashes replaced by underscores.
func configureFlags(flags *pflag.FlagSet) {
	// Benchmark plan flags
	flags.StringP("tokenizer-name", "t", "", "Tokenizer to load: a local directory or a hub model id")
	flags.String("revision", "main", "Hub revision to fetch the tokenizer from")
	flags.StringSliceP("batch-size", "b", nil, "Batch sizes to sweep (repeatable or comma separated)")
	flags.IntP("sequence-length", "s", 10, "Prompt length in tokens for the prefill step")
	flags.IntP("decode-length", "d", 8, "Number of tokens generated and measured per run")
	flags.IntP("runs", "r", 10, "Measured iterations per batch size")
	flags.IntP("warmups", "w", 1, "Discarded warmup iterations per batch size")

	// Backend flags. The benchmark bypasses the router and talks to the
	// shard processes directly over their unix sockets.
	flags.StringP("master-shard-uds-path", "m", DefaultMasterShardPath, "Master shard control socket path")

	// Generation parameter flags, all optional; unset means backend default.
	flags.Float64("temperature", 0, "Sampling temperature")
	flags.Int("top-k", 0, "Top-k sampling cutoff")
	flags.Float64("top-p", 0, "Nucleus sampling probability mass")
	flags.Float64("typical-p", 0, "Typical decoding probability mass")
	flags.Float64("repetition-penalty", 0, "Repetition penalty")
	flags.Bool("watermark", false, "Enable watermarked generation")
	flags.Bool("do-sample", false, "Sample instead of greedy decoding")
	flags.Int("min-new-tokens", 0, "Minimum number of generated tokens")

	// Output flags
	flags.Bool("json-output", false, "Emit the report as JSON instead of a table")
	flags.String("otlp-endpoint", "", "OTLP endpoint for trace export (empty disables tracing)")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}
