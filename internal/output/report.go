package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tgbench/tgbench/internal/benchmark"
	"github.com/tgbench/tgbench/internal/metrics"
)

// PrintReport outputs a human-readable summary of a benchmark sweep.
func PrintReport(w io.Writer, report *benchmark.Report) {
	fmt.Fprintln(w, "\n--- Text Generation Benchmark ---")
	fmt.Fprintf(w, "Tokenizer:         %s\n", report.Tokenizer)
	if report.Revision != "" {
		fmt.Fprintf(w, "Revision:          %s\n", report.Revision)
	}
	fmt.Fprintf(w, "Shards:            %d\n", report.Shards)
	fmt.Fprintf(w, "Sequence Length:   %d\n", report.SequenceLength)
	fmt.Fprintf(w, "Decode Length:     %d\n", report.DecodeLength)
	fmt.Fprintf(w, "Runs:              %d\n", report.Runs)

	for _, batch := range report.Batches {
		fmt.Fprintf(w, "\nBatch Size %d:\n", batch.BatchSize)
		fmt.Fprintf(w, "  Prefill (%.2f tokens/sec):\n", batch.PrefillTokensPerSec)
		writeLatency(w, batch.Prefill)
		if batch.Decode.Count > 0 {
			fmt.Fprintf(w, "  Decode (%.2f tokens/sec):\n", batch.DecodeTokensPerSec)
			writeLatency(w, batch.Decode)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, report *benchmark.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func writeLatency(w io.Writer, stats metrics.Stats) {
	fmt.Fprintf(w, "    Min:           %s\n", stats.Min)
	fmt.Fprintf(w, "    Max:           %s\n", stats.Max)
	fmt.Fprintf(w, "    Mean:          %s\n", stats.Mean)
	fmt.Fprintf(w, "    P50:           %s\n", stats.P50)
	fmt.Fprintf(w, "    P90:           %s\n", stats.P90)
	fmt.Fprintf(w, "    P99:           %s\n", stats.P99)
}
