package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/tgbench/tgbench/internal/benchmark"
	"github.com/tgbench/tgbench/internal/metrics"
)

func sampleReport() *benchmark.Report {
	prefill := metrics.NewRecorder()
	prefill.Record(120 * time.Millisecond)
	decode := metrics.NewRecorder()
	decode.Record(15 * time.Millisecond)

	batch := benchmark.BatchReport{
		BatchSize:           4,
		Prefill:             prefill.Stats(),
		Decode:              decode.Stats(),
		PrefillTokensPerSec: 33.33,
		DecodeTokensPerSec:  266.67,
	}
	return &benchmark.Report{
		Tokenizer:      "bigscience/bloom-560m",
		Revision:       "main",
		Shards:         2,
		SequenceLength: 10,
		DecodeLength:   8,
		Runs:           5,
		Batches:        []benchmark.BatchReport{batch},
	}
}

func TestPrintReportBasic(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport())

	output := buf.String()
	for _, want := range []string{
		"bigscience/bloom-560m",
		"Shards:            2",
		"Batch Size 4:",
		"Prefill (33.33 tokens/sec):",
		"Decode (266.67 tokens/sec):",
		"P99:",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output, got:\n%s", want, output)
		}
	}
}

func TestPrintReportSkipsEmptyDecode(t *testing.T) {
	report := sampleReport()
	report.Batches[0].Decode = metrics.NewRecorder().Stats()

	var buf bytes.Buffer
	PrintReport(&buf, report)

	if strings.Contains(buf.String(), "Decode (") {
		t.Errorf("Expected no decode section for empty stats, got:\n%s", buf.String())
	}
}

func TestPrintJSONReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, sampleReport()); err != nil {
		t.Fatalf("PrintJSONReport failed: %v", err)
	}

	output := buf.String()
	for _, want := range []string{
		`"tokenizer"`,
		`"batch_size": 4`,
		`"prefill_tokens_per_sec"`,
		`"p99_ms"`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %s in JSON output, got:\n%s", want, output)
		}
	}
}
