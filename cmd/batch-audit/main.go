// Package main provides batch-audit, an offline CLI that runs the full
// derivation and quality pass over a CSV extract without any infrastructure.
// It is the tool analysts reach for when a batch looks wrong in production.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/patientpath/journey-engine/internal/domain/journey"
	"github.com/patientpath/journey-engine/internal/ingest"
	"github.com/patientpath/journey-engine/internal/pipeline"
	"github.com/patientpath/journey-engine/internal/validation"
)

func main() {
	input := flag.String("input", "", "path to journey records CSV (required)")
	referenceDate := flag.String("reference-date", "", "abandonment window anchor, YYYY-MM-DD (default: today UTC)")
	asOf := flag.String("as-of", "", "freshness and future-date anchor, RFC3339 (default: now UTC)")
	priorCount := flag.Int("prior-count", 0, "row count of the prior batch, for the volume delta")
	maturityDays := flag.Int("maturity-days", 0, "abandonment window override in days (default: 30)")
	payersFile := flag.String("payers", "", "payer dimension file, one id per line")
	productsFile := flag.String("products", "", "product dimension file, one id per line")
	providersFile := flag.String("providers", "", "provider dimension file, one id per line")
	workers := flag.Int("workers", 8, "derivation worker count")
	pretty := flag.Bool("pretty", false, "indent JSON output")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: batch-audit -input records.csv [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger := zap.NewNop()

	opts, err := buildOptions(*referenceDate, *asOf)
	if err != nil {
		fatal(err)
	}
	opts.MaturityDays = *maturityDays

	reader, err := ingest.NewCSVReader(*input)
	if err != nil {
		fatal(err)
	}
	records, err := reader.ReadAll()
	reader.Close()
	if err != nil {
		fatal(err)
	}

	dims := validation.DimensionSets{
		Payers:    loadDimension(*payersFile),
		Products:  loadDimension(*productsFile),
		Providers: loadDimension(*providersFile),
	}

	runner := pipeline.NewRunner(pipeline.Config{Workers: *workers}, logger, nil)
	result, err := runner.Run(context.Background(), records, dims, opts, *priorCount)
	if err != nil {
		fatal(err)
	}

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(result); err != nil {
		fatal(err)
	}

	for _, alert := range result.Alerts {
		fmt.Fprintf(os.Stderr, "ALERT %s: %.2f breaches %.2f\n", alert.Metric, alert.Observed, alert.Threshold)
	}
}

func buildOptions(referenceDate, asOf string) (journey.Options, error) {
	now := time.Now().UTC()

	opts := journey.Options{AsOf: now}
	if asOf != "" {
		t, err := time.Parse(time.RFC3339, asOf)
		if err != nil {
			return opts, fmt.Errorf("invalid -as-of %q: %w", asOf, err)
		}
		opts.AsOf = t.UTC()
	}

	opts.ReferenceDate = opts.AsOf.Truncate(24 * time.Hour)
	if referenceDate != "" {
		t, err := time.Parse("2006-01-02", referenceDate)
		if err != nil {
			return opts, fmt.Errorf("invalid -reference-date %q: %w", referenceDate, err)
		}
		opts.ReferenceDate = t
	}
	return opts, nil
}

// loadDimension reads a dimension file, or returns an unavailable set when no
// path was given so the referential checks come back inconclusive rather than
// failing every row.
func loadDimension(path string) validation.KeySet {
	if path == "" {
		return validation.UnavailableKeySet()
	}
	ids, err := ingest.ReadDimensionFile(path)
	if err != nil {
		fatal(err)
	}
	return validation.NewKeySet(ids...)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "batch-audit:", err)
	os.Exit(1)
}
