// Command score runs the detection pipeline over a JSON file without the
// HTTP service.
//
// Usage:
//
//	go run ./cmd/score batch.json                 # score a file
//	cat batch.json | go run ./cmd/score           # score stdin
//	go run ./cmd/score -weights s3://models/w.json.sz -flagged batch.json
//
// The input is the same JSON array POST /detect accepts. Reports go to
// stdout; logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vajraai/vajra/internal/artifact"
	"github.com/vajraai/vajra/internal/config"
	"github.com/vajraai/vajra/internal/features"
	"github.com/vajraai/vajra/internal/logging"
	"github.com/vajraai/vajra/internal/risk"
	"github.com/vajraai/vajra/internal/validation"
)

type options struct {
	weights string
	seed    uint64
	flagged bool
	pretty  bool
	region  string
	s3      string
}

func main() {
	opts := options{}
	flag.StringVar(&opts.weights, "weights", os.Getenv("MODEL_WEIGHTS_URI"), "weights path, file:// or s3:// URI (seeded weights if empty)")
	flag.Uint64Var(&opts.seed, "seed", config.DefaultModelSeed, "seed for generated weights")
	flag.BoolVar(&opts.flagged, "flagged", false, "only print MEDIUM and HIGH reports")
	flag.BoolVar(&opts.pretty, "pretty", false, "indent the JSON output")
	flag.StringVar(&opts.region, "region", envOr("AWS_REGION", config.DefaultAWSRegion), "AWS region for s3:// weights")
	flag.StringVar(&opts.s3, "s3-endpoint", os.Getenv("S3_ENDPOINT"), "S3-compatible endpoint")
	flag.Parse()

	logger := logging.NewWithWriter(os.Stderr, envOr("LOG_LEVEL", "warn"), "text")
	ctx := logging.WithLogger(context.Background(), logger)

	in := io.Reader(os.Stdin)
	if path := flag.Arg(0); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			logger.Error("failed to open input", "error", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	if err := run(ctx, opts, in, os.Stdout); err != nil {
		logger.Error("scoring failed", "error", err)
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			for _, v := range verrs {
				fmt.Fprintf(os.Stderr, "  %s: %s\n", v.Field, v.Message)
			}
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	var inputs []features.Input
	if err := json.NewDecoder(in).Decode(&inputs); err != nil {
		return fmt.Errorf("input must be a JSON array of transactions: %w", err)
	}
	records, err := features.ParseInputs(inputs)
	if err != nil {
		return err
	}

	fetcher := artifact.NewFetcher(artifact.S3Config{
		Region:          opts.region,
		Endpoint:        opts.s3,
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	})
	m, source, err := artifact.LoadModel(ctx, fetcher, opts.weights, opts.seed)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	logging.L(ctx).Info("model loaded", "source", source, "transactions", len(records))

	reports, err := risk.NewEngine(m).Detect(ctx, records)
	if err != nil {
		return err
	}
	if opts.flagged {
		kept := reports[:0]
		for _, r := range reports {
			if r.RiskLevel != risk.LevelLow {
				kept = append(kept, r)
			}
		}
		reports = kept
	}

	enc := json.NewEncoder(out)
	if opts.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(reports)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
