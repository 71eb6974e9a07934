// Package artifact fetches frozen model weights from local disk or S3.
//
// A weights URI is a filesystem path, a file:// URI, or s3://bucket/key.
// A trailing ".sz" marks a snappy block-compressed artifact; the extension
// before it (.json, .yaml, .yml) selects the serialization.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/golang/snappy"

	"github.com/vajraai/vajra/internal/circuitbreaker"
	"github.com/vajraai/vajra/internal/logging"
	"github.com/vajraai/vajra/internal/model"
	"github.com/vajraai/vajra/internal/retry"
	"github.com/vajraai/vajra/internal/traces"
)

// ErrNotFound is returned when the artifact does not exist.
var ErrNotFound = errors.New("artifact: not found")

const snappySuffix = ".sz"

// S3Config locates the object store.
type S3Config struct {
	Region          string
	Endpoint        string // S3-compatible endpoint; enables path-style addressing
	AccessKeyID     string // optional static credentials
	SecretAccessKey string
}

// ObjectGetter is the subset of the S3 client the fetcher uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Fetcher reads artifacts by URI.
type Fetcher struct {
	cfg         S3Config
	maxAttempts int
	baseDelay   time.Duration
	breaker     *circuitbreaker.Breaker

	once   sync.Once
	client ObjectGetter
	err    error
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithS3Client injects an S3 client instead of building one from S3Config.
func WithS3Client(c ObjectGetter) Option {
	return func(f *Fetcher) {
		f.once.Do(func() { f.client = c })
	}
}

// WithRetry sets the S3 retry policy.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(f *Fetcher) {
		f.maxAttempts = maxAttempts
		f.baseDelay = baseDelay
	}
}

// NewFetcher creates a fetcher. The S3 client is built on first use.
func NewFetcher(cfg S3Config, opts ...Option) *Fetcher {
	f := &Fetcher{
		cfg:         cfg,
		maxAttempts: 4,
		baseDelay:   200 * time.Millisecond,
		breaker:     circuitbreaker.New(3, 30*time.Second),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the decoded artifact bytes at uri.
func (f *Fetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	ctx, span := traces.StartSpan(ctx, "artifact.Fetch", traces.WeightsSource(scheme(uri)))
	defer span.End()

	data, err := f.fetchRaw(ctx, uri)
	if err != nil {
		traces.Fail(span, err)
		return nil, err
	}
	if strings.HasSuffix(uri, snappySuffix) {
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", uri, err)
		}
		data = decoded
	}
	return data, nil
}

func (f *Fetcher) fetchRaw(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		bucket, key, err := ParseS3URI(uri)
		if err != nil {
			return nil, err
		}
		return f.fetchS3(ctx, bucket, key)
	case strings.HasPrefix(uri, "file://"):
		u, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", uri, err)
		}
		return readFile(u.Path)
	case strings.Contains(uri, "://"):
		return nil, fmt.Errorf("unsupported artifact scheme in %q", uri)
	default:
		return readFile(uri)
	}
}

func readFile(p string) ([]byte, error) {
	data, err := os.ReadFile(p) // #nosec G304 -- operator-supplied weights path
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return data, nil
}

func (f *Fetcher) s3Client(ctx context.Context) (ObjectGetter, error) {
	f.once.Do(func() {
		opts := []func(*config.LoadOptions) error{config.WithRegion(f.cfg.Region)}
		if f.cfg.AccessKeyID != "" && f.cfg.SecretAccessKey != "" {
			opts = append(opts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(f.cfg.AccessKeyID, f.cfg.SecretAccessKey, ""),
			))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			f.err = fmt.Errorf("load AWS config: %w", err)
			return
		}
		var s3Opts []func(*s3.Options)
		if f.cfg.Endpoint != "" {
			s3Opts = append(s3Opts, func(o *s3.Options) {
				o.BaseEndpoint = aws.String(f.cfg.Endpoint)
				o.UsePathStyle = true
			})
		}
		f.client = s3.NewFromConfig(awsCfg, s3Opts...)
	})
	return f.client, f.err
}

func (f *Fetcher) fetchS3(ctx context.Context, bucket, key string) ([]byte, error) {
	client, err := f.s3Client(ctx)
	if err != nil {
		return nil, err
	}

	var data []byte
	attempt := 0
	err = retry.Do(ctx, f.maxAttempts, f.baseDelay, func() error {
		attempt++
		err := f.breaker.Execute("s3", func() error {
			resp, err := client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()
			data, err = io.ReadAll(resp.Body)
			return err
		})
		var noKey *s3types.NoSuchKey
		switch {
		case err == nil:
			return nil
		case errors.As(err, &noKey):
			return retry.Permanent(fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrNotFound))
		case errors.Is(err, circuitbreaker.ErrOpen):
			return retry.Permanent(err)
		}
		logging.L(ctx).Warn("artifact fetch failed", "bucket", bucket, "key", key, "attempt", attempt, "error", err)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri needs a bucket and a key: %q", uri)
	}
	return bucket, key, nil
}

// FormatFromPath infers the weights serialization from a path or URI,
// ignoring a trailing ".sz".
func FormatFromPath(p string) (model.Format, error) {
	p = strings.TrimSuffix(p, snappySuffix)
	switch strings.ToLower(path.Ext(p)) {
	case ".json":
		return model.FormatJSON, nil
	case ".yaml", ".yml":
		return model.FormatYAML, nil
	default:
		return "", fmt.Errorf("cannot infer weights format from %q", p)
	}
}

// LoadWeights fetches and decodes the weights at uri.
func (f *Fetcher) LoadWeights(ctx context.Context, uri string) (*model.Weights, error) {
	format, err := FormatFromPath(uri)
	if err != nil {
		return nil, err
	}
	data, err := f.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	w, err := model.DecodeWeights(data, format)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", uri, err)
	}
	return w, nil
}

// LoadModel builds the scoring model. With an empty uri the weights are
// generated from seed; the returned source names where they came from.
func LoadModel(ctx context.Context, f *Fetcher, uri string, seed uint64) (*model.TransformerAutoencoder, string, error) {
	cfg := model.DefaultConfig()
	var (
		w      *model.Weights
		source string
	)
	if uri == "" {
		w, source = model.InitWeights(cfg, seed), fmt.Sprintf("seed:%d", seed)
	} else {
		var err error
		if w, err = f.LoadWeights(ctx, uri); err != nil {
			return nil, "", err
		}
		source = scheme(uri)
	}
	m, err := model.NewTransformerAutoencoder(cfg, w)
	if err != nil {
		return nil, "", err
	}
	return m, source, nil
}

func scheme(uri string) string {
	if s, _, ok := strings.Cut(uri, "://"); ok {
		return s
	}
	return "file"
}
