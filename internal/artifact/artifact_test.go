package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vajraai/vajra/internal/model"
)

type fakeS3 struct {
	objects map[string][]byte
	fails   int // transient failures before succeeding
	calls   int
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("connection reset by peer")
	}
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func testWeights(t *testing.T, format model.Format) []byte {
	t.Helper()
	data, err := model.EncodeWeights(model.InitWeights(model.DefaultConfig(), 7), format)
	require.NoError(t, err)
	return data
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func TestFetch_LocalPathAndFileURI(t *testing.T) {
	p := writeFile(t, "weights.json", []byte(`{"ok":true}`))
	f := NewFetcher(S3Config{})

	data, err := f.Fetch(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	data, err = f.Fetch(context.Background(), "file://"+p)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))
}

func TestFetch_Snappy(t *testing.T) {
	raw := testWeights(t, model.FormatJSON)
	p := writeFile(t, "weights.json.sz", snappy.Encode(nil, raw))

	data, err := NewFetcher(S3Config{}).Fetch(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, raw, data)
}

func TestFetch_CorruptSnappy(t *testing.T) {
	p := writeFile(t, "weights.json.sz", []byte("definitely not snappy"))
	_, err := NewFetcher(S3Config{}).Fetch(context.Background(), p)
	assert.Error(t, err)
}

func TestFetch_MissingFile(t *testing.T) {
	_, err := NewFetcher(S3Config{}).Fetch(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetch_UnsupportedScheme(t *testing.T) {
	_, err := NewFetcher(S3Config{}).Fetch(context.Background(), "gs://bucket/weights.json")
	assert.Error(t, err)
}

func TestFetch_S3(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{"models/vajra/weights.json": []byte("payload")}}
	f := NewFetcher(S3Config{Region: "us-east-1"}, WithS3Client(fake), WithRetry(3, time.Millisecond))

	data, err := f.Fetch(context.Background(), "s3://models/vajra/weights.json")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestFetch_S3RetriesTransientErrors(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{"b/k.json": []byte("x")}, fails: 2}
	f := NewFetcher(S3Config{}, WithS3Client(fake), WithRetry(3, time.Millisecond))

	data, err := f.Fetch(context.Background(), "s3://b/k.json")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
	assert.Equal(t, 3, fake.calls)
}

func TestFetch_S3NoSuchKeyIsPermanent(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	f := NewFetcher(S3Config{}, WithS3Client(fake), WithRetry(5, time.Millisecond))

	_, err := f.Fetch(context.Background(), "s3://b/missing.json")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, fake.calls)
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := ParseS3URI("s3://models/a/b/weights.yaml")
	require.NoError(t, err)
	assert.Equal(t, "models", bucket)
	assert.Equal(t, "a/b/weights.yaml", key)

	for _, bad := range []string{"s3://", "s3://bucket", "s3://bucket/", "http://x/y"} {
		_, _, err := ParseS3URI(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]model.Format{
		"weights.json":              model.FormatJSON,
		"s3://b/weights.yaml":       model.FormatYAML,
		"/srv/weights.YML":          model.FormatYAML,
		"file:///w/weights.json.sz": model.FormatJSON,
	}
	for in, want := range tests {
		got, err := FormatFromPath(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := FormatFromPath("weights.bin")
	assert.Error(t, err)
}

func TestLoadModel_Seeded(t *testing.T) {
	m, source, err := LoadModel(context.Background(), NewFetcher(S3Config{}), "", 1337)
	require.NoError(t, err)
	assert.Equal(t, "seed:1337", source)
	assert.Equal(t, model.DefaultConfig(), m.Config())
}

func TestLoadModel_FromYAMLFile(t *testing.T) {
	p := writeFile(t, "weights.yaml", testWeights(t, model.FormatYAML))

	m, source, err := LoadModel(context.Background(), NewFetcher(S3Config{}), p, 0)
	require.NoError(t, err)
	assert.Equal(t, "file", source)
	assert.NotNil(t, m)
}

func TestLoadModel_BadWeights(t *testing.T) {
	p := writeFile(t, "weights.json", []byte(`{"layers": []}`))
	_, _, err := LoadModel(context.Background(), NewFetcher(S3Config{}), p, 0)
	assert.Error(t, err)
}
