package replay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// S3API is the subset of the S3 client used to fetch recorded sessions.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Opener opens recorded sessions from local files, http(s) URLs and
// s3://bucket/key objects. Gzip and zstd content is decompressed
// transparently, detected by magic bytes.
type Opener struct {
	HTTP *http.Client

	// S3 is created from the default AWS configuration on first use when nil.
	S3 S3API
}

// Load opens uri and parses every record. A source that cannot be read or
// holds no fix record is a *SourceError.
func (o *Opener) Load(ctx context.Context, uri string) ([]Record, Stats, error) {
	rc, err := o.Open(ctx, uri)
	if err != nil {
		return nil, Stats{}, err
	}
	defer rc.Close()

	recs, stats, err := ParseRecords(rc)
	if err != nil {
		return nil, stats, &SourceError{Code: ErrCodeUnreachable, URI: uri, Err: err}
	}
	if len(recs) == 0 {
		return nil, stats, &SourceError{
			Code: ErrCodeEmpty,
			URI:  uri,
			Err:  fmt.Errorf("%d lines, %d dropped, %d skipped", stats.Lines, stats.Dropped, stats.Skipped),
		}
	}
	return recs, stats, nil
}

// Open returns a reader over the decompressed content of uri.
func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	raw, err := o.openRaw(ctx, uri)
	if err != nil {
		var se *SourceError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, &SourceError{Code: ErrCodeUnreachable, URI: uri, Err: err}
	}

	rc, err := decompress(raw)
	if err != nil {
		raw.Close()
		return nil, &SourceError{Code: ErrCodeUnreachable, URI: uri, Err: err}
	}
	return rc, nil
}

func (o *Opener) openRaw(ctx context.Context, uri string) (io.ReadCloser, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || u.Scheme == "file" || len(u.Scheme) == 1 {
		path := uri
		if err == nil && u.Scheme == "file" {
			path = u.Path
		}
		return os.Open(path)
	}

	switch u.Scheme {
	case "http", "https":
		return o.openHTTP(ctx, uri)
	case "s3":
		return o.openS3(ctx, u)
	default:
		return nil, &SourceError{Code: ErrCodeUnsupported, URI: uri}
	}
}

func (o *Opener) openHTTP(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	client := o.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp.Body, nil
}

func (o *Opener) openS3(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 uri needs bucket and key: %s", u)
	}

	if o.S3 == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		o.S3 = s3.NewFromConfig(cfg)
	}

	out, err := o.S3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// zstdReadCloser adapts the zstd decoder, whose Close returns nothing.
type zstdReadCloser struct {
	*zstd.Decoder
	under io.Closer
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.under.Close()
}

type gzipReadCloser struct {
	*gzip.Reader
	under io.Closer
}

func (g gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.under.Close(); err == nil {
		err = cerr
	}
	return err
}

type bufferedReadCloser struct {
	*bufio.Reader
	under io.Closer
}

func (b bufferedReadCloser) Close() error { return b.under.Close() }

func decompress(rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)
	head, _ := br.Peek(4)

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return gzipReadCloser{Reader: zr, under: rc}, nil

	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(0))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return zstdReadCloser{Decoder: zr, under: rc}, nil

	default:
		return bufferedReadCloser{Reader: br, under: rc}, nil
	}
}
