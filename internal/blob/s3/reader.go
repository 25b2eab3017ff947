package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/klauspost/compress/gzip"

	"github.com/alanyoungcy/algoengine/internal/domain"
)

// gzipSuffix marks a history file stored compressed.
const gzipSuffix = ".gz"

// objectAPI is the part of the S3 client the reader calls.
type objectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Reader implements domain.BlobReader over the market-data bucket. A key
// that is missing is also looked up with a .gz suffix, so BTC-USDT_1h.csv
// may be stored as BTC-USDT_1h.csv.gz. Compressed bodies are inflated on
// read.
type Reader struct {
	api    objectAPI
	bucket string
}

// NewReader creates a Reader over the client's bucket.
func NewReader(c *Client) *Reader {
	return newReader(c.S3(), c.Bucket())
}

func newReader(api objectAPI, bucket string) *Reader {
	return &Reader{api: api, bucket: bucket}
}

// Get returns the uncompressed body stored at key or key.gz. The caller
// closes it. When neither exists the error wraps domain.ErrNotFound.
func (r *Reader) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	for _, k := range storedKeys(key) {
		out, err := r.api.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(k),
		})
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("s3blob: get %s: %w", k, err)
		}
		if !strings.HasSuffix(k, gzipSuffix) && aws.ToString(out.ContentEncoding) != "gzip" {
			return out.Body, nil
		}
		zr, err := gzip.NewReader(out.Body)
		if err != nil {
			out.Body.Close()
			return nil, fmt.Errorf("s3blob: inflate %s: %w", k, err)
		}
		return &inflated{Reader: zr, body: out.Body}, nil
	}
	return nil, fmt.Errorf("s3blob: get %s: %w", key, domain.ErrNotFound)
}

// List returns the objects under prefix sorted by key. Folder placeholder
// keys are skipped.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	pages := s3.NewListObjectsV2Paginator(r.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			info := domain.BlobInfo{Path: key, Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			infos = append(infos, info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// Exists reports whether key or key.gz is stored.
func (r *Reader) Exists(ctx context.Context, key string) (bool, error) {
	for _, k := range storedKeys(key) {
		_, err := r.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(k),
		})
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("s3blob: head %s: %w", k, err)
		}
		return true, nil
	}
	return false, nil
}

func storedKeys(key string) []string {
	if strings.HasSuffix(key, gzipSuffix) {
		return []string{key}
	}
	return []string{key, key + gzipSuffix}
}

// inflated closes the gzip stream and the object body under it.
type inflated struct {
	*gzip.Reader
	body io.Closer
}

func (f *inflated) Close() error {
	return errors.Join(f.Reader.Close(), f.body.Close())
}

// isNotFound matches GetObject's NoSuchKey, HeadObject's NotFound and bare
// 404s from S3-compatible stores.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	var httpErr interface{ HTTPStatusCode() int }
	return errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == http.StatusNotFound
}

var _ domain.BlobReader = (*Reader)(nil)
