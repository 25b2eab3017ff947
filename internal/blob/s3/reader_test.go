package s3blob

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/algoengine/internal/domain"
	"github.com/alanyoungcy/algoengine/internal/marketdata"
)

const dailyCSV = `timestamp,open,high,low,close,volume
2024-01-02T00:00:00Z,100,110,98,108,1
2024-01-03T00:00:00Z,108,110,95,102,1
`

type object struct {
	body     []byte
	encoding string
}

// fakeBucket serves objects the way S3 does, including its not-found errors
// and ListObjectsV2 pagination.
type fakeBucket struct {
	objects  map[string]object
	pageSize int
	err      error
	gets     []string
}

func (b *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Key)
	b.gets = append(b.gets, key)
	if b.err != nil {
		return nil, b.err
	}
	o, ok := b.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	out := &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(o.body))}
	if o.encoding != "" {
		out.ContentEncoding = aws.String(o.encoding)
	}
	return out, nil
}

func (b *fakeBucket) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if b.err != nil {
		return nil, b.err
	}
	if _, ok := b.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (b *fakeBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if b.err != nil {
		return nil, b.err
	}
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	// Reverse order so the reader has to sort.
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := min(start+b.pageSize, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(b.objects[k].body))),
			LastModified: aws.Time(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		})
	}
	return out, nil
}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestReaderGet(t *testing.T) {
	testCases := []struct {
		desc     string
		objects  map[string]object
		err      error
		key      string
		want     string
		wantErr  error
		wantGets []string
	}{
		{
			desc:     "plain object",
			objects:  map[string]object{"h/a.csv": {body: []byte(dailyCSV)}},
			key:      "h/a.csv",
			want:     dailyCSV,
			wantGets: []string{"h/a.csv"},
		},
		{
			desc:     "falls back to the compressed file",
			objects:  map[string]object{"h/a.csv.gz": {body: gzipped(t, dailyCSV)}},
			key:      "h/a.csv",
			want:     dailyCSV,
			wantGets: []string{"h/a.csv", "h/a.csv.gz"},
		},
		{
			desc:     "gzip content encoding",
			objects:  map[string]object{"h/a.csv": {body: gzipped(t, dailyCSV), encoding: "gzip"}},
			key:      "h/a.csv",
			want:     dailyCSV,
			wantGets: []string{"h/a.csv"},
		},
		{
			desc:     "missing",
			objects:  map[string]object{},
			key:      "h/a.csv",
			wantErr:  domain.ErrNotFound,
			wantGets: []string{"h/a.csv", "h/a.csv.gz"},
		},
		{
			desc:     "access denied is not a miss",
			err:      &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"},
			key:      "h/a.csv",
			wantGets: []string{"h/a.csv"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			bucket := &fakeBucket{objects: tc.objects, err: tc.err}
			rc, err := newReader(bucket, "history").Get(context.Background(), tc.key)
			assert.Equal(t, tc.wantGets, bucket.gets)
			switch {
			case tc.wantErr != nil:
				assert.ErrorIs(t, err, tc.wantErr)
				return
			case tc.err != nil:
				require.Error(t, err)
				assert.NotErrorIs(t, err, domain.ErrNotFound)
				return
			}
			require.NoError(t, err)
			defer rc.Close()
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestReaderExists(t *testing.T) {
	bucket := &fakeBucket{objects: map[string]object{
		"h/a.csv":    {body: []byte(dailyCSV)},
		"h/b.csv.gz": {body: gzipped(t, dailyCSV)},
	}}
	r := newReader(bucket, "history")
	ctx := context.Background()

	for key, want := range map[string]bool{"h/a.csv": true, "h/b.csv": true, "h/c.csv": false} {
		got, err := r.Exists(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, got, key)
	}

	bucket.err = &smithy.GenericAPIError{Code: "AccessDenied"}
	_, err := r.Exists(ctx, "h/a.csv")
	assert.Error(t, err)
}

func TestReaderList(t *testing.T) {
	bucket := &fakeBucket{pageSize: 2, objects: map[string]object{
		"h/":                {},
		"h/BTC-USDT_1d.csv": {body: []byte(dailyCSV)},
		"h/ETH-USDT_1d.csv": {body: []byte(dailyCSV)},
		"h/SOL-USDT_1h.gz":  {body: []byte("x")},
		"other/x.csv":       {body: []byte("x")},
	}}

	infos, err := newReader(bucket, "history").List(context.Background(), "h/")
	require.NoError(t, err)
	paths := make([]string, 0, len(infos))
	for _, info := range infos {
		paths = append(paths, info.Path)
	}
	assert.Equal(t, []string{"h/BTC-USDT_1d.csv", "h/ETH-USDT_1d.csv", "h/SOL-USDT_1h.gz"}, paths)
	assert.EqualValues(t, len(dailyCSV), infos[0].Size)

	bucket.err = &smithy.GenericAPIError{Code: "SlowDown"}
	_, err = newReader(bucket, "history").List(context.Background(), "h/")
	assert.Error(t, err)
}

func TestCSVBlobProviderReadsCompressedHistory(t *testing.T) {
	name := marketdata.FileName("BTC/USDT", domain.TimeFrame1d)
	bucket := &fakeBucket{objects: map[string]object{
		"history/" + name + ".gz": {body: gzipped(t, dailyCSV)},
	}}
	provider := marketdata.NewCSVBlobProvider(newReader(bucket, "history"), "history")

	first, last, err := provider.Bounds(context.Background(), "BTC/USDT", domain.TimeFrame1d)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), first)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), last)

	_, _, err = provider.Bounds(context.Background(), "ETH/USDT", domain.TimeFrame1d)
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}
