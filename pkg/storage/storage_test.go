package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	bucket, key string
	body        string
	err         error
}

func (f *fakeObjects) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket, f.key = aws.ToString(in.Bucket), aws.ToString(in.Key)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(f.body)),
		ContentLength: aws.Int64(int64(len(f.body))),
	}, nil
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		in          string
		bucket, key string
		wantErr     bool
	}{
		{"s3://mirror/raspios/a.img.xz", "mirror", "raspios/a.img.xz", false},
		{"s3://mirror/", "", "", true},
		{"https://mirror/a", "", "", true},
		{"s3:///a", "", "", true},
	}
	for _, tt := range tests {
		bucket, key, err := ParseS3URI(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.bucket, bucket)
		assert.Equal(t, tt.key, key)
	}
}

func TestClientOpen(t *testing.T) {
	objects := &fakeObjects{body: "image-bytes"}
	c := &Client{s3Client: objects}

	body, size, err := c.Open(context.Background(), "s3://mirror/images/a.img.xz")
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))
	assert.Equal(t, int64(11), size)
	assert.Equal(t, "mirror", objects.bucket)
	assert.Equal(t, "images/a.img.xz", objects.key)
}

func TestClientOpen_Error(t *testing.T) {
	c := &Client{s3Client: &fakeObjects{err: fmt.Errorf("NoSuchKey")}}
	_, _, err := c.Open(context.Background(), "s3://mirror/missing")
	assert.ErrorContains(t, err, "NoSuchKey")
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "hello")
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.Client())

	data, err := ReadAll(context.Background(), f, srv.URL+"/ok", 1024)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, _, err = f.Open(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "404")

	_, err = ReadAll(context.Background(), f, srv.URL+"/ok", 2)
	assert.ErrorContains(t, err, "exceeds")
}

func TestRouter(t *testing.T) {
	objects := &fakeObjects{body: "x"}
	r := &Router{S3: &Client{s3Client: objects}}

	body, _, err := r.Open(context.Background(), "s3://b/k")
	require.NoError(t, err)
	body.Close()

	_, _, err = r.Open(context.Background(), "https://example.com/a")
	assert.ErrorContains(t, err, "no http fetcher")

	_, _, err = r.Open(context.Background(), "ftp://example.com/a")
	assert.ErrorContains(t, err, "unsupported scheme")
}
