package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers HEAD, PUT and GET for path-style object URLs.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	puts    int
}

type fakeObject struct {
	body        []byte
	contentType string
	sha         string
}

func response(status int, body []byte, h http.Header) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: h}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// /<bucket>/<key>
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	obj, ok := f.objects[key]
	switch req.Method {
	case http.MethodHead:
		if !ok {
			return response(http.StatusNotFound, nil, nil), nil
		}
		return response(http.StatusOK, nil, http.Header{"Content-Length": {"0"}}), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		f.puts++
		f.objects[key] = fakeObject{
			body:        body,
			contentType: req.Header.Get("Content-Type"),
			sha:         req.Header.Get("X-Amz-Meta-Sha256"),
		}
		return response(http.StatusOK, nil, http.Header{"ETag": {`"etag"`}}), nil
	case http.MethodGet:
		if !ok {
			return response(http.StatusNotFound,
				[]byte(`<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`),
				http.Header{"Content-Type": {"application/xml"}}), nil
		}
		return response(http.StatusOK, obj.body, http.Header{
			"Content-Length":    {strconv.Itoa(len(obj.body))},
			"Content-Type":      {obj.contentType},
			"Last-Modified":     {time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
			"X-Amz-Meta-Sha256": {obj.sha},
		}), nil
	}
	return response(http.StatusNotImplemented, nil, nil), nil
}

func newFakeS3Store(t *testing.T) (*S3BlobStore, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string]fakeObject{}}
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	require.NoError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.HTTPClient = &http.Client{Transport: fake}
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return NewS3FromClient(client, "exports"), fake
}

func TestBlobStores_PutGet(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	s3Store, _ := newFakeS3Store(t)

	stores := map[string]BlobStore{
		"memory": NewInMemoryBlobStore(),
		"local":  local,
		"s3":     s3Store,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := "exports/2024/03/abc/occhealth.xlsx"

			obj, err := store.Put(ctx, key, ContentTypeXLSX, strings.NewReader("workbook-bytes"))
			require.NoError(t, err)
			assert.Equal(t, key, obj.Key)
			assert.Equal(t, int64(len("workbook-bytes")), obj.Size)
			assert.Len(t, obj.SHA256, 64)
			assert.NotEmpty(t, obj.Location)

			rc, got, err := store.Get(ctx, key)
			require.NoError(t, err)
			defer rc.Close()
			body, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, "workbook-bytes", string(body))
			assert.Equal(t, int64(len(body)), got.Size)

			_, err = store.Put(ctx, key, ContentTypeXLSX, strings.NewReader("again"))
			assert.True(t, errors.Is(err, ErrExists), "expected ErrExists, got %v", err)

			_, _, err = store.Get(ctx, "exports/none.xlsx")
			assert.True(t, errors.Is(err, ErrBlobNotFound), "expected ErrBlobNotFound, got %v", err)
		})
	}
}

func TestS3BlobStore_SendsMetadata(t *testing.T) {
	store, fake := newFakeS3Store(t)
	obj, err := store.Put(context.Background(), "exports/a.xlsx", ContentTypeXLSX, strings.NewReader("x"))
	require.NoError(t, err)

	assert.Equal(t, 1, fake.puts)
	stored := fake.objects["exports/a.xlsx"]
	assert.Equal(t, ContentTypeXLSX, stored.contentType)
	assert.Equal(t, obj.SHA256, stored.sha)
	assert.Equal(t, "s3://exports/exports/a.xlsx", obj.Location)
}

func TestInvalidKeys(t *testing.T) {
	store := NewInMemoryBlobStore()
	for _, key := range []string{"", "/abs.xlsx", "../escape.xlsx", "a/../../b"} {
		_, err := store.Put(context.Background(), key, ContentTypeXLSX, strings.NewReader("x"))
		assert.True(t, errors.Is(err, ErrInvalidKey), "key %q: got %v", key, err)
	}
}

func TestNewKey(t *testing.T) {
	now := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	a := NewKey("exports", "occhealth.xlsx", now)
	b := NewKey("exports", "occhealth.xlsx", now)

	assert.True(t, strings.HasPrefix(a, "exports/2024/03/"), a)
	assert.True(t, strings.HasSuffix(a, "/occhealth.xlsx"), a)
	assert.NotEqual(t, a, b)
	assert.NoError(t, validKey(a))
}

func TestFileTooLarge(t *testing.T) {
	_, _, err := readAll(io.LimitReader(zeroReader{}, MaxFileSize+1))
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
