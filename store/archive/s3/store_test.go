package s3

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rbaliyan/docxfer/retry"
	"github.com/rbaliyan/docxfer/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		key     string
		wantErr bool
	}{
		{uri: "s3://b/k.zip", bucket: "b", key: "k.zip"},
		{uri: "s3://b/a/b/c.zip", bucket: "b", key: "a/b/c.zip"},
		{uri: "s3://b", wantErr: true},
		{uri: "s3://b/", wantErr: true},
		{uri: "s3:///k", wantErr: true},
		{uri: "gs://b/k", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC)
	key := objectKey("archives", "../users.zip", now)
	assert.True(t, strings.HasPrefix(key, "archives/2026/03/04/"), key)
	assert.True(t, strings.HasSuffix(key, "/users.zip"), key)
	assert.NotEqual(t, key, objectKey("archives", "users.zip", now))
}

func TestCredentialSource(t *testing.T) {
	ctx := context.Background()

	o := newOptions()
	p, err := o.creds.provider(ctx, o.region)
	require.NoError(t, err)
	assert.Nil(t, p, "default chain")

	o = newOptions(
		WithStaticCredentials("AKID", "SECRET"),
		WithSessionToken("TOKEN"),
		WithAssumeRole("arn:aws:iam::123456789012:role/backup", ""),
	)
	assert.Equal(t, "docxfer-archive-store", o.creds.sessionName)
	p, err = o.creds.provider(ctx, o.region)
	require.NoError(t, err)
	creds, err := p.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)
	assert.Equal(t, "TOKEN", creds.SessionToken)
}

func TestBucketRequired(t *testing.T) {
	_, err := NewFromClient(nil)
	assert.Error(t, err)
}

// TestIntegration runs against an S3-compatible endpoint such as MinIO when
// DOCXFER_S3_ENDPOINT and DOCXFER_S3_BUCKET are set.
func TestIntegration(t *testing.T) {
	endpoint, bucket := os.Getenv("DOCXFER_S3_ENDPOINT"), os.Getenv("DOCXFER_S3_BUCKET")
	if endpoint == "" || bucket == "" {
		t.Skip("DOCXFER_S3_ENDPOINT or DOCXFER_S3_BUCKET not set")
	}
	ctx := context.Background()

	s, err := New(ctx,
		WithBucket(bucket),
		WithEndpoint(endpoint),
		WithPathStyle(true),
		WithStaticCredentials(os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")),
		WithRetry(retry.Never()),
	)
	require.NoError(t, err)

	uri, err := s.Upload(ctx, "test.zip", "application/zip", strings.NewReader("archive"))
	require.NoError(t, err)

	r, err := s.Load(ctx, uri)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "archive", string(data))

	require.NoError(t, s.Delete(ctx, uri))
	_, err = s.Load(ctx, uri)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
