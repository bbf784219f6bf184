package gcs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	bucket, key, err := ParseURI("gs://b/archives/x.zip")
	require.NoError(t, err)
	assert.Equal(t, "b", bucket)
	assert.Equal(t, "archives/x.zip", key)

	for _, uri := range []string{"s3://b/k", "gs://b", "gs://b/", "gs:///k"} {
		_, _, err := ParseURI(uri)
		assert.Error(t, err, uri)
	}
}

func TestObjectName(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	name := objectName("p", "dir/db.zip", now)
	assert.True(t, strings.HasPrefix(name, "p/2026/01/02/"), name)
	assert.True(t, strings.HasSuffix(name, "/db.zip"), name)
}

func TestNewValidates(t *testing.T) {
	_, err := New(context.Background())
	assert.Error(t, err)

	o := newOptions(WithChunkSize(-1), WithAPIKey("k"), WithEndpoint("http://localhost:4443"))
	assert.Equal(t, 16<<20, o.chunkSize)
	opts, err := clientOptions(o)
	require.NoError(t, err)
	assert.Len(t, opts, 2)
}
