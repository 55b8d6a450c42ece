package objectstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsProvider(t *testing.T) {
	c, err := New(Config{Provider: "minio", Endpoint: "http://localhost:9000", Bucket: "guestlens-media"})
	require.NoError(t, err)
	mc, ok := c.(*minioClient)
	require.True(t, ok)
	assert.Equal(t, "guestlens-media", mc.bucket)
	assert.Equal(t, "localhost:9000", mc.client.EndpointURL().Host)
	assert.NoError(t, c.Close())

	_, err = New(Config{Provider: "ftp"})
	assert.ErrorContains(t, err, "unsupported object store provider")
}

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{Provider: "minio", Endpoint: srv.URL, Region: "us-east-1", Bucket: "guestlens-media"})
	require.NoError(t, err)
	return c
}

const listResult = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
<Name>guestlens-media</Name><Prefix>events/wedding/media/</Prefix><KeyCount>2</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>
<Contents><Key>events/wedding/media/guest-1/a.jpg</Key><Size>3</Size></Contents>
<Contents><Key>events/wedding/media/guest-2/b.mp4</Key><Size>3</Size></Contents>
</ListBucketResult>`

func TestCountListsPrefix(t *testing.T) {
	prefixes := make(chan string, 8)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case prefixes <- r.URL.Query().Get("prefix"):
		default:
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(listResult))
	})

	n, err := c.Count(context.Background(), "events/wedding/media/")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "events/wedding/media/", <-prefixes)
}

func TestCountReturnsListingError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>AccessDenied</Code><Message>Access Denied</Message><BucketName>guestlens-media</BucketName><Resource>/guestlens-media</Resource><RequestId>1</RequestId></Error>`))
	})

	n, err := c.Count(context.Background(), "events/wedding/")
	require.Error(t, err)
	assert.Zero(t, n)
	assert.ErrorContains(t, err, "list events/wedding/")
}
