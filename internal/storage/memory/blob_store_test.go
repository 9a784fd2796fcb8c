package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutAndGet(t *testing.T) {
	t.Parallel()
	s := NewBlobStore()

	uri, err := s.PutObject(context.Background(), "snapshots/acme-1.png", "image/png", strings.NewReader("fake-png"))
	require.NoError(t, err)
	require.Equal(t, "mem://snapshots/acme-1.png", uri)

	raw, ok := s.GetObject("snapshots/acme-1.png")
	require.True(t, ok)
	require.Equal(t, "fake-png", string(raw))
}

func TestBlobStoreEmptyPath(t *testing.T) {
	t.Parallel()
	s := NewBlobStore()
	_, err := s.PutObject(context.Background(), "  ", "", strings.NewReader("x"))
	require.Error(t, err)
}

func TestBlobStoreGetMissing(t *testing.T) {
	t.Parallel()
	s := NewBlobStore()
	_, ok := s.GetObject("nope")
	require.False(t, ok)
}
