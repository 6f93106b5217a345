package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorageLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage("http://localhost:8080/files/")

	require.NoError(t, s.Put(ctx, "reports/u1/a.xlsx", []byte("abc"), "application/octet-stream"))
	require.NoError(t, s.Put(ctx, "reports/u1/b.xlsx", []byte("abcd"), "application/octet-stream"))
	require.NoError(t, s.Put(ctx, "reports/u2/c.xlsx", []byte("x"), "application/octet-stream"))

	objects, err := s.List(ctx, "reports/u1/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "reports/u1/a.xlsx", objects[0].Key)
	assert.Equal(t, int64(4), objects[1].Size)

	url, err := s.PresignGet(ctx, "reports/u1/a.xlsx", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "http://localhost:8080/files/reports/u1/a.xlsx?expires=")

	require.NoError(t, s.Delete(ctx, "reports/u1/a.xlsx"))
	assert.ErrorIs(t, s.Delete(ctx, "reports/u1/a.xlsx"), ErrObjectNotFound)

	_, err = s.PresignGet(ctx, "reports/u1/a.xlsx", time.Minute)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
