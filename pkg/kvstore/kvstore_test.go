package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixedIsolatesNamespaces(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore()
	a := WithPrefix(base, "user:a:")
	b := WithPrefix(base, "user:b:")

	require.NoError(t, a.Set(ctx, "k", "va"))
	require.NoError(t, b.Set(ctx, "k", "vb"))

	v, ok, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "va", v)

	raw, ok, err := base.Get(ctx, "user:b:k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "vb", raw)

	require.NoError(t, a.Delete(ctx, "k"))
	_, ok, _ = a.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 1, base.Len())
}
