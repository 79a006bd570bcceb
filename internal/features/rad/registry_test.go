package rad

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/vpn-shop/internal/features/catalog"
)

func TestRegistryCachesClients(t *testing.T) {
	loads := 0
	load := func(_ context.Context, id int64) (*catalog.Backend, error) {
		loads++
		return &catalog.Backend{ID: id, Name: "msk-1", Kind: catalog.BackendMemory, Active: true}, nil
	}
	factory := func(b *catalog.Backend) (Directory, error) { return NewMemory(b.Name), nil }
	reg := NewRegistry(load, factory, time.Second, fastPolicy())

	a, err := reg.Get(context.Background(), 1)
	require.NoError(t, err)
	b, err := reg.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, loads)

	reg.Invalidate(1)
	_, err = reg.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestRegistryRejectsInactiveBackend(t *testing.T) {
	load := func(_ context.Context, id int64) (*catalog.Backend, error) {
		return &catalog.Backend{ID: id, Name: "old", Active: false}, nil
	}
	reg := NewRegistry(load, func(*catalog.Backend) (Directory, error) { return NewMemory("x"), nil }, time.Second, fastPolicy())

	_, err := reg.Get(context.Background(), 1)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestRegistryWithoutLoader(t *testing.T) {
	reg := NewRegistry(nil, nil, time.Second, fastPolicy())
	_, err := reg.Get(context.Background(), 42)
	assert.Error(t, err)

	reg.Register(42, "dev", NewMemory("dev"))
	dir, err := reg.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.NoError(t, dir.Ping(context.Background()))
}
