package rpcclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolGetOrCreateIsIdempotent(t *testing.T) {
	dials := 0
	var mu sync.Mutex
	pool := NewPoolWithDialer(time.Second, newFakeObserver(), func(ctx context.Context, url string) (Backend, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return &fakeBackend{}, nil
	})

	first, err := pool.Get(context.Background(), "c1", "https://rpc.example.com")
	require.NoError(t, err)
	second, err := pool.Get(context.Background(), "c1", "https://rpc.example.com")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, dials)
	assert.Equal(t, 1, pool.Size())
}

func TestPoolSeparateClientsPerURL(t *testing.T) {
	pool := NewPoolWithDialer(time.Second, newFakeObserver(), func(ctx context.Context, url string) (Backend, error) {
		return &fakeBackend{}, nil
	})

	first, err := pool.Get(context.Background(), "c1", "https://a.example.com")
	require.NoError(t, err)
	second, err := pool.Get(context.Background(), "c2", "https://b.example.com")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, 2, pool.Size())
}

func TestPoolDropClosesClient(t *testing.T) {
	backend := &fakeBackend{}
	pool := NewPoolWithDialer(time.Second, newFakeObserver(), func(ctx context.Context, url string) (Backend, error) {
		return backend, nil
	})

	_, err := pool.Get(context.Background(), "c1", "https://rpc.example.com")
	require.NoError(t, err)

	pool.Drop("https://rpc.example.com")
	assert.True(t, backend.closed)
	assert.Equal(t, 0, pool.Size())

	// Dropping an unknown URL is a no-op.
	pool.Drop("https://missing.example.com")
}

func TestPoolClose(t *testing.T) {
	backends := []*fakeBackend{{}, {}}
	i := 0
	pool := NewPoolWithDialer(time.Second, newFakeObserver(), func(ctx context.Context, url string) (Backend, error) {
		b := backends[i]
		i++
		return b, nil
	})

	_, err := pool.Get(context.Background(), "c1", "https://a.example.com")
	require.NoError(t, err)
	_, err = pool.Get(context.Background(), "c2", "https://b.example.com")
	require.NoError(t, err)

	pool.Close()
	assert.True(t, backends[0].closed)
	assert.True(t, backends[1].closed)
	assert.Equal(t, 0, pool.Size())
}
