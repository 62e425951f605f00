package dedup

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Claim(ctx, "same")
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	ok, err := s.Claim(ctx, "other")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Reset(ctx))
	n, err = s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	ok, err = s.Claim(ctx, "same")
	require.NoError(t, err)
	assert.True(t, ok, "fingerprints are claimable again after reset")
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("PICGET_TEST_REDIS_URL")
	if url == "" {
		t.Skip("PICGET_TEST_REDIS_URL not set")
	}
	cl, err := Connect(context.Background(), url)
	require.NoError(t, err)
	defer cl.Close()

	s := NewRedisStore(cl, uuid.NewString(), time.Minute, nil)
	defer s.Reset(context.Background())

	exerciseStore(t, s)
}

func TestConnect_BadURL(t *testing.T) {
	_, err := Connect(context.Background(), "not a url")
	assert.Error(t, err)
}
