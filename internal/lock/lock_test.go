package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexProvider(t *testing.T) {
	p := NewMutexProvider()
	ctx := context.Background()

	t.Run("second acquire fails until release", func(t *testing.T) {
		release, ok, err := p.TryAcquire(ctx, "sync", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = p.TryAcquire(ctx, "sync", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		release()

		release2, ok, err := p.TryAcquire(ctx, "sync", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		release2()
	})

	t.Run("independent keys do not contend", func(t *testing.T) {
		r1, ok, err := p.TryAcquire(ctx, "sync", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		defer r1()

		r2, ok, err := p.TryAcquire(ctx, "cleanup", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		r2()
	})

	t.Run("exactly one concurrent winner", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		var releases []func()

		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, ok, err := p.TryAcquire(ctx, "contended", time.Minute)
				require.NoError(t, err)
				if ok {
					mu.Lock()
					winners++
					releases = append(releases, release)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, winners)
		for _, r := range releases {
			r()
		}
	})
}
