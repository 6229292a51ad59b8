package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCellPublishesOnce(t *testing.T) {
	c := NewCell()
	_, ok := c.Get()
	require.False(t, ok)

	require.True(t, c.Publish(Result{Hostname: "a", Source: SourceFixed}))
	require.False(t, c.Publish(Result{Hostname: "b", Source: SourceFallback}))

	r, ok := c.Get()
	require.True(t, ok)
	require.Equal(t, "a", r.Hostname)
}

func TestCellWaitersAllSeeResult(t *testing.T) {
	c := NewCell()
	var wg sync.WaitGroup
	results := make([]Result, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := c.Wait(context.Background())
			if err == nil {
				results[i] = r
			}
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	c.Publish(Result{Hostname: "h.trycloudflare.com", Source: SourceDiscovered})
	wg.Wait()
	for _, r := range results {
		require.Equal(t, "h.trycloudflare.com", r.Hostname)
	}
}

func TestCellWaitHonoursContext(t *testing.T) {
	c := NewCell()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
