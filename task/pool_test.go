package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strand-lang/strand/value"
)

func TestPoolRunsAndResolves(t *testing.T) {
	p := NewPool(2)
	task := p.Go(func(ctx context.Context) (value.Value, error) {
		return value.Num(42), nil
	})

	v, err := task.Fut.Await()
	require.NoError(t, err)
	assert.Equal(t, value.Num(42), v)
	p.Wait()
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	var running, peak atomic.Int32
	start := make(chan struct{})

	var tasks []value.Task
	for i := 0; i < 6; i++ {
		tasks = append(tasks, p.Go(func(ctx context.Context) (value.Value, error) {
			n := running.Add(1)
			for {
				cur := peak.Load()
				if n <= cur || peak.CompareAndSwap(cur, n) {
					break
				}
			}
			<-start
			running.Add(-1)
			return value.NullValue, nil
		}))
	}
	time.Sleep(50 * time.Millisecond)
	close(start)
	for _, task := range tasks {
		_, err := task.Fut.Await()
		require.NoError(t, err)
	}
	p.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestCancelResolvesWithError(t *testing.T) {
	p := NewPool(1)
	block := make(chan struct{})
	defer close(block)

	// Occupy the single slot so the second task is still queued when
	// cancelled.
	p.Go(func(ctx context.Context) (value.Value, error) {
		<-block
		return value.NullValue, nil
	})
	task := p.Go(func(ctx context.Context) (value.Value, error) {
		return value.Num(1), nil
	})
	task.Cancel()

	_, err := task.Fut.Await()
	assert.ErrorIs(t, err, value.ErrTaskCancelled)
}

func TestTaskIDsAreUnique(t *testing.T) {
	p := NewPool(2)
	a := p.Go(func(ctx context.Context) (value.Value, error) { return value.NullValue, nil })
	b := p.Go(func(ctx context.Context) (value.Value, error) { return value.NullValue, nil })
	assert.NotEqual(t, a.ID, b.ID)
	p.Wait()
}
