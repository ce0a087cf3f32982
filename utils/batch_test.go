package utils

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParallelExecute_PreservesOrder(t *testing.T) {
	items := []int{5, 4, 3, 2, 1}
	results, err := ParallelExecute(context.Background(), items, func(ctx context.Context, item int) (int, error) {
		// 反向延迟，确保完成顺序与输入顺序不同
		time.Sleep(time.Duration(item) * time.Millisecond)
		return item * 2, nil
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 8, 6, 4, 2}, results)
}

func TestParallelExecute_Empty(t *testing.T) {
	results, err := ParallelExecute(context.Background(), []int{}, func(ctx context.Context, item int) (int, error) {
		return item, nil
	}, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestParallelExecute_Error(t *testing.T) {
	boom := errors.New("boom")
	_, err := ParallelExecute(context.Background(), []int{1, 2, 3}, func(ctx context.Context, item int) (int, error) {
		if item == 2 {
			return 0, boom
		}
		return item, nil
	}, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "item 1")
}

func TestParallelExecute_LimitsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	items := make([]int, 20)
	_, err := ParallelExecute(context.Background(), items, func(ctx context.Context, item int) (int, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		running.Add(-1)
		return item, nil
	}, 4)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func TestParallelExecute_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	_, err := ParallelExecute(ctx, []int{1, 2, 3}, func(ctx context.Context, item int) (int, error) {
		calls.Add(1)
		return item, ctx.Err()
	}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
