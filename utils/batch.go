package utils

import (
	"context"
	"fmt"
	"sync"
)

// DefaultConcurrency 默认并发数
const DefaultConcurrency = 5

// ParallelExecute 并行执行多个操作
//
// 对一组输入并发执行操作函数，限制并发数量；结果顺序与输入一致。
// 任一操作失败时返回索引最小的错误。
//
// 示例：
//
//	slots, err := ParallelExecute(ctx, indexes, func(ctx context.Context, i uint64) ([]byte, error) {
//	    return readOwnerAtIndex(ctx, i)
//	}, 5)
func ParallelExecute[T any, R any](
	ctx context.Context,
	items []T,
	executeFn func(ctx context.Context, item T) (R, error),
	concurrency int,
) ([]R, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make([]R, len(items))
	errs := make([]error, len(items))
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	for i, item := range items {
		wg.Add(1)
		go func(index int, it T) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[index] = ctx.Err()
				return
			}
			defer func() { <-sem }()

			result, err := executeFn(ctx, it)
			if err != nil {
				errs[index] = err
				return
			}
			results[index] = result
		}(i, item)
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("parallel execute failed at item %d: %w", i, err)
		}
	}

	return results, nil
}
