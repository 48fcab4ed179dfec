package task

import (
	"context"
	"sync"

	xerrors "LeadFlow/internal/errors"
)

const defaultMemoryQueueSize = 64

// MemoryQueue 是基于带缓冲 channel 的进程内队列，供单机运行与测试使用。
// 处理失败的 ID 不会自动重投。ids 从不关闭，关闭信号走 done。
type MemoryQueue struct {
	ids  chan string
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue 创建容量为 size 的内存队列，size 非正时取 64。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = defaultMemoryQueueSize
	}
	return &MemoryQueue{ids: make(chan string, size), done: make(chan struct{})}
}

func errMemoryQueueClosed() error {
	return xerrors.New(xerrors.CodeQueueFailure, "内存队列已关闭")
}

// Publish 在队列满时阻塞，直到有空位、队列关闭或 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, runID string) error {
	select {
	case <-q.done:
		return errMemoryQueueClosed()
	default:
	}
	select {
	case q.ids <- runID:
		return nil
	case <-q.done:
		return errMemoryQueueClosed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume 在 ctx 结束或队列关闭且排空后返回。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	return fanOut(ctx, workerCount, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case runID := <-q.ids:
				_ = handler(ctx, runID)
			case <-q.done:
				q.drain(ctx, handler)
				return nil
			}
		}
	})
}

func (q *MemoryQueue) drain(ctx context.Context, handler Handler) {
	for ctx.Err() == nil {
		select {
		case runID := <-q.ids:
			_ = handler(ctx, runID)
		default:
			return
		}
	}
}

// Close 之后 Publish 返回 QUEUE_FAILURE，已入队的 ID 仍会被消费。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
