package task

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Handler 处理一个出队的运行 ID。返回错误时，支持重投的队列会把该 ID 放回队列。
type Handler func(ctx context.Context, runID string) error

// Producer 把待执行的运行 ID 放入队列。
type Producer interface {
	Publish(ctx context.Context, runID string) error
	Close() error
}

// Consumer 以 workerCount 个协程并发地把出队的 ID 交给 handler，直到 ctx 结束。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 是 MemoryQueue、RedisQueue 与 RabbitMQQueue 的公共形态。
type Queue interface {
	Producer
	Consumer
}

// fanOut 并发运行 n 份 loop。任一份返回错误时取消其余各份并返回该错误；
// 全部正常退出时返回 parent 的取消原因（未取消则为 nil）。
func fanOut(parent context.Context, n int, loop func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(parent)
	for range max(n, 1) {
		g.Go(func() error { return loop(ctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return parent.Err()
}
