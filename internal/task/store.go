package task

import (
	"context"

	xerrors "LeadFlow/internal/errors"
)

// Store 抽象了运行任务的持久化接口。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	Claim(ctx context.Context, id string) (*Task, error)
	MarkSucceeded(ctx context.Context, id string, result RunSummary) error
	// MarkAborted 记录中止的运行，保留部分结果，不再重试。
	MarkAborted(ctx context.Context, id string, code xerrors.Code, lastError string, result RunSummary) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	// RecoverInterrupted 把遗留在 running 的运行记为中断失败，
	// 返回所有仍可重试的失败运行 ID，按更新时间升序。只应在没有处理器运行时调用。
	RecoverInterrupted(ctx context.Context) ([]string, error)
	List(ctx context.Context, filter Filter) ([]*Task, error)
	Stats(ctx context.Context, filter Filter) (Stats, error)
	Close() error
}
