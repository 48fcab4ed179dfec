package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/pkg/logger"
)

const defaultWaitInterval = 500 * time.Millisecond

// SubmitRequest 描述一次运行提交。ID 为空时自动生成；非空时用于幂等提交。
type SubmitRequest struct {
	ID           string `json:"id,omitempty"`
	Instructions string `json:"instructions"`
}

// Service 是 API 与 CLI 共用的运行入口：写入存储、推送队列、查询状态。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造任务服务。maxRetries 是单个运行允许的最大执行次数，至少为 1。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	return &Service{store: store, producer: producer, maxRetries: max(maxRetries, 1)}
}

// Submit 创建运行并入队。携带已存在的 ID 时直接返回已有运行，不会重复入队。
// 入队失败的运行会被标记为终态失败。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Task, error) {
	if strings.TrimSpace(req.Instructions) == "" {
		return nil, xerrors.New(CodeTaskValidation, "运行指令不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	} else if prior, err := s.lookupExisting(ctx, id); prior != nil || err != nil {
		return prior, err
	}

	run := &Task{ID: id, Instructions: req.Instructions, Status: StatusPending, MaxRetries: s.maxRetries}
	if err := s.store.Create(ctx, run); err != nil {
		// 并发提交同一 ID 时，后到者返回先到者创建的运行。
		if stdErrors.Is(err, ErrTaskConflict) {
			if prior, _ := s.lookupExisting(ctx, id); prior != nil {
				return prior, nil
			}
		}
		return nil, err
	}

	if err := s.producer.Publish(ctx, id); err != nil {
		publishErr := xerrors.Wrap(CodeTaskPublish, err, "运行入队失败", xerrors.WithMetadata("run_id", id))
		logger.L().Error("运行入队失败", slog.String("task_id", id), slog.Any("error", err))
		if markErr := s.store.MarkFailed(ctx, id, CodeTaskPublish, publishErr.Error(), true); markErr != nil {
			logger.L().Warn("回写入队失败状态出错", slog.String("task_id", id), slog.Any("error", markErr))
		}
		return nil, publishErr
	}

	logger.Audit().Info("运行任务入队",
		slog.String("task_id", id),
		slog.Int("instructions_len", len(run.Instructions)),
		slog.Int("max_retries", run.MaxRetries),
	)
	return run, nil
}

// lookupExisting 返回已存在的运行；不存在时两个返回值都为 nil。
func (s *Service) lookupExisting(ctx context.Context, id string) (*Task, error) {
	run, err := s.store.Get(ctx, id)
	if stdErrors.Is(err, ErrTaskNotFound) {
		return nil, nil
	}
	return run, err
}

func (s *Service) ready() error {
	if s.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return nil
}

// Get 返回指定运行的当前快照。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的运行。
func (s *Service) List(ctx context.Context, filter Filter) ([]*Task, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.store.List(ctx, filter)
}

// Stats 按状态汇总符合过滤条件的运行。
func (s *Service) Stats(ctx context.Context, filter Filter) (Stats, error) {
	if err := s.ready(); err != nil {
		return Stats{}, err
	}
	return s.store.Stats(ctx, filter)
}

// Close 关闭存储与队列。
func (s *Service) Close() error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.producer != nil {
		errs = append(errs, s.producer.Close())
	}
	return stdErrors.Join(errs...)
}

// WaitUntilCompleted 每隔 interval 查询一次，直到运行进入终态或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = defaultWaitInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := s.Get(ctx, id)
		switch {
		case err != nil:
			return nil, err
		case run.Terminal():
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
