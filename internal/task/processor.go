package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/pipeline"
	"LeadFlow/internal/state"
	"LeadFlow/pkg/logger"
)

// Executor 定义了处理器所需的运行能力，*pipeline.Runner 满足该接口。
type Executor interface {
	Run(ctx context.Context, instructions string) (*pipeline.Result, error)
}

// RunRecorder 接收每次运行的最终状态，*metrics.Recorder 满足该接口。
type RunRecorder interface {
	ObserveRun(status string, duration time.Duration)
}

// Processor 负责从队列消费任务并交给运行驱动执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recorder    RunRecorder
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithRunRecorder 注册运行结果的指标记录。
func WithRunRecorder(rec RunRecorder) ProcessorOption {
	return func(p *Processor) {
		p.recorder = rec
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("task"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	if _, err := p.Recover(ctx); err != nil {
		return err
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

// Recover 把上次退出时中断或等待重试的运行重新入队，返回入队数量。
// 已在队列中的 ID 可能因此被重复投递，领取时会被跳过。
func (p *Processor) Recover(ctx context.Context) (int, error) {
	if p.store == nil || p.producer == nil {
		return 0, nil
	}
	ids, err := p.store.RecoverInterrupted(ctx)
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := p.producer.Publish(ctx, id); err != nil {
			return i, xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("任务 %s 恢复入队失败", id))
		}
	}
	if len(ids) > 0 {
		p.logger.Info("已恢复中断的运行", slog.Int("count", len(ids)))
	}
	return len(ids), nil
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	run, err := p.store.Claim(ctx, taskID)
	if err != nil {
		switch {
		case stdErrors.Is(err, ErrTaskNotFound), stdErrors.Is(err, ErrTaskCompleted),
			stdErrors.Is(err, ErrTaskExhausted), stdErrors.Is(err, ErrTaskConflict):
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		return err
	}

	result, runErr := p.executor.Run(ctx, run.Instructions)
	switch {
	case runErr == nil && result != nil:
		return p.recordSuccess(ctx, run, result)
	case result != nil && result.Aborted && xerrors.HasCode(runErr, xerrors.CodeStepLimitExceeded):
		return p.recordAbort(ctx, run, result, runErr)
	case runErr == nil:
		runErr = xerrors.New(CodeTaskProcessing, "运行没有返回结果")
	}
	return p.handleExecutionFailure(ctx, run, runErr)
}

func (p *Processor) recordSuccess(ctx context.Context, run *Task, result *pipeline.Result) error {
	summary := summarize(result)
	if err := p.store.MarkSucceeded(ctx, run.ID, summary); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", run.ID))
		if storeErr := p.store.MarkFailed(ctx, run.ID, CodeTaskProcessing, err.Error(), false); storeErr != nil {
			p.logger.Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("task_id", run.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, run.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 在标记成功失败后重投失败", run.ID))
		}
		return nil
	}
	logger.Audit().Info("运行任务完成",
		slog.String("task_id", run.ID),
		slog.String("run_id", result.RunID),
		slog.Int("steps", summary.Steps),
		slog.Int("leads", len(summary.Leads)),
	)
	p.observe(StatusSucceeded, result)
	return nil
}

func (p *Processor) recordAbort(ctx context.Context, run *Task, result *pipeline.Result, runErr error) error {
	summary := summarize(result)
	code := xerrors.CodeOf(runErr)
	if err := p.store.MarkAborted(ctx, run.ID, code, runErr.Error(), summary); err != nil {
		p.logger.Error("标记任务中止状态失败", slog.Any("error", err), slog.String("task_id", run.ID))
		return err
	}
	logger.Audit().Warn("运行任务中止",
		slog.String("task_id", run.ID),
		slog.String("run_id", result.RunID),
		slog.String("error_code", string(code)),
		slog.Int("steps", summary.Steps),
		slog.Int("leads", len(summary.Leads)),
	)
	p.observe(StatusAborted, result)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, run *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := run.Attempts >= run.MaxRetries || !retryable

	// 取消通常来自进程退出，此时 ctx 已结束，需要脱离 ctx 写回状态。
	writeCtx := ctx
	if ctx.Err() != nil {
		writeCtx = context.WithoutCancel(ctx)
		terminal = false
	}

	if storeErr := p.store.MarkFailed(writeCtx, run.ID, code, execErr.Error(), terminal); storeErr != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", storeErr), slog.String("task_id", run.ID))
		return storeErr
	}
	logger.Audit().Log(writeCtx, xerrors.SeverityOf(execErr).Level(), "运行任务失败",
		slog.String("task_id", run.ID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", run.Attempts),
		slog.Int("max_retries", run.MaxRetries),
	)
	if terminal {
		p.observe(StatusFailed, nil)
	}

	if retryable && !terminal && ctx.Err() == nil {
		if pubErr := p.producer.Publish(ctx, run.ID); pubErr != nil {
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", run.ID))
		}
		p.logger.Debug("任务已重新排队", slog.String("task_id", run.ID), slog.Int("attempts", run.Attempts))
	}
	return nil
}

func (p *Processor) observe(status Status, result *pipeline.Result) {
	if p.recorder == nil {
		return
	}
	var d time.Duration
	if result != nil {
		d = result.Duration()
	}
	p.recorder.ObserveRun(string(status), d)
}

func summarize(result *pipeline.Result) RunSummary {
	summary := RunSummary{
		Steps:      result.Steps,
		Aborted:    result.Aborted,
		Leads:      state.CloneLeads(result.State.Leads),
		Transcript: append([]state.Message(nil), result.State.Transcript...),
	}
	if summary.Leads == nil {
		summary.Leads = []state.Lead{}
	}
	if !result.StartedAt.IsZero() {
		summary.StartedAt = result.StartedAt.Unix()
	}
	if !result.FinishedAt.IsZero() {
		summary.FinishedAt = result.FinishedAt.Unix()
	}
	return summary
}
