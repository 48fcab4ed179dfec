// Package pipeline 负责一次完整运行：获取自动化会话、构建节点与编排图、
// 以初始状态驱动编排图直到结束或步数耗尽，并保证会话在任何退出路径上都被释放。
package pipeline

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"LeadFlow/internal/agent"
	"LeadFlow/internal/automation"
	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/graph"
	"LeadFlow/internal/llm"
	"LeadFlow/internal/state"
	"LeadFlow/internal/worker"
	"LeadFlow/pkg/logger"
)

// Config 汇总一次运行需要的全部依赖，由调用方在启动时构造并显式传入。
type Config struct {
	LLM    llm.Client
	Opener automation.Opener

	StepLimit        int
	WorkerIterations int
	// LLMTimeout 与 ToolTimeout 为 0 时不限制单次调用时长。
	LLMTimeout  time.Duration
	ToolTimeout time.Duration

	SupervisorPreamble string
	EmailPrompt        string
}

// Result 是一次运行的结果。Aborted 为 true 表示运行因步数耗尽或取消而中止，线索可能不完整。
type Result struct {
	RunID      string
	State      state.State
	Steps      int
	Aborted    bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration 返回运行耗时。
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Observer 在每一步结束后被调用。
type Observer func(runID string, step graph.Step)

// Runner 执行运行。
type Runner struct {
	cfg      Config
	observer Observer
	newID    func() string
	now      func() time.Time
	log      *slog.Logger
}

// Option 定义可选的 Runner 配置。
type Option func(*Runner)

// WithObserver 注册步骤观察者。
func WithObserver(observer Observer) Option {
	return func(r *Runner) {
		r.observer = observer
	}
}

// WithRunIDGenerator 覆盖运行 ID 的生成方式。
func WithRunIDGenerator(gen func() string) Option {
	return func(r *Runner) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// NewRunner 校验配置并创建 Runner。
func NewRunner(cfg Config, opts ...Option) (*Runner, error) {
	if cfg.LLM == nil {
		return nil, xerrors.New(xerrors.CodeSetupFailure, "未配置大模型客户端")
	}
	if cfg.Opener == nil {
		return nil, xerrors.New(xerrors.CodeSetupFailure, "未配置自动化后端")
	}
	r := &Runner{
		cfg:   cfg,
		newID: uuid.NewString,
		now:   time.Now,
		log:   logger.Named("pipeline"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Run 执行一次运行。
//
// 准备阶段（打开会话、加载工具、构建节点、编译编排图）失败时返回 nil 与 SETUP_FAILURE 错误。
// 步数耗尽或取消时返回最后的状态（Aborted=true）以及对应错误。
func (r *Runner) Run(ctx context.Context, instructions string) (*Result, error) {
	runID := r.newID()
	log := r.log.With(slog.String("run_id", runID))

	if strings.TrimSpace(instructions) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "运行指令不能为空")
	}

	session, err := r.cfg.Opener.Open(ctx)
	if err != nil {
		log.Error("打开自动化会话失败", slog.Any("error", err))
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "打开自动化会话失败")
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn("关闭自动化会话失败", slog.Any("error", cerr))
		}
	}()
	session = automation.WithCallTimeout(session, r.cfg.ToolTimeout)

	tools, err := session.Tools(ctx)
	if err != nil {
		log.Error("加载自动化工具失败", slog.Any("error", err))
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "加载自动化工具失败")
	}

	compiled, err := r.build(session, tools)
	if err != nil {
		log.Error("构建编排图失败", slog.Any("error", err))
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "构建编排图失败")
	}

	result := &Result{RunID: runID, StartedAt: r.now()}
	log.Info("开始运行", slog.Int("tools", len(tools)), slog.Int("step_limit", compiled.StepLimit()))

	final, err := compiled.Stream(ctx, state.Initial(instructions), func(step graph.Step) error {
		result.Steps = step.Index
		logger.Audit().Info("运行步骤",
			slog.String("run_id", runID),
			slog.Int("step", step.Index),
			slog.String("node", string(step.Node)),
			slog.String("next", string(step.State.Next)),
			slog.Int("identified_leads", countIdentified(step.State.Leads)),
		)
		if r.observer != nil {
			r.observer(runID, step)
		}
		return nil
	})
	result.State = final
	result.FinishedAt = r.now()

	if err != nil {
		result.Aborted = true
		logger.Audit().Warn("运行中止",
			slog.String("run_id", runID),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Int("steps", result.Steps),
		)
		if stdErrors.Is(err, graph.ErrStepLimitExceeded) {
			log.Error("运行超过最大步数", slog.Int("steps", result.Steps))
		} else {
			log.Error("运行中止", slog.Any("error", err))
		}
		return result, err
	}

	logger.Audit().Info("运行完成",
		slog.String("run_id", runID),
		slog.Int("steps", result.Steps),
		slog.Int("leads", len(final.Leads)),
		slog.Int("identified_leads", countIdentified(final.Leads)),
		slog.Duration("duration", result.Duration()),
	)
	return result, nil
}

func (r *Runner) build(session automation.Session, tools []automation.Tool) (*graph.Compiled, error) {
	workerOpts := []worker.Option{
		worker.WithMaxIterations(r.cfg.WorkerIterations),
		worker.WithLLMTimeout(r.cfg.LLMTimeout),
	}
	sourcing, err := worker.New(worker.LeadSourcing, r.cfg.LLM, session, tools, workerOpts...)
	if err != nil {
		return nil, err
	}
	research, err := worker.New(worker.Research, r.cfg.LLM, session, tools, workerOpts...)
	if err != nil {
		return nil, err
	}

	supervisor, err := agent.NewSupervisor(r.cfg.LLM,
		agent.WithSupervisorPreamble(r.cfg.SupervisorPreamble),
		agent.WithSupervisorTimeout(r.cfg.LLMTimeout),
	)
	if err != nil {
		return nil, err
	}
	drafter, err := agent.NewEmailDrafter(r.cfg.LLM,
		agent.WithEmailPrompt(r.cfg.EmailPrompt),
		agent.WithEmailTimeout(r.cfg.LLMTimeout),
	)
	if err != nil {
		return nil, err
	}

	return graph.New().
		AddNode(state.Supervisor, supervisor).
		AddNode(state.LeadSourcing, agent.NewWorkerNode(state.LeadSourcing, sourcing)).
		AddNode(state.Research, agent.NewWorkerNode(state.Research, research)).
		AddNode(state.EmailDrafting, drafter).
		SetEntryPoint(state.Supervisor).
		AddConditionalEdges(state.Supervisor, graph.RouteByNext, map[state.NodeID]state.NodeID{
			state.LeadSourcing:  state.LeadSourcing,
			state.Research:      state.Research,
			state.EmailDrafting: state.EmailDrafting,
			state.End:           graph.End,
		}).
		AddEdge(state.LeadSourcing, state.Supervisor).
		AddEdge(state.Research, state.Supervisor).
		AddEdge(state.EmailDrafting, state.Supervisor).
		Compile(graph.WithStepLimit(r.cfg.StepLimit))
}

func countIdentified(leads []state.Lead) int {
	n := 0
	for _, lead := range leads {
		if lead.HasIdentity() {
			n++
		}
	}
	return n
}
