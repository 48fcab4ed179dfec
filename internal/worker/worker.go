// Package worker 实现由大模型驱动、通过自动化会话操作浏览器的任务型智能体。
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"LeadFlow/internal/automation"
	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/extract"
	"LeadFlow/internal/llm"
	"LeadFlow/internal/state"
	"LeadFlow/pkg/logger"
)

const (
	defaultMaxIterations = 25
	observationLimit     = 6000
)

// ToolAgent 以“思考-调用工具-观察”的循环完成一项任务，最终在对话记录末尾追加一条回复。
type ToolAgent struct {
	profile       Profile
	llmClient     llm.Client
	session       automation.Session
	tools         []automation.Tool
	maxIterations int
	log           *slog.Logger
}

// Option 定义可选的 ToolAgent 配置。
type Option func(*ToolAgent)

// WithMaxIterations 设置单次调用内最多执行的推理轮数。
func WithMaxIterations(n int) Option {
	return func(a *ToolAgent) {
		a.maxIterations = n
	}
}

// WithLLMTimeout 设置每轮推理调用的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *ToolAgent) {
		a.llmClient = llm.WithTimeout(a.llmClient, timeout)
	}
}

// New 创建一个 ToolAgent。tools 为会话中已加载的工具列表。
func New(profile Profile, client llm.Client, session automation.Session, tools []automation.Tool, opts ...Option) (*ToolAgent, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if session == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置自动化会话")
	}
	if strings.TrimSpace(profile.Name) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "智能体名称不能为空")
	}

	ag := &ToolAgent{
		profile:       profile,
		llmClient:     client,
		session:       session,
		tools:         append([]automation.Tool(nil), tools...),
		maxIterations: defaultMaxIterations,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	if ag.maxIterations <= 0 {
		ag.maxIterations = defaultMaxIterations
	}
	ag.log = logger.Named("worker").With(slog.String("agent", profile.Name))
	return ag, nil
}

// Name 返回智能体名称。
func (a *ToolAgent) Name() string { return a.profile.Name }

type step struct {
	Action    string          `json:"action"`
	Arguments map[string]any  `json:"arguments"`
	Final     json.RawMessage `json:"final"`
}

// Invoke 执行一次任务，返回在 transcript 末尾追加了最终回复的新切片。
// 后端调用失败时返回错误；工具调用失败会作为观察结果反馈给模型。
func (a *ToolAgent) Invoke(ctx context.Context, transcript []state.Message) ([]state.Message, error) {
	scratch := append([]state.Message(nil), transcript...)
	system := a.systemPrompt()

	for i := 1; i <= a.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := a.llmClient.Generate(ctx, llm.Request{System: system, Messages: scratch})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeBackendFailure, err, fmt.Sprintf("%s 推理失败", a.profile.Name))
		}

		action, args, final, done := parseStep(resp.Content)
		if done {
			a.log.Debug("任务完成", slog.Int("iterations", i))
			return state.Append(transcript, state.AssistantMessage(a.profile.Name, final)), nil
		}

		a.log.Debug("调用工具", slog.Int("iteration", i), slog.String("tool", action))
		observation := a.callTool(ctx, action, args)
		scratch = append(scratch,
			state.AssistantMessage(a.profile.Name, resp.Content),
			state.SystemMessage(observation),
		)
	}

	a.log.Warn("达到最大推理轮数", slog.Int("max_iterations", a.maxIterations))
	note := fmt.Sprintf("%s stopped after %d steps without a final answer.", a.profile.Name, a.maxIterations)
	return state.Append(transcript, state.AssistantMessage(a.profile.Name, note)), nil
}

func (a *ToolAgent) callTool(ctx context.Context, name string, args map[string]any) string {
	if len(a.tools) > 0 {
		tool, ok := automation.FindTool(a.tools, name)
		if !ok {
			return fmt.Sprintf("Tool %s does not exist. Available tools: %s", name, toolNames(a.tools))
		}
		name = tool.Name
	}

	output, err := a.session.Call(ctx, name, args)
	if err != nil {
		a.log.Warn("工具调用失败", slog.String("tool", name), slog.Any("error", err))
		return fmt.Sprintf("Tool %s failed: %v", name, err)
	}
	return fmt.Sprintf("Tool %s returned:\n%s", name, clip(output))
}

// parseStep 识别 {"action", "arguments"} 或 {"final"}；其他任何输出都视为最终回复。
func parseStep(content string) (action string, args map[string]any, final string, done bool) {
	var s step
	if err := json.Unmarshal([]byte(extract.ExtractJSON(content)), &s); err != nil {
		return "", nil, content, true
	}

	if raw := bytes.TrimSpace(s.Final); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			return "", nil, text, true
		}
		return "", nil, string(raw), true
	}

	if strings.TrimSpace(s.Action) == "" {
		return "", nil, content, true
	}
	return strings.TrimSpace(s.Action), s.Arguments, "", false
}

func toolNames(tools []automation.Tool) string {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	return strings.Join(names, ", ")
}

func clip(text string) string {
	runes := []rune(text)
	if len(runes) <= observationLimit {
		return text
	}
	return string(runes[:observationLimit]) + "\n[truncated]"
}
