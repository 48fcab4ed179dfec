package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/extract"
	"LeadFlow/internal/llm"
	"LeadFlow/internal/state"
	"LeadFlow/pkg/logger"
)

// Supervisor 是路由节点：每一步询问决策后端下一个执行的节点，并用后端给出的列表替换线索记录。
type Supervisor struct {
	llmClient llm.Client
	preamble  string
	log       *slog.Logger
}

// SupervisorOption 定义可选的 Supervisor 配置。
type SupervisorOption func(*Supervisor)

// WithSupervisorPreamble 替换默认的角色说明。
func WithSupervisorPreamble(preamble string) SupervisorOption {
	return func(s *Supervisor) {
		if strings.TrimSpace(preamble) != "" {
			s.preamble = preamble
		}
	}
}

// WithSupervisorTimeout 设置单次决策调用的超时时间，超时按后端失败处理。
func WithSupervisorTimeout(timeout time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.llmClient = llm.WithTimeout(s.llmClient, timeout)
	}
}

// NewSupervisor 创建路由节点。
func NewSupervisor(client llm.Client, opts ...SupervisorOption) (*Supervisor, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	s := &Supervisor{
		llmClient: client,
		preamble:  defaultSupervisorPreamble,
		log:       logger.Named("supervisor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Run 执行一次路由决策。
//
// 后端失败：路由到 End，对话与记录不变。解析失败：路由到 End，追加固定诊断信息，记录不变。
// 状态缺少对话或记录：返回空对话、End 与空记录。本节点不截断对话记录。
func (s *Supervisor) Run(ctx context.Context, st state.State) (state.State, error) {
	if !st.WellFormed() {
		s.log.Error("共享状态缺少必要字段", slog.Bool("has_transcript", st.Transcript != nil), slog.Bool("has_leads", st.Leads != nil))
		return state.State{Transcript: []state.Message{}, Next: state.End, Leads: []state.Lead{}}, nil
	}

	resp, err := s.llmClient.Generate(ctx, llm.Request{
		System:   s.preamble,
		Messages: []state.Message{state.HumanMessage(renderUpdate(st))},
	})
	if err != nil {
		s.log.Error("决策后端调用失败", slog.Any("error", xerrors.Wrap(xerrors.CodeBackendFailure, err, "")))
		out := st.Clone()
		out.Next = state.End
		return out, nil
	}

	next := state.End
	message := ParseFailureMessage
	leads := st.Leads

	decision, err := extract.ParseDecision(resp.Content, state.End)
	if err != nil {
		s.log.Warn("无法解析决策输出", slog.Any("error", err), slog.String("content", preview(resp.Content)))
	} else {
		next = decision.Next
		message = decision.Message
		if decision.HasLeads {
			leads = decision.Leads
		}
		s.log.Info("路由决策", slog.String("next", string(next)), slog.String("raw_next", decision.RawNext), slog.Bool("updated_leads", decision.HasLeads))
	}

	return state.State{
		Transcript: state.Append(st.Transcript, state.AssistantMessage(string(state.Supervisor), message)),
		Next:       next,
		Leads:      state.CloneLeads(leads),
	}, nil
}

// renderUpdate 渲染最近的对话与当前线索列表，供后端生成完整的替换列表。
func renderUpdate(st state.State) string {
	var b strings.Builder
	b.WriteString("Last agent update:\n")
	b.WriteString(state.Render(st.Transcript))
	b.WriteString("\n\nCurrent information_list:\n")
	b.WriteString(encodeLeads(st.Leads))
	return b.String()
}

func encodeLeads(leads []state.Lead) string {
	if leads == nil {
		leads = []state.Lead{}
	}
	data, err := json.MarshalIndent(leads, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) > 200 {
		return string(runes[:200]) + "..."
	}
	return text
}
