package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/extract"
	"LeadFlow/internal/llm"
	"LeadFlow/internal/state"
	"LeadFlow/pkg/logger"
)

// EmailDrafter 为已完成调研且网站可访问的线索撰写外联邮件，并直接改写线索列表。
type EmailDrafter struct {
	llmClient llm.Client
	prompt    string
	log       *slog.Logger
}

// EmailOption 定义可选的 EmailDrafter 配置。
type EmailOption func(*EmailDrafter)

// WithEmailPrompt 替换默认的邮件撰写说明。
func WithEmailPrompt(prompt string) EmailOption {
	return func(e *EmailDrafter) {
		if strings.TrimSpace(prompt) != "" {
			e.prompt = prompt
		}
	}
}

// WithEmailTimeout 设置后端调用的超时时间。
func WithEmailTimeout(timeout time.Duration) EmailOption {
	return func(e *EmailDrafter) {
		e.llmClient = llm.WithTimeout(e.llmClient, timeout)
	}
}

// NewEmailDrafter 创建邮件节点。
func NewEmailDrafter(client llm.Client, opts ...EmailOption) (*EmailDrafter, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	e := &EmailDrafter{
		llmClient: client,
		prompt:    defaultEmailPrompt,
		log:       logger.Named("email_drafter"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// Run 执行一步。该节点从不负责结束运行：后端失败或解析失败时都路由回 Supervisor。
func (e *EmailDrafter) Run(ctx context.Context, st state.State) (state.State, error) {
	if !st.WellFormed() {
		e.log.Error("共享状态缺少必要字段")
		return state.State{Transcript: []state.Message{}, Next: state.Supervisor, Leads: []state.Lead{}}, nil
	}

	prompt := e.prompt + "\n\ninformation_list:\n" + encodeLeads(st.Leads)
	resp, err := e.llmClient.Generate(ctx, llm.Request{
		Messages: state.Append(st.Transcript, state.HumanMessage(prompt)),
	})
	if err != nil {
		e.log.Error("邮件后端调用失败", slog.Any("error", xerrors.Wrap(xerrors.CodeBackendFailure, err, "")))
		out := st.Clone()
		out.Next = state.Supervisor
		return out, nil
	}

	leads := st.Leads
	decision, err := extract.ParseDecision(resp.Content, state.Supervisor)
	if err != nil {
		e.log.Warn("无法解析邮件输出，保留原有记录", slog.Any("error", err))
	} else {
		if decision.Next != state.Supervisor {
			e.log.Warn("忽略邮件节点给出的路由", slog.String("next_agent", string(decision.Next)))
		}
		if decision.HasLeads {
			leads = decision.Leads
		}
	}

	drafted := 0
	for _, lead := range leads {
		if lead.EmailBody != "" {
			drafted++
		}
	}
	e.log.Info("邮件撰写完成", slog.Int("drafted", drafted), slog.Int("leads", len(leads)))

	transcript := state.Append(st.Transcript, state.AssistantMessage(string(state.EmailDrafting), resp.Content))
	return state.State{
		Transcript: state.Truncate(transcript, state.TranscriptCapacity),
		Next:       state.Supervisor,
		Leads:      state.CloneLeads(leads),
	}, nil
}
