package agent

import (
	"context"
	"fmt"
	"log/slog"

	"LeadFlow/internal/state"
	"LeadFlow/pkg/logger"
)

// Worker 是可被编排的任务型智能体：接收对话记录，返回追加了一条消息的对话记录。
type Worker interface {
	Invoke(ctx context.Context, transcript []state.Message) ([]state.Message, error)
}

// WorkerFunc 让普通函数满足 Worker 接口。
type WorkerFunc func(ctx context.Context, transcript []state.Message) ([]state.Message, error)

// Invoke 实现 Worker 接口。
func (f WorkerFunc) Invoke(ctx context.Context, transcript []state.Message) ([]state.Message, error) {
	return f(ctx, transcript)
}

// WorkerNode 把任意 Worker 适配为编排图节点。
//
// 它只追加 Worker 的最后一条消息，不解析其中的结构化结果，线索列表原样透传；
// 记录的更新由 Supervisor 在下一轮从对话记录中提取。
type WorkerNode struct {
	name   state.NodeID
	worker Worker
	log    *slog.Logger
}

// NewWorkerNode 创建一个工作节点。
func NewWorkerNode(name state.NodeID, worker Worker) *WorkerNode {
	return &WorkerNode{
		name:   name,
		worker: worker,
		log:    logger.Named("worker_node").With(slog.String("node", string(name))),
	}
}

// Run 执行一步。无论成功与否都路由回 Supervisor。
func (n *WorkerNode) Run(ctx context.Context, s state.State) (state.State, error) {
	msg, err := n.invoke(ctx, s.Transcript)
	if err != nil {
		n.log.Error("智能体执行失败", slog.Any("error", err))
		msg = state.AssistantMessage(string(n.name), FailureMarker)
	}

	return state.State{
		Transcript: state.Truncate(state.Append(s.Transcript, msg), state.TranscriptCapacity),
		Next:       state.Supervisor,
		Leads:      state.CloneLeads(s.Leads),
	}, nil
}

func (n *WorkerNode) invoke(ctx context.Context, transcript []state.Message) (msg state.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("智能体发生 panic: %v", r)
		}
	}()

	if n.worker == nil {
		return state.Message{}, fmt.Errorf("节点 %s 未配置智能体", n.name)
	}
	out, err := n.worker.Invoke(ctx, append([]state.Message(nil), transcript...))
	if err != nil {
		return state.Message{}, err
	}
	if len(out) == 0 {
		return state.Message{}, fmt.Errorf("智能体没有返回任何消息")
	}
	return out[len(out)-1], nil
}
