// Package automation 提供浏览器自动化后端的会话抽象。
//
// 一次运行只打开一个 Session，在整个运行期间按顺序复用，结束时无论成功与否都要 Close。
package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	xerrors "LeadFlow/internal/errors"
)

// Tool 描述会话暴露的一个工具。
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Session 是长生命周期的自动化会话。
type Session interface {
	Tools(ctx context.Context) ([]Tool, error)
	Call(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

// Opener 负责获取一个新的会话。
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// OpenerFunc 让普通函数满足 Opener 接口。
type OpenerFunc func(ctx context.Context) (Session, error)

// Open 实现 Opener 接口。
func (f OpenerFunc) Open(ctx context.Context) (Session, error) {
	return f(ctx)
}

// WithCallTimeout 为每次工具调用加上超时。d <= 0 时原样返回。
func WithCallTimeout(session Session, d time.Duration) Session {
	if d <= 0 || session == nil {
		return session
	}
	return &timedSession{Session: session, timeout: d}
}

type timedSession struct {
	Session
	timeout time.Duration
}

func (s *timedSession) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.Session.Call(callCtx, name, args)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return "", xerrors.Wrap(xerrors.CodeTimeout, err, fmt.Sprintf("工具 %s 调用超时", name))
	}
	return out, err
}

// FindTool 按名字查找工具，忽略大小写。
func FindTool(tools []Tool, name string) (Tool, bool) {
	for _, tool := range tools {
		if strings.EqualFold(tool.Name, name) {
			return tool, true
		}
	}
	return Tool{}, false
}
