package llm

import (
	"context"
	"time"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/state"
)

// Request 描述一次决策调用：系统提示词加上按时间顺序排列的消息。
type Request struct {
	System   string
	Messages []state.Message
}

// Response 是后端返回的原始文本，结构化解析由调用方完成。
type Response struct {
	Content string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc 让普通函数满足 Client 接口。
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Generate 实现 Client 接口。
func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// WithTimeout 为每次调用加上超时，超时会以 TIMEOUT 错误返回。d <= 0 时原样返回 client。
func WithTimeout(client Client, d time.Duration) Client {
	if d <= 0 || client == nil {
		return client
	}
	return ClientFunc(func(ctx context.Context, req Request) (*Response, error) {
		callCtx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		resp, err := client.Generate(callCtx, req)
		if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "调用大模型超时")
		}
		return resp, err
	})
}
