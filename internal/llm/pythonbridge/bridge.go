// Package pythonbridge 通过子进程调用本地脚本完成决策推理。
//
// 协议：脚本从 stdin 读取一个 JSON 对象 {"system", "messages", "timestamp"}，
// 向 stdout 写出 {"content": "..."} 或 {"error": "..."}。stdout 不是 JSON 时，
// 整段输出视为回复文本。
package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/llm"
	"LeadFlow/internal/state"
)

const (
	defaultInterpreter = "python3"
	// stderr 只保留末尾这么多字节写进错误信息。
	stderrTail = 2048
)

// Client 每次 Generate 启动一个新的脚本进程。
type Client struct {
	interpreter string
	script      string
	dir         string
}

// NewClient 创建客户端。interpreter 为空时使用 python3，dir 为空时继承当前目录。
func NewClient(interpreter, script, dir string) (*Client, error) {
	if strings.TrimSpace(script) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未指定 Python 脚本路径")
	}
	if interpreter == "" {
		interpreter = defaultInterpreter
	}
	return &Client{interpreter: interpreter, script: script, dir: dir}, nil
}

type scriptInput struct {
	System    string          `json:"system"`
	Messages  []state.Message `json:"messages"`
	Timestamp int64           `json:"timestamp"`
}

type scriptOutput struct {
	Content *string `json:"content"`
	Error   string  `json:"error"`
}

// Generate 运行脚本并返回其回复。ctx 取消会终止子进程。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	stdin, err := json.Marshal(scriptInput{System: req.System, Messages: req.Messages, Timestamp: time.Now().Unix()})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码脚本输入失败")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.interpreter, c.script)
	cmd.Dir = c.dir
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout, cmd.Stderr = &stdout, &stderr

	if err := cmd.Run(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendFailure, err, "Python 脚本执行失败",
			xerrors.WithMetadata("script", c.script),
			xerrors.WithMetadata("stderr", tail(stderr.Bytes(), stderrTail)),
		)
	}

	raw := bytes.TrimSpace(stdout.Bytes())
	if len(raw) == 0 {
		return nil, xerrors.New(xerrors.CodeBackendFailure, "Python 脚本没有输出", xerrors.WithMetadata("script", c.script))
	}

	var out scriptOutput
	if json.Unmarshal(raw, &out) != nil {
		return &llm.Response{Content: string(raw)}, nil
	}
	switch {
	case out.Error != "":
		return nil, xerrors.New(xerrors.CodeBackendFailure, "Python 脚本返回错误: "+out.Error)
	case out.Content != nil:
		return &llm.Response{Content: *out.Content}, nil
	default:
		return &llm.Response{Content: string(raw)}, nil
	}
}

func tail(b []byte, n int) string {
	b = bytes.TrimSpace(b)
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}

// ResolveScriptPath 把相对脚本路径解析到 baseDir 之下，绝对路径与空 baseDir 原样返回。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" || baseDir == "" || filepath.IsAbs(script) {
		return script
	}
	return filepath.Join(baseDir, script)
}
