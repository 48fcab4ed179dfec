// Package openai 实现 Chat Completions 兼容接口的决策后端。
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/llm"
	"LeadFlow/internal/state"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModelName   = "gpt-4o-mini"
	defaultTimeout     = 120 * time.Second
	defaultTemperature = 0.2

	// 接口对 name 字段的长度上限。
	maxNameLength = 64
	// 错误响应体最多读取的字节数。
	maxErrorBody = 4096
)

// Config 描述了调用 Chat Completions 接口所需的信息。Temperature 为 nil 时取 0.2。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature *float64
}

// Client 是 llm.Client 的 HTTP 实现。
type Client struct {
	apiKey      string
	endpoint    string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewClient 校验 API Key 并填充默认值。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供 OpenAI API Key")
	}
	c := &Client{
		apiKey:      apiKey,
		endpoint:    strings.TrimRight(orDefault(cfg.BaseURL, defaultBaseURL), "/") + "/chat/completions",
		model:       orDefault(cfg.Model, defaultModelName),
		temperature: defaultTemperature,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
	if cfg.Timeout > 0 {
		c.httpClient.Timeout = cfg.Timeout
	}
	if cfg.Temperature != nil {
		c.temperature = *cfg.Temperature
	}
	return c, nil
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// apiError 是接口在非 2xx 时返回的错误信封。
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Generate 发送一次 chat completion 请求并返回首个 choice 的文本（去掉首尾空白）。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.Messages) == 0 && strings.TrimSpace(req.System) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "请求中没有任何消息")
	}
	body, err := json.Marshal(chatRequest{Model: c.model, Messages: toChatMessages(req), Temperature: c.temperature})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码 OpenAI 请求失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建 OpenAI 请求失败")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBackendFailure, err, "请求 OpenAI 失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, statusError(resp)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedResponse, err, "解析 OpenAI 响应失败")
	}
	if len(decoded.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeMalformedResponse, "OpenAI 响应中没有 choices")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, xerrors.New(xerrors.CodeMalformedResponse, "OpenAI 响应内容为空",
			xerrors.WithMetadata("finish_reason", decoded.Choices[0].FinishReason))
	}
	return &llm.Response{Content: content}, nil
}

// statusError 把非 2xx 响应转换为错误。401/403 视为配置问题不可重试，429 与 5xx 可重试。
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	detail := strings.TrimSpace(string(raw))
	var envelope apiError
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		detail = envelope.Error.Message
	}

	msg := fmt.Sprintf("OpenAI 返回 %d: %s", resp.StatusCode, detail)
	status := xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode))
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return xerrors.New(xerrors.CodeSetupFailure, msg, status)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= http.StatusInternalServerError:
		return xerrors.New(xerrors.CodeBackendFailure, msg, status, xerrors.WithRetryable(true))
	default:
		return xerrors.New(xerrors.CodeBackendFailure, msg, status, xerrors.WithRetryable(false))
	}
}

func toChatMessages(req llm.Request) []chatMessage {
	out := make([]chatMessage, 0, len(req.Messages)+1)
	if system := strings.TrimSpace(req.System); system != "" {
		out = append(out, chatMessage{Role: "system", Content: system})
	}
	for _, msg := range req.Messages {
		out = append(out, chatMessage{Role: chatRole(msg.Role), Content: msg.Content, Name: sanitizeName(msg.Name)})
	}
	return out
}

func chatRole(role state.Role) string {
	switch role {
	case state.RoleAssistant:
		return "assistant"
	case state.RoleSystem:
		return "system"
	default:
		return "user"
	}
}

// sanitizeName 只保留接口允许的字符：ASCII 字母、数字、下划线与连字符。
func sanitizeName(name string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9', r == '_', r == '-':
			return r
		}
		return -1
	}, name)
	return out[:min(len(out), maxNameLength)]
}
