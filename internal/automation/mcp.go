package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	xerrors "LeadFlow/internal/errors"
)

// DefaultMCPEndpoint 是 Playwright MCP 服务默认的 streamable HTTP 地址。
const DefaultMCPEndpoint = "http://localhost:8931/mcp"

// MCPOpener 通过 Model Context Protocol 连接远端自动化服务。
type MCPOpener struct {
	Endpoint   string
	HTTPClient *http.Client
	// Transport 非空时优先使用，主要用于测试中的内存传输。
	Transport sdkmcp.Transport
}

// Open 建立一个 MCP 客户端会话。
func (o *MCPOpener) Open(ctx context.Context) (Session, error) {
	transport := o.Transport
	if transport == nil {
		endpoint := strings.TrimSpace(o.Endpoint)
		if endpoint == "" {
			endpoint = DefaultMCPEndpoint
		}
		transport = &sdkmcp.StreamableClientTransport{Endpoint: endpoint, HTTPClient: o.HTTPClient}
	}

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "leadflow", Version: "v1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 MCP 服务失败")
	}
	return &mcpSession{session: session}, nil
}

type mcpSession struct {
	session *sdkmcp.ClientSession
}

func (s *mcpSession) Tools(ctx context.Context) ([]Tool, error) {
	var tools []Tool
	params := &sdkmcp.ListToolsParams{}
	for {
		res, err := s.session.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("列出 MCP 工具失败: %w", err)
		}
		for _, tool := range res.Tools {
			if tool == nil {
				continue
			}
			entry := Tool{Name: tool.Name, Description: tool.Description}
			if tool.InputSchema != nil {
				if raw, err := json.Marshal(tool.InputSchema); err == nil {
					entry.InputSchema = raw
				}
			}
			tools = append(tools, entry)
		}
		if res.NextCursor == "" {
			return tools, nil
		}
		params = &sdkmcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

func (s *mcpSession) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	res, err := s.session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("调用 MCP 工具 %s 失败: %w", name, err)
	}

	text := renderContent(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return "", errors.New(text)
	}
	return text, nil
}

func (s *mcpSession) Close() error {
	return s.session.Close()
}

func renderContent(content []sdkmcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case *sdkmcp.TextContent:
			parts = append(parts, v.Text)
		case *sdkmcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s omitted]", v.MIMEType))
		default:
			parts = append(parts, "[non-text content omitted]")
		}
	}
	return strings.Join(parts, "\n")
}
