package state

import (
	"strings"
)

// Role 标识一条消息的来源。
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// TranscriptCapacity 是工作节点与邮件节点执行后保留的最大消息数。
const TranscriptCapacity = 10

// Message 是对话记录中的一条消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Name 记录产生该消息的节点，可为空。
	Name string `json:"name,omitempty"`
}

// HumanMessage 构造一条用户消息。
func HumanMessage(content string) Message {
	return Message{Role: RoleHuman, Content: content}
}

// AssistantMessage 构造一条由指定节点产生的助手消息。
func AssistantMessage(name, content string) Message {
	return Message{Role: RoleAssistant, Content: content, Name: name}
}

// SystemMessage 构造一条系统消息。
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// Truncate 保留最新的 capacity 条消息，顺序不变。返回值不与入参共享底层数组。
func Truncate(msgs []Message, capacity int) []Message {
	if capacity < 0 {
		capacity = 0
	}
	start := 0
	if len(msgs) > capacity {
		start = len(msgs) - capacity
	}
	out := make([]Message, len(msgs)-start)
	copy(out, msgs[start:])
	return out
}

// Append 返回追加 msg 后的新切片，不修改 msgs 的底层数组。
func Append(msgs []Message, msg Message) []Message {
	out := make([]Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, msg)
}

// Render 把对话记录渲染成适合放入提示词的纯文本。
func Render(msgs []Message) string {
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteByte('[')
		b.WriteString(string(msg.Role))
		if msg.Name != "" {
			b.WriteByte(':')
			b.WriteString(msg.Name)
		}
		b.WriteString("] ")
		b.WriteString(msg.Content)
	}
	return b.String()
}
