// Package extract 从模型的自由文本输出中提取结构化的路由决策。
//
// 提取分两步：ExtractJSON 做纯语法层面的截取，ParseDecision 做结构化解析。
// 两步都不会 panic，所有失败都以 error 返回，由调用方决定回退值。
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/state"
)

// ExtractJSON 返回从第一个 '{' 到最后一个 '}' 的子串；找不到时原样返回输入。
// 不校验括号是否配对。
func ExtractJSON(text string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			out = text
		}
	}()

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return text
	}
	end := strings.LastIndexByte(text, '}')
	if end < start {
		return text
	}
	return text[start : end+1]
}

// Decision 是一次后端输出解析后的结果。
type Decision struct {
	// Next 是解析后的下一个节点，未知取值已归一为 state.End。
	Next state.NodeID
	// RawNext 保留模型给出的原始取值，便于排查。
	RawNext string
	Message string
	Leads   []state.Lead
	// HasLeads 表示输出里确实带有 updated_state.information_list。
	HasLeads bool
}

type wireDecision struct {
	NextAgent    *string         `json:"next_agent"`
	Message      *string         `json:"message"`
	UpdatedState json.RawMessage `json:"updated_state"`
}

type wireUpdatedState struct {
	InformationList json.RawMessage `json:"information_list"`
}

// ParseDecision 解析 {next_agent, message, updated_state.information_list}。
// next_agent 缺失或为空时使用 fallbackNext。任何解析失败都返回 MALFORMED_RESPONSE 错误。
func ParseDecision(text string, fallbackNext state.NodeID) (decision Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			decision = Decision{}
			err = xerrors.New(xerrors.CodeMalformedResponse, fmt.Sprintf("解析决策时发生异常: %v", r))
		}
	}()

	span := bytes.TrimSpace([]byte(ExtractJSON(text)))
	if len(span) == 0 || span[0] != '{' {
		return Decision{}, xerrors.New(xerrors.CodeMalformedResponse, "输出中没有 JSON 对象")
	}

	var wire wireDecision
	if err := json.Unmarshal(span, &wire); err != nil {
		return Decision{}, xerrors.Wrap(xerrors.CodeMalformedResponse, err, "决策 JSON 无法解析")
	}

	decision.Next = fallbackNext
	if wire.NextAgent != nil && strings.TrimSpace(*wire.NextAgent) != "" {
		decision.RawNext = *wire.NextAgent
		decision.Next = state.ParseNodeID(*wire.NextAgent)
	}
	if wire.Message != nil {
		decision.Message = *wire.Message
	}

	leads, ok, err := parseUpdatedState(wire.UpdatedState)
	if err != nil {
		return Decision{}, err
	}
	decision.Leads = leads
	decision.HasLeads = ok
	return decision, nil
}

func parseUpdatedState(raw json.RawMessage) ([]state.Lead, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}

	list := raw
	if raw[0] == '{' {
		var updated wireUpdatedState
		if err := json.Unmarshal(raw, &updated); err != nil {
			return nil, false, xerrors.Wrap(xerrors.CodeMalformedResponse, err, "updated_state 不是合法对象")
		}
		list = bytes.TrimSpace(updated.InformationList)
		if len(list) == 0 || bytes.Equal(list, []byte("null")) {
			return nil, false, nil
		}
	}

	leads := []state.Lead{}
	if err := json.Unmarshal(list, &leads); err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeMalformedResponse, err, "information_list 无法解析")
	}
	return leads, true, nil
}
