package state

import "strings"

// NodeID 是编排图中节点的名字，取值为封闭集合。
type NodeID string

const (
	Supervisor    NodeID = "supervisor"
	LeadSourcing  NodeID = "ApolloAgent"
	Research      NodeID = "ResearchAgent"
	EmailDrafting NodeID = "EmailGenerator"
	// End 是终止哨兵。
	End NodeID = "end"
)

var knownNodes = []NodeID{Supervisor, LeadSourcing, Research, EmailDrafting, End}

// LookupNodeID 忽略大小写匹配节点名，ok 表示是否命中已知节点。
func LookupNodeID(value string) (NodeID, bool) {
	value = strings.TrimSpace(value)
	for _, id := range knownNodes {
		if strings.EqualFold(value, string(id)) {
			return id, true
		}
	}
	return End, false
}

// ParseNodeID 将任意字符串解析为节点名，无法识别时返回 End。
func ParseNodeID(value string) NodeID {
	id, _ := LookupNodeID(value)
	return id
}

func (id NodeID) String() string { return string(id) }
