package state

// State 是在每一步之间传递的共享编排状态。同一时刻只有一个节点持有它。
type State struct {
	Transcript []Message `json:"transcript"`
	Next       NodeID    `json:"next"`
	Leads      []Lead    `json:"leads"`
}

// Initial 构造一次运行的初始状态：一条用户指令、路由到 Supervisor、5 条空记录。
func Initial(instructions string) State {
	return State{
		Transcript: []Message{HumanMessage(instructions)},
		Next:       Supervisor,
		Leads:      NewLeadList(TargetLeadCount),
	}
}

// WellFormed 判断状态是否包含对话记录与线索列表两个必需部分。
func (s State) WellFormed() bool {
	return s.Transcript != nil && s.Leads != nil
}

// Clone 深拷贝状态，nil 切片保持为 nil。
func (s State) Clone() State {
	out := State{Next: s.Next}
	if s.Transcript != nil {
		out.Transcript = make([]Message, len(s.Transcript))
		copy(out.Transcript, s.Transcript)
	}
	out.Leads = CloneLeads(s.Leads)
	return out
}

// CloneLeads 复制线索列表，nil 保持为 nil。
func CloneLeads(leads []Lead) []Lead {
	if leads == nil {
		return nil
	}
	out := make([]Lead, len(leads))
	copy(out, leads)
	return out
}
