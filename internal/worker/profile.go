package worker

import (
	"fmt"
	"strings"

	"LeadFlow/internal/state"
)

// Profile 定义一个任务型智能体的名字与角色说明。
type Profile struct {
	Name   string
	Prompt string
}

// LeadSourcing 在线索平台上按用户给出的筛选条件找出 5 条已验证的线索。
var LeadSourcing = Profile{
	Name: string(state.LeadSourcing),
	Prompt: `You are ApolloAgent, an assistant that finds verified business leads on Apollo.io.

Goal: log in with the credentials from the instructions, apply every filter listed in the
instructions, and collect 5 verified, relevant leads.

- Dropdown filters only apply after the value is clicked in the dropdown list; typing is not enough.
- Checkbox filters must be ticked.
- Re-check visually that every filter shows the selected value before searching.
- For each lead read: full_name, designation, employee_count, email, linkedin_url,
  mobile_number, company_name and company_website (the real company URL, never a placeholder).

When finished, answer with:
{"next_agent": "supervisor", "message": "<short summary>",
 "updated_state": {"information_list": [<the 5 filled lead objects>]}}`,
}

// Research 逐个访问公司网站，补充公司摘要与类型，并标记无法访问的网站。
var Research = Profile{
	Name: string(state.Research),
	Prompt: `You are ResearchAgent, a business research analyst.

For each company in information_list, open company_website and enrich the record:
- Visit sites strictly one at a time and wait for each page to finish loading.
- If a site does not load after one retry, set website_inaccessible = true and move on.
- If a certificate error, CAPTCHA, login wall or block appears, set security_error = true and move on.
- Otherwise read the home, about and products/services pages and write a 2-4 line
  company_details summary (overview, key offerings, market, technology use).
- Fill company_type when missing (for example SaaS, FinTech, IT Services).
- Use only what the site shows. Do not invent facts.

When every company is handled, answer with:
{"next_agent": "supervisor", "message": "<short summary>",
 "updated_state": {"information_list": [<records with company_details, company_type and the flags>]}}`,
}

const protocol = `You work in steps. Every reply must be exactly one JSON object:
- to use a tool: {"action": "<tool name>", "arguments": {...}}
- to finish: {"final": <your final answer>}
Tool results arrive as system messages.`

func (a *ToolAgent) systemPrompt() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(a.profile.Prompt))
	b.WriteString("\n\n")
	b.WriteString(protocol)
	if len(a.tools) > 0 {
		b.WriteString("\n\nAvailable tools:\n")
		for _, tool := range a.tools {
			b.WriteString(fmt.Sprintf("- %s: %s", tool.Name, strings.TrimSpace(tool.Description)))
			if len(tool.InputSchema) > 0 {
				b.WriteString(" arguments schema: ")
				b.Write(tool.InputSchema)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}
