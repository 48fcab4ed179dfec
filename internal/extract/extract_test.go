package extract

import (
	"testing"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/state"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"embedded", `Sure! Here you go: {"next_agent": "end"} Thanks.`, `{"next_agent": "end"}`},
		{"multiline", "```json\n{\n  \"a\": {\"b\": 1}\n}\n```", "{\n  \"a\": {\"b\": 1}\n}"},
		{"no open brace", `next_agent: end}`, `next_agent: end}`},
		{"no close brace", `{"next_agent": "end"`, `{"next_agent": "end"`},
		{"reversed", `} oops {`, `} oops {`},
		{"empty", ``, ``},
		{"greedy", `{"a":1} and {"b":2}`, `{"a":1} and {"b":2}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractJSON(tc.in); got != tc.want {
				t.Fatalf("ExtractJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseDecisionSuccess(t *testing.T) {
	text := `Routing now.
{"next_agent": "ResearchAgent", "message": "research the companies",
 "updated_state": {"information_list": [{"full_name": "A", "company_website": "https://a.example"}, {"name": "B"}]}}`

	decision, err := ParseDecision(text, state.End)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if decision.Next != state.Research || decision.RawNext != "ResearchAgent" {
		t.Fatalf("unexpected next: %+v", decision)
	}
	if decision.Message != "research the companies" {
		t.Fatalf("unexpected message: %q", decision.Message)
	}
	if !decision.HasLeads || len(decision.Leads) != 2 || decision.Leads[1].FullName != "B" {
		t.Fatalf("unexpected leads: %+v", decision.Leads)
	}
}

func TestParseDecisionDefaults(t *testing.T) {
	decision, err := ParseDecision(`{"message": "hello"}`, state.Supervisor)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if decision.Next != state.Supervisor {
		t.Fatalf("expected fallback next, got %s", decision.Next)
	}
	if decision.HasLeads || decision.Leads != nil {
		t.Fatalf("absent updated_state must not report leads")
	}

	decision, err = ParseDecision(`{"next_agent": "SalesAgent", "updated_state": {}}`, state.Supervisor)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if decision.Next != state.End || decision.RawNext != "SalesAgent" {
		t.Fatalf("unknown agent must resolve to end: %+v", decision)
	}
	if decision.HasLeads {
		t.Fatalf("updated_state without information_list must not report leads")
	}
}

func TestParseDecisionEmptyList(t *testing.T) {
	decision, err := ParseDecision(`{"updated_state": {"information_list": []}}`, state.End)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !decision.HasLeads || decision.Leads == nil || len(decision.Leads) != 0 {
		t.Fatalf("empty list must be reported as present and empty: %+v", decision)
	}
}

func TestParseDecisionFailures(t *testing.T) {
	inputs := []string{
		``,
		`no json here`,
		`{"next_agent": "end"`,
		`{"next_agent": 3}`,
		`{"message": ["a"]}`,
		`{"updated_state": {"information_list": "five leads"}}`,
		`{"updated_state": {"information_list": [1, 2]}}`,
		`{"updated_state": "done"}`,
	}
	for _, in := range inputs {
		_, err := ParseDecision(in, state.End)
		if err == nil {
			t.Fatalf("expected error for %q", in)
		}
		if !xerrors.HasCode(err, xerrors.CodeMalformedResponse) {
			t.Fatalf("expected malformed response code for %q, got %v", in, err)
		}
	}
}
