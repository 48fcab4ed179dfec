package worker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"LeadFlow/internal/automation"
	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/llm"
	"LeadFlow/internal/state"
)

type scriptedLLM struct {
	replies  []string
	err      error
	requests []llm.Request
}

func (s *scriptedLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		return &llm.Response{Content: `{"action": "browser_snapshot", "arguments": {}}`}, nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return &llm.Response{Content: reply}, nil
}

type recordingSession struct {
	calls []string
	fail  map[string]error
}

func (s *recordingSession) Tools(context.Context) ([]automation.Tool, error) { return nil, nil }

func (s *recordingSession) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	s.calls = append(s.calls, name)
	if err := s.fail[name]; err != nil {
		return "", err
	}
	return "ok:" + name, nil
}

func (s *recordingSession) Close() error { return nil }

var browserTools = []automation.Tool{
	{Name: "browser_navigate", Description: "open url"},
	{Name: "browser_snapshot", Description: "read page"},
}

func TestInvokeRunsToolsUntilFinal(t *testing.T) {
	backend := &scriptedLLM{replies: []string{
		`{"action": "browser_navigate", "arguments": {"url": "https://app.apollo.io"}}`,
		`I will take a snapshot now. {"action": "Browser_Snapshot"}`,
		`{"final": "found 5 leads"}`,
	}}
	session := &recordingSession{}
	ag, err := New(LeadSourcing, backend, session, browserTools)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	transcript := []state.Message{state.HumanMessage("find leads")}
	out, err := ag.Invoke(context.Background(), transcript)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	if len(out) != 2 || out[1].Content != "found 5 leads" || out[1].Name != "ApolloAgent" || out[1].Role != state.RoleAssistant {
		t.Fatalf("unexpected transcript: %+v", out)
	}
	if len(transcript) != 1 {
		t.Fatalf("input transcript must not be modified")
	}
	if strings.Join(session.calls, ",") != "browser_navigate,browser_snapshot" {
		t.Fatalf("unexpected tool calls: %v", session.calls)
	}

	last := backend.requests[2]
	if len(last.Messages) != 5 {
		t.Fatalf("expected instruction + 2 rounds of action/observation, got %d", len(last.Messages))
	}
	if last.Messages[4].Role != state.RoleSystem || !strings.Contains(last.Messages[4].Content, "ok:browser_snapshot") {
		t.Fatalf("observation missing: %+v", last.Messages[4])
	}
	if !strings.Contains(last.System, "browser_navigate: open url") {
		t.Fatalf("tool catalogue missing from system prompt")
	}
}

func TestInvokeTreatsPlainTextAsFinal(t *testing.T) {
	reply := `{"next_agent": "supervisor", "message": "done", "updated_state": {"information_list": []}}`
	ag, err := New(Research, &scriptedLLM{replies: []string{reply}}, &recordingSession{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := ag.Invoke(context.Background(), []state.Message{state.HumanMessage("research")})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out[len(out)-1].Content != reply {
		t.Fatalf("expected raw reply as final answer, got %q", out[len(out)-1].Content)
	}
}

func TestInvokeFinalObjectIsKeptAsJSON(t *testing.T) {
	ag, _ := New(Research, &scriptedLLM{replies: []string{`{"final": {"message": "done"}}`}}, &recordingSession{}, nil)
	out, err := ag.Invoke(context.Background(), nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out[0].Content != `{"message": "done"}` {
		t.Fatalf("unexpected final: %q", out[0].Content)
	}
}

func TestInvokeFeedsToolErrorsBack(t *testing.T) {
	backend := &scriptedLLM{replies: []string{
		`{"action": "browser_navigate", "arguments": {"url": "https://down.example"}}`,
		`{"action": "browser_fly"}`,
		`{"final": "site inaccessible"}`,
	}}
	session := &recordingSession{fail: map[string]error{"browser_navigate": errors.New("net::ERR_NAME_NOT_RESOLVED")}}
	ag, _ := New(Research, backend, session, browserTools)

	out, err := ag.Invoke(context.Background(), []state.Message{state.HumanMessage("research")})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out[1].Content != "site inaccessible" {
		t.Fatalf("unexpected final: %q", out[1].Content)
	}
	observations := backend.requests[2].Messages
	if !strings.Contains(observations[2].Content, "ERR_NAME_NOT_RESOLVED") {
		t.Fatalf("tool error must be reported to the model: %q", observations[2].Content)
	}
	if !strings.Contains(observations[4].Content, "does not exist") {
		t.Fatalf("unknown tool must be reported to the model: %q", observations[4].Content)
	}
	if len(session.calls) != 1 {
		t.Fatalf("unknown tools must not reach the session: %v", session.calls)
	}
}

func TestInvokeStopsAtIterationLimit(t *testing.T) {
	session := &recordingSession{}
	ag, _ := New(LeadSourcing, &scriptedLLM{}, session, browserTools, WithMaxIterations(3))

	out, err := ag.Invoke(context.Background(), []state.Message{state.HumanMessage("loop")})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if len(session.calls) != 3 {
		t.Fatalf("expected 3 tool calls, got %d", len(session.calls))
	}
	if !strings.Contains(out[1].Content, "stopped after 3 steps") {
		t.Fatalf("unexpected note: %q", out[1].Content)
	}
}

func TestInvokeBackendFailure(t *testing.T) {
	ag, _ := New(LeadSourcing, &scriptedLLM{err: errors.New("503")}, &recordingSession{}, nil)
	_, err := ag.Invoke(context.Background(), []state.Message{state.HumanMessage("x")})
	if !xerrors.HasCode(err, xerrors.CodeBackendFailure) {
		t.Fatalf("expected backend failure, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(LeadSourcing, nil, &recordingSession{}, nil); err == nil {
		t.Fatalf("expected error without llm client")
	}
	if _, err := New(LeadSourcing, &scriptedLLM{}, nil, nil); err == nil {
		t.Fatalf("expected error without session")
	}
	if _, err := New(Profile{}, &scriptedLLM{}, &recordingSession{}, nil); err == nil {
		t.Fatalf("expected error without name")
	}
}
