package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"LeadFlow/internal/llm"
	"LeadFlow/internal/state"
)

type stubLLM struct {
	content string
	err     error
	last    llm.Request
	calls   int
}

func (s *stubLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.calls++
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.content}, nil
}

func transcriptOf(n int) []state.Message {
	msgs := make([]state.Message, n)
	for i := range msgs {
		msgs[i] = state.HumanMessage(fmt.Sprintf("m%d", i))
	}
	return msgs
}

func TestSupervisorRoutesAndReplacesLeads(t *testing.T) {
	backend := &stubLLM{content: `Decision:
{"next_agent": "ResearchAgent", "message": "Research the five companies.",
 "updated_state": {"information_list": [{"full_name": "Ada", "company_website": "https://a.example"}]}}`}
	sup, err := NewSupervisor(backend)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	in := state.Initial("find leads")
	in.Leads[0].FullName = "previous"
	out, err := sup.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if out.Next != state.Research {
		t.Fatalf("unexpected next: %s", out.Next)
	}
	want := []state.Lead{{FullName: "Ada", CompanyWebsite: "https://a.example"}}
	if diff := cmp.Diff(want, out.Leads); diff != "" {
		t.Fatalf("leads mismatch (-want +got):\n%s", diff)
	}
	last := out.Transcript[len(out.Transcript)-1]
	if last.Role != state.RoleAssistant || last.Content != "Research the five companies." {
		t.Fatalf("unexpected appended message: %+v", last)
	}
	if len(in.Transcript) != 1 {
		t.Fatalf("input transcript must not be modified")
	}

	prompt := backend.last.Messages[0].Content
	if backend.last.System == "" || !strings.Contains(prompt, "find leads") || !strings.Contains(prompt, `"full_name": "previous"`) {
		t.Fatalf("request must carry preamble, transcript and current leads: %q", prompt)
	}
}

func TestSupervisorParseFailureKeepsLeads(t *testing.T) {
	sup, _ := NewSupervisor(&stubLLM{content: `{"next_agent": "ResearchAgent", "updated_state": {"information_list": "oops"}}`})

	in := state.Initial("find leads")
	in.Leads[2].CompanyName = "Kept Ltd"
	out, err := sup.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if out.Next != state.End {
		t.Fatalf("parse failure must end the run, got %s", out.Next)
	}
	if diff := cmp.Diff(in.Leads, out.Leads); diff != "" {
		t.Fatalf("leads must be unchanged (-want +got):\n%s", diff)
	}
	if out.Transcript[len(out.Transcript)-1].Content != ParseFailureMessage {
		t.Fatalf("diagnostic message missing: %+v", out.Transcript)
	}
}

func TestSupervisorBackendFailureEnds(t *testing.T) {
	sup, _ := NewSupervisor(&stubLLM{err: errors.New("connection refused")})

	in := state.Initial("find leads")
	out, err := sup.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Next != state.End {
		t.Fatalf("backend failure must end the run, got %s", out.Next)
	}
	if diff := cmp.Diff(in.Transcript, out.Transcript); diff != "" {
		t.Fatalf("transcript must be unchanged (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(in.Leads, out.Leads); diff != "" {
		t.Fatalf("leads must be unchanged (-want +got):\n%s", diff)
	}
}

func TestSupervisorDefaultsAndNoTruncation(t *testing.T) {
	sup, _ := NewSupervisor(&stubLLM{content: `{"message": "thinking"}`})

	in := state.State{Transcript: transcriptOf(12), Next: state.Supervisor, Leads: state.NewLeadList(5)}
	in.Leads[4].Email = "kept@example.com"
	out, _ := sup.Run(context.Background(), in)

	if out.Next != state.End {
		t.Fatalf("absent next_agent must default to end, got %s", out.Next)
	}
	if len(out.Transcript) != 13 {
		t.Fatalf("supervisor must not truncate, got %d messages", len(out.Transcript))
	}
	if out.Leads[4].Email != "kept@example.com" {
		t.Fatalf("absent updated_state must keep prior leads")
	}
}

func TestSupervisorUnknownAgentEnds(t *testing.T) {
	sup, _ := NewSupervisor(&stubLLM{content: `{"next_agent": "SalesAgent", "message": "call them"}`})
	out, _ := sup.Run(context.Background(), state.Initial("x"))
	if out.Next != state.End {
		t.Fatalf("unknown agent must resolve to end, got %s", out.Next)
	}
}

func TestSupervisorMalformedState(t *testing.T) {
	backend := &stubLLM{content: `{"next_agent": "ApolloAgent"}`}
	sup, _ := NewSupervisor(backend)

	out, err := sup.Run(context.Background(), state.State{Next: state.Supervisor})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Next != state.End || out.Transcript == nil || len(out.Transcript) != 0 || out.Leads == nil || len(out.Leads) != 0 {
		t.Fatalf("unexpected state for malformed input: %+v", out)
	}
	if backend.calls != 0 {
		t.Fatalf("backend must not be called for malformed state")
	}
}

func TestNewSupervisorRequiresClient(t *testing.T) {
	if _, err := NewSupervisor(nil); err == nil {
		t.Fatalf("expected error without client")
	}
	if _, err := NewEmailDrafter(nil); err == nil {
		t.Fatalf("expected error without client")
	}
}

func TestWorkerNodeAppendsLastMessage(t *testing.T) {
	worker := WorkerFunc(func(ctx context.Context, transcript []state.Message) ([]state.Message, error) {
		return append(transcript,
			state.AssistantMessage("ApolloAgent", "scratch"),
			state.AssistantMessage("ApolloAgent", `{"updated_state": {"information_list": [{"full_name": "X"}]}}`),
		), nil
	})
	node := NewWorkerNode(state.LeadSourcing, worker)

	in := state.Initial("find leads")
	in.Next = state.LeadSourcing
	out, err := node.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if out.Next != state.Supervisor {
		t.Fatalf("worker node must route to supervisor, got %s", out.Next)
	}
	if len(out.Transcript) != 2 || !strings.Contains(out.Transcript[1].Content, "information_list") {
		t.Fatalf("unexpected transcript: %+v", out.Transcript)
	}
	if diff := cmp.Diff(in.Leads, out.Leads); diff != "" {
		t.Fatalf("worker node must not touch leads (-want +got):\n%s", diff)
	}
}

func TestWorkerNodeTruncatesToCapacity(t *testing.T) {
	worker := WorkerFunc(func(ctx context.Context, transcript []state.Message) ([]state.Message, error) {
		return append(transcript, state.AssistantMessage("ResearchAgent", "newest")), nil
	})
	node := NewWorkerNode(state.Research, worker)

	in := state.State{Transcript: transcriptOf(15), Next: state.Research, Leads: state.NewLeadList(5)}
	out, _ := node.Run(context.Background(), in)

	want := append(append([]state.Message(nil), in.Transcript[6:]...), state.AssistantMessage("ResearchAgent", "newest"))
	if diff := cmp.Diff(want, out.Transcript); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}
}

func TestWorkerNodeFailureMarker(t *testing.T) {
	failing := WorkerFunc(func(ctx context.Context, transcript []state.Message) ([]state.Message, error) {
		return nil, errors.New("browser crashed")
	})
	panicking := WorkerFunc(func(ctx context.Context, transcript []state.Message) ([]state.Message, error) {
		panic("nil pointer")
	})
	empty := WorkerFunc(func(ctx context.Context, transcript []state.Message) ([]state.Message, error) {
		return nil, nil
	})

	for name, w := range map[string]Worker{"error": failing, "panic": panicking, "empty": empty, "nil": nil} {
		node := NewWorkerNode(state.Research, w)
		out, err := node.Run(context.Background(), state.Initial("x"))
		if err != nil {
			t.Fatalf("%s: worker failures must not be returned: %v", name, err)
		}
		last := out.Transcript[len(out.Transcript)-1]
		if last.Content != FailureMarker || out.Next != state.Supervisor {
			t.Fatalf("%s: unexpected state %+v", name, out)
		}
	}
}

func TestEmailDrafterSelectiveOutreach(t *testing.T) {
	backend := &stubLLM{content: `{"next_agent": "Supervisor", "message": "emails ready", "updated_state": {"information_list": [
		{"company_name": "NoDetails Inc", "company_details": ""},
		{"company_name": "Researched Co", "company_details": "Builds drones.", "website_inaccessible": false,
		 "personalized_email_subject": "Faster drone builds", "personalized_email_body": "Hello Researched Co..."}
	]}}`}
	drafter, err := NewEmailDrafter(backend)
	if err != nil {
		t.Fatalf("new drafter: %v", err)
	}

	in := state.State{
		Transcript: []state.Message{state.HumanMessage("write emails")},
		Next:       state.EmailDrafting,
		Leads: []state.Lead{
			{CompanyName: "NoDetails Inc"},
			{CompanyName: "Researched Co", CompanyDetails: "Builds drones."},
		},
	}
	out, err := drafter.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if out.Next != state.Supervisor {
		t.Fatalf("unexpected next: %s", out.Next)
	}
	if out.Leads[0].EmailSubject != "" || out.Leads[0].EmailBody != "" {
		t.Fatalf("unenriched lead must not get outreach: %+v", out.Leads[0])
	}
	if out.Leads[1].EmailSubject != "Faster drone builds" || out.Leads[1].EmailBody == "" {
		t.Fatalf("enriched lead must get outreach: %+v", out.Leads[1])
	}
	if len(out.Transcript) != 2 || out.Transcript[1].Content != backend.content {
		t.Fatalf("raw response must be appended: %+v", out.Transcript)
	}

	req := backend.last.Messages
	if len(req) != 2 || req[1].Role != state.RoleHuman || !strings.Contains(req[1].Content, "Researched Co") {
		t.Fatalf("prompt must be sent as the newest human message with the leads: %+v", req)
	}
}

func TestEmailDrafterParseFailureKeepsLeads(t *testing.T) {
	drafter, _ := NewEmailDrafter(&stubLLM{content: "Sorry, I cannot help with that."})

	in := state.State{Transcript: transcriptOf(10), Next: state.EmailDrafting, Leads: []state.Lead{{CompanyName: "A"}}}
	out, _ := drafter.Run(context.Background(), in)

	if out.Next != state.Supervisor {
		t.Fatalf("parse failure must still route to supervisor, got %s", out.Next)
	}
	if diff := cmp.Diff(in.Leads, out.Leads); diff != "" {
		t.Fatalf("leads must be unchanged (-want +got):\n%s", diff)
	}
	if len(out.Transcript) != state.TranscriptCapacity {
		t.Fatalf("transcript must be truncated to capacity, got %d", len(out.Transcript))
	}
	if out.Transcript[9].Content != "Sorry, I cannot help with that." || out.Transcript[0].Content != "m1" {
		t.Fatalf("unexpected transcript window: %+v", out.Transcript)
	}
}

func TestEmailDrafterAlwaysRoutesToSupervisor(t *testing.T) {
	backend := &stubLLM{content: `{"next_agent": "end", "updated_state": {"information_list": [
		{"company_name": "A", "personalized_email_subject": "Hi A"}
	]}}`}
	drafter, _ := NewEmailDrafter(backend)

	in := state.State{Transcript: transcriptOf(2), Next: state.EmailDrafting, Leads: []state.Lead{{CompanyName: "A"}}}
	out, err := drafter.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Next != state.Supervisor {
		t.Fatalf("email drafter must hand control back to supervisor, got %s", out.Next)
	}
	if out.Leads[0].EmailSubject != "Hi A" {
		t.Fatalf("drafted leads must still be applied: %+v", out.Leads[0])
	}
}

func TestEmailDrafterBackendFailure(t *testing.T) {
	drafter, _ := NewEmailDrafter(&stubLLM{err: errors.New("timeout")})

	in := state.State{Transcript: transcriptOf(3), Next: state.EmailDrafting, Leads: []state.Lead{{CompanyName: "A"}}}
	out, err := drafter.Run(context.Background(), in)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Next != state.Supervisor {
		t.Fatalf("unexpected next: %s", out.Next)
	}
	if diff := cmp.Diff(in.Transcript, out.Transcript); diff != "" {
		t.Fatalf("transcript must be unchanged (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(in.Leads, out.Leads); diff != "" {
		t.Fatalf("leads must be unchanged (-want +got):\n%s", diff)
	}
}
