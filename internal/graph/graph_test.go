package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/state"
)

// routerNode 依次给出 decisions 中的路由键，用尽后返回 End。
func routerNode(decisions ...state.NodeID) NodeFunc {
	i := 0
	return func(ctx context.Context, st state.State) (state.State, error) {
		out := st.Clone()
		out.Next = End
		if i < len(decisions) {
			out.Next = decisions[i]
			i++
		}
		out.Transcript = state.Append(out.Transcript, state.AssistantMessage("supervisor", string(out.Next)))
		return out, nil
	}
}

func echoNode(name state.NodeID) NodeFunc {
	return func(ctx context.Context, st state.State) (state.State, error) {
		out := st.Clone()
		out.Next = state.Supervisor
		out.Transcript = state.Append(out.Transcript, state.AssistantMessage(string(name), "done"))
		return out, nil
	}
}

func buildLeadGraph(t *testing.T, supervisor Node, opts ...Option) *Compiled {
	t.Helper()
	g := New().
		AddNode(state.Supervisor, supervisor).
		AddNode(state.LeadSourcing, echoNode(state.LeadSourcing)).
		AddNode(state.Research, echoNode(state.Research)).
		SetEntryPoint(state.Supervisor).
		AddConditionalEdges(state.Supervisor, RouteByNext, map[state.NodeID]state.NodeID{
			state.LeadSourcing: state.LeadSourcing,
			state.Research:     state.Research,
			state.End:          End,
		}).
		AddEdge(state.LeadSourcing, state.Supervisor).
		AddEdge(state.Research, state.Supervisor)

	compiled, err := g.Compile(opts...)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return compiled
}

func collect(t *testing.T, c *Compiled, initial state.State) ([]state.NodeID, state.State, error) {
	t.Helper()
	var visited []state.NodeID
	final, err := c.Stream(context.Background(), initial, func(step Step) error {
		visited = append(visited, step.Node)
		if step.Index != len(visited) {
			t.Fatalf("step index %d out of order", step.Index)
		}
		return nil
	})
	return visited, final, err
}

func TestOneWorkerStepThenBackToSupervisor(t *testing.T) {
	c := buildLeadGraph(t, routerNode(state.Research))

	visited, final, err := collect(t, c, state.Initial("go"))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	want := []state.NodeID{state.Supervisor, state.Research, state.Supervisor}
	if len(visited) != len(want) {
		t.Fatalf("unexpected path: %v", visited)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("unexpected path: %v", visited)
		}
	}
	if final.Next != End || len(final.Transcript) != 4 {
		t.Fatalf("unexpected final state: %+v", final)
	}
}

func TestEndDecisionStopsImmediately(t *testing.T) {
	c := buildLeadGraph(t, routerNode())

	visited, _, err := collect(t, c, state.Initial("go"))
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(visited) != 1 || visited[0] != state.Supervisor {
		t.Fatalf("graph must stop right after the supervisor chooses end: %v", visited)
	}
}

func TestUnknownRouteResolvesToEnd(t *testing.T) {
	c := buildLeadGraph(t, routerNode(state.EmailDrafting, state.NodeID("SalesAgent")))

	visited, final, err := collect(t, c, state.Initial("go"))
	if err != nil {
		t.Fatalf("unknown routes must end normally, got %v", err)
	}
	if len(visited) != 1 || final.Next != state.EmailDrafting {
		t.Fatalf("unexpected run: %v %+v", visited, final)
	}
}

func TestStepLimitAborts(t *testing.T) {
	always := NodeFunc(func(ctx context.Context, st state.State) (state.State, error) {
		out := st.Clone()
		out.Next = state.LeadSourcing
		return out, nil
	})
	c := buildLeadGraph(t, always, WithStepLimit(7))

	visited, final, err := collect(t, c, state.Initial("go"))
	if !errors.Is(err, ErrStepLimitExceeded) {
		t.Fatalf("expected step limit error, got %v", err)
	}
	if xerrors.CodeOf(err) != xerrors.CodeStepLimitExceeded {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(err))
	}
	if len(visited) != 7 {
		t.Fatalf("expected exactly 7 steps, got %d", len(visited))
	}
	if final.Next != state.LeadSourcing || len(final.Transcript) != 4 {
		t.Fatalf("last state must be returned with the abort: %+v", final)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := buildLeadGraph(t, NodeFunc(func(_ context.Context, st state.State) (state.State, error) {
		cancel()
		out := st.Clone()
		out.Next = state.LeadSourcing
		return out, nil
	}))

	_, err := c.Invoke(ctx, state.Initial("go"))
	if !xerrors.HasCode(err, xerrors.CodeCancelled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestObserverErrorStopsStream(t *testing.T) {
	c := buildLeadGraph(t, routerNode(state.Research))
	stop := errors.New("stop")

	_, err := c.Stream(context.Background(), state.Initial("go"), func(Step) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("expected observer error, got %v", err)
	}
}

func TestNodeErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	c := buildLeadGraph(t, NodeFunc(func(context.Context, state.State) (state.State, error) {
		return state.State{}, boom
	}))
	if _, err := c.Invoke(context.Background(), state.Initial("go")); !errors.Is(err, boom) {
		t.Fatalf("expected node error, got %v", err)
	}
}

func TestCompileValidation(t *testing.T) {
	noop := echoNode("x")
	cases := map[string]*Graph{
		"no entry":           New().AddNode(state.Supervisor, noop).AddEdge(state.Supervisor, End),
		"missing entry":      New().AddNode(state.Supervisor, noop).SetEntryPoint(state.Research).AddEdge(state.Supervisor, End),
		"dangling edge":      New().AddNode(state.Supervisor, noop).SetEntryPoint(state.Supervisor).AddEdge(state.Supervisor, state.Research),
		"no outgoing rule":   New().AddNode(state.Supervisor, noop).AddNode(state.Research, noop).SetEntryPoint(state.Supervisor).AddEdge(state.Supervisor, state.Research),
		"duplicate node":     New().AddNode(state.Supervisor, noop).AddNode(state.Supervisor, noop).SetEntryPoint(state.Supervisor).AddEdge(state.Supervisor, End),
		"end as node":        New().AddNode(End, noop),
		"bad mapping":        New().AddNode(state.Supervisor, noop).SetEntryPoint(state.Supervisor).AddConditionalEdges(state.Supervisor, RouteByNext, map[state.NodeID]state.NodeID{state.Research: state.Research}),
		"edge and condition": New().AddNode(state.Supervisor, noop).SetEntryPoint(state.Supervisor).AddEdge(state.Supervisor, End).AddConditionalEdges(state.Supervisor, RouteByNext, nil),
	}
	for name, g := range cases {
		_, err := g.Compile()
		if err == nil {
			t.Fatalf("%s: expected compile error", name)
		}
		if xerrors.CodeOf(err) != xerrors.CodeSetupFailure {
			t.Fatalf("%s: expected setup failure code, got %v", name, err)
		}
	}

	c, err := New().AddNode(state.Supervisor, noop).SetEntryPoint(state.Supervisor).AddEdge(state.Supervisor, End).Compile(WithStepLimit(0))
	if err != nil {
		t.Fatalf("minimal graph should compile: %v", err)
	}
	if c.StepLimit() != DefaultStepLimit {
		t.Fatalf("non-positive limits must fall back to the default, got %d", c.StepLimit())
	}
	_, err = New().AddNode(state.Supervisor, noop).AddNode(state.Research, nil).Compile()
	if err == nil || !strings.Contains(err.Error(), "为空") {
		t.Fatalf("nil node must be reported, got %v", err)
	}
}
