package pythonbridge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	xerrors "LeadFlow/internal/errors"
	"LeadFlow/internal/llm"
	"LeadFlow/internal/state"
)

func writeScript(t *testing.T, body string) (string, string) {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "bridge.sh")
	if err := os.WriteFile(path, []byte(body), 0o700); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return sh, path
}

func TestGenerateReadsJSONContent(t *testing.T) {
	sh, script := writeScript(t, "cat > /dev/null\necho '{\"content\": \"{\\\"next_agent\\\": \\\"end\\\"}\"}'\n")

	client, err := NewClient(sh, script, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.Generate(context.Background(), llm.Request{System: "s", Messages: []state.Message{state.HumanMessage("hi")}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != `{"next_agent": "end"}` {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
}

func TestGenerateFallsBackToRawOutput(t *testing.T) {
	sh, script := writeScript(t, "cat > /dev/null\necho 'plain answer'\n")

	client, err := NewClient(sh, script, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.Generate(context.Background(), llm.Request{System: "s"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != "plain answer" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
}

func TestGenerateScriptFailure(t *testing.T) {
	sh, script := writeScript(t, "echo broken >&2\nexit 3\n")

	client, err := NewClient(sh, script, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Generate(context.Background(), llm.Request{System: "s"})
	if !xerrors.HasCode(err, xerrors.CodeBackendFailure) {
		t.Fatalf("expected backend failure, got %v", err)
	}
	if e, _ := xerrors.From(err); e.Metadata()["stderr"] != "broken" {
		t.Fatalf("stderr not captured: %+v", e.Metadata())
	}
}

func TestGenerateReportsScriptError(t *testing.T) {
	sh, script := writeScript(t, "cat > /dev/null\necho '{\"error\": \"quota exceeded\"}'\n")

	client, err := NewClient(sh, script, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Generate(context.Background(), llm.Request{System: "s"})
	if !xerrors.HasCode(err, xerrors.CodeBackendFailure) {
		t.Fatalf("expected backend failure, got %v", err)
	}
}

func TestNewClientRequiresScript(t *testing.T) {
	if _, err := NewClient("", " ", ""); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestResolveScriptPath(t *testing.T) {
	if got := ResolveScriptPath("/srv", "bridge.py"); got != filepath.Join("/srv", "bridge.py") {
		t.Fatalf("unexpected path: %s", got)
	}
	if got := ResolveScriptPath("/srv", "/abs/bridge.py"); got != "/abs/bridge.py" {
		t.Fatalf("absolute path must be kept: %s", got)
	}
}
