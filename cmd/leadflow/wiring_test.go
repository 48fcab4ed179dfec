package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"LeadFlow/internal/automation"
	"LeadFlow/internal/config"
	"LeadFlow/internal/task"
)

func TestLoadConfigFallsBackToDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := loadConfig(missing, false)
	if err != nil {
		t.Fatalf("expected defaults, got %v", err)
	}
	if cfg.Graph.StepLimit != 1000 || cfg.TaskQueue.Driver != "memory" {
		t.Fatalf("unexpected defaults: %+v", cfg.Graph)
	}

	if _, err := loadConfig(missing, true); err == nil {
		t.Fatalf("explicit missing config must fail")
	}
}

func TestNewLLMClientRequiresKey(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.OpenAI.APIKeyEnv = "LEADFLOW_TEST_UNSET_KEY"
	if _, err := newLLMClient(cfg); err == nil {
		t.Fatalf("expected missing key error")
	}

	t.Setenv("LEADFLOW_TEST_UNSET_KEY", "sk-test")
	if _, err := newLLMClient(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.LLM.Provider = "python_bridge"
	cfg.LLM.Python.ScriptPath = "bridge.py"
	if _, err := newLLMClient(cfg); err != nil {
		t.Fatalf("python bridge: %v", err)
	}
}

func TestNewOpenerByDriver(t *testing.T) {
	cfg := config.Default()
	opener, err := newOpener(cfg)
	if err != nil {
		t.Fatalf("mcp opener: %v", err)
	}
	if _, ok := opener.(*automation.MCPOpener); !ok {
		t.Fatalf("expected MCP opener, got %T", opener)
	}

	cfg.Automation.Driver = "chromedp"
	cfg.Automation.Chromedp.Headless = true
	opener, err = newOpener(cfg)
	if err != nil {
		t.Fatalf("chrome opener: %v", err)
	}
	chrome, ok := opener.(*automation.ChromeOpener)
	if !ok || !chrome.Headless {
		t.Fatalf("unexpected opener: %#v", opener)
	}

	cfg.Automation.Driver = "selenium"
	if _, err := newOpener(cfg); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestMemoryStoreAndQueue(t *testing.T) {
	cfg := config.Default()
	ctx := context.Background()

	store, err := newStore(ctx, cfg)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, ok := store.(*task.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
	queue, err := newQueue(ctx, cfg)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if _, ok := queue.(*task.MemoryQueue); !ok {
		t.Fatalf("expected memory queue, got %T", queue)
	}
	_ = queue.Close()
}

func TestReadInstructions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "steps.json")
	if err := os.WriteFile(path, []byte("  find five leads\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	text, err := readInstructions(path)
	if err != nil || text != "find five leads" {
		t.Fatalf("unexpected instructions %q: %v", text, err)
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte(" \n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readInstructions(empty); err == nil {
		t.Fatalf("expected error for empty instructions")
	}
}
