package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNamedAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	Use(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { Use(nil) })

	Named("supervisor").Info("routing", slog.String("next", "ResearchAgent"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["component"] != "supervisor" || entry["next"] != "ResearchAgent" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestInitWritesAuditFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit", "runs.log")

	if err := Init(Config{Level: "debug", OutputPaths: []string{filepath.Join(dir, "app.log")}, Audit: AuditConfig{Enabled: true, Path: path}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	Audit().Info("run finished", slog.Int("steps", 4))
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	t.Cleanup(func() { Use(nil) })

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit: %v", err)
	}
	if !strings.Contains(string(content), `"steps":4`) {
		t.Fatalf("audit line missing: %s", content)
	}
}

func TestInitRejectsAuditWithoutPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error for empty audit path")
	}
}

func TestAuditWriterDefaults(t *testing.T) {
	w := auditWriter(AuditConfig{Path: "logs/audit.log", MaxBackups: 3, Compress: true})
	if w.Filename != "logs/audit.log" || w.MaxSize != defaultAuditMaxSizeMB || w.MaxBackups != 3 || w.MaxAge != defaultAuditMaxAgeDays || !w.Compress {
		t.Fatalf("unexpected rotation settings: %+v", w)
	}
}
