package security

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestFileAuditLogRecordAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	log, err := NewFileAuditLog(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	for i := 0; i < 3; i++ {
		if err := log.Record(context.Background(), AuditEntry{Action: "COMMAND_BLOCKED", Command: "rm -rf /"}); err != nil {
			t.Fatal(err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines, err)
		}
		lines++
	}
	if lines != 3 {
		t.Fatalf("expected 3 audit lines, got %d", lines)
	}
}

func TestFileAuditLogRotatesAtMaxBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")
	log, err := NewFileAuditLog(path, 64)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	for i := 0; i < 20; i++ {
		if err := log.Record(context.Background(), AuditEntry{Action: "COMMAND_BLOCKED", Command: "some reasonably long command string"}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected rotation to produce at least 2 files, got %d", len(entries))
	}
}

func TestControllerAuditsNonAllowDecisions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	log, err := NewFileAuditLog(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	c := NewController(DefaultPolicy(), log, "sess-1")
	c.Evaluate(context.Background(), "rm -rf /", "/tmp", "")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("expected an audit entry for a blocked CRITICAL command")
	}
}
