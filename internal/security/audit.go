package security

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/agentsh/agentsh/internal/agentmodel"
)

// AuditEntry is one line of the append-only audit stream. Every
// non-ALLOW controller decision and every approval result produces one.
type AuditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	User      string    `json:"user,omitempty"`
	Command   string    `json:"command"`
	Risk      string    `json:"risk"`
	Outcome   string    `json:"outcome"`
	Approver  string    `json:"approver,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	SpanID    string    `json:"span_id,omitempty"`
}

// FileAuditLog is an append-only newline-delimited JSON file, rotated
// once it crosses maxBytes.
type FileAuditLog struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	file     *os.File
	size     int64
}

// rotationTimestampLayout names a rotated audit log
// <path>.<YYYYMMDD_HHMMSS>.log.
const rotationTimestampLayout = "20060102_150405"

// NewFileAuditLog opens (creating if needed) an audit log at path,
// rotating to path.<YYYYMMDD_HHMMSS>.log once it exceeds maxBytes.
// maxBytes <= 0 disables rotation.
func NewFileAuditLog(path string, maxBytes int64) (*FileAuditLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("security: open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("security: stat audit log: %w", err)
	}
	return &FileAuditLog{path: path, maxBytes: maxBytes, file: f, size: info.Size()}, nil
}

// Record appends entry as one JSON line, rotating the file first if the
// write would cross maxBytes. If ctx carries a sampled span, its trace
// and span ids are stamped onto the entry so audit lines can be
// correlated with the request trace that produced them.
func (l *FileAuditLog) Record(ctx context.Context, entry AuditEntry) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		entry.TraceID = sc.TraceID().String()
		entry.SpanID = sc.SpanID().String()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("security: marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	if l.maxBytes > 0 && l.size+int64(len(line)) > l.maxBytes {
		if err := l.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := l.file.Write(line)
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("security: write audit entry: %w", err)
	}
	return nil
}

func (l *FileAuditLog) rotateLocked() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("security: close audit log for rotation: %w", err)
	}
	ext := filepath.Ext(l.path)
	base := strings.TrimSuffix(l.path, ext)
	rotated := fmt.Sprintf("%s.%s%s", base, time.Now().Format(rotationTimestampLayout), ext)
	if err := os.Rename(l.path, rotated); err != nil {
		return fmt.Errorf("security: rotate audit log: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("security: reopen audit log after rotation: %w", err)
	}
	l.file = f
	l.size = 0
	return nil
}

// Close flushes and closes the underlying file.
func (l *FileAuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func (c *Controller) auditDecision(ctx context.Context, decision Decision, command, reason, deviceID string) {
	if c.audit == nil {
		return
	}
	risk, _ := Classify(command)
	action := "COMMAND_" + string(decision)
	_ = c.audit.Record(ctx, AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		Command:   command,
		Risk:      risk.String(),
		Outcome:   string(decision),
		SessionID: c.session,
		DeviceID:  deviceID,
		Reason:    reason,
	})
}

func (c *Controller) auditApproval(ctx context.Context, req *agentmodel.ApprovalRequest, result agentmodel.ApprovalResult) {
	if c.audit == nil {
		return
	}
	action := "COMMAND_APPROVED"
	if result.Outcome != agentmodel.ApprovalApproved {
		action = "COMMAND_" + string(result.Outcome)
	}
	_ = c.audit.Record(ctx, AuditEntry{
		Timestamp: time.Now(),
		Action:    action,
		Command:   req.Command,
		Risk:      req.Risk.String(),
		Outcome:   string(result.Outcome),
		Approver:  result.Approver,
		SessionID: c.session,
		DeviceID:  req.DeviceID,
		Reason:    fmt.Sprintf("%v", req.Reasons),
	})
}
