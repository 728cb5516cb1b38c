package security

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"crew/internal/logging"
	"crew/internal/utils/id"
)

// AuditRecord is one permission decision. Records are append-only.
type AuditRecord struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	Action     string    `json:"action"`
	Target     string    `json:"target"`
	WorkingDir string    `json:"working_dir,omitempty"`
	Decision   string    `json:"decision"` // "allowed" or "denied"
	Reason     string    `json:"reason,omitempty"`
	Level      RiskLevel `json:"level,omitempty"`
	Score      int       `json:"score"`
	Reasons    []string  `json:"reasons,omitempty"`
}

// AuditLog accumulates permission decisions in memory and, when a path is
// configured, appends each record as one JSON line to that file.
type AuditLog struct {
	mu      sync.Mutex
	path    string
	records []AuditRecord
	logger  logging.Logger
}

// NewAuditLog creates an audit log. An empty path keeps records in memory
// only.
func NewAuditLog(path string, logger logging.Logger) *AuditLog {
	return &AuditLog{path: path, logger: logging.OrNop(logger)}
}

// Append records one decision. File write failures are logged, never
// propagated; the permission decision stands regardless.
func (l *AuditLog) Append(record AuditRecord) {
	if record.ID == "" {
		record.ID = id.NewAuditID()
	}
	if record.Time.IsZero() {
		record.Time = time.Now()
	}
	record.Target = RedactCommand(record.Target)

	l.mu.Lock()
	l.records = append(l.records, record)
	path := l.path
	l.mu.Unlock()

	if path == "" {
		return
	}
	if err := l.appendFile(path, record); err != nil {
		l.logger.Warn("audit append failed: %v", err)
	}
}

func (l *AuditLog) appendFile(path string, record AuditRecord) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = file.Write(line)
	return err
}

// Records returns a snapshot of all decisions recorded so far.
func (l *AuditLog) Records() []AuditRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of recorded decisions.
func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
