package observability

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/uniplexprotocol/gate/pkg/canonicalize"
)

// AuditMode selects how much of the call surface is recorded, per
// SPEC_FULL.md §6's audit configuration.
type AuditMode string

const (
	AuditFull          AuditMode = "full"
	AuditSampled       AuditMode = "sampled"
	AuditSessionDigest AuditMode = "session_digest"
)

// ToolCallAttestation is the audit record the Tool Wrapper emits per call
// when auditing is enabled (SPEC_FULL.md §4.8).
type ToolCallAttestation struct {
	Timestamp     string      `json:"timestamp"`
	SessionID     string      `json:"session_id,omitempty"`
	CredentialID  string      `json:"credential_id,omitempty"`
	ToolName      string      `json:"tool_name"`
	Decision      string      `json:"decision"`
	DenialCode    string      `json:"denial_code,omitempty"`
	Inputs        interface{} `json:"inputs,omitempty"`
	Outputs       interface{} `json:"outputs,omitempty"`
	DurationMs    int64       `json:"duration_ms"`
	Hash          string      `json:"hash"`
}

// AuditLog maintains a verifiable history of tool-call attestations.
type AuditLog interface {
	Append(a ToolCallAttestation) error
	Entries() []ToolCallAttestation
}

// MemoryAuditLog is the default in-process implementation; suitable for the
// session-scoped audit trail a single gate process keeps.
type MemoryAuditLog struct {
	mu      sync.RWMutex
	entries []ToolCallAttestation
}

// NewMemoryAuditLog returns an empty in-memory audit log.
func NewMemoryAuditLog() *MemoryAuditLog {
	return &MemoryAuditLog{}
}

// Append records an attestation, stamping its content hash.
func (l *MemoryAuditLog) Append(a ToolCallAttestation) error {
	if a.Timestamp == "" {
		a.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	h, err := hashAttestation(a)
	if err != nil {
		return err
	}
	a.Hash = h

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, a)
	return nil
}

// Entries returns a defensive copy of all recorded attestations.
func (l *MemoryAuditLog) Entries() []ToolCallAttestation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ToolCallAttestation, len(l.entries))
	copy(out, l.entries)
	return out
}

// FileAuditLog appends attestations as newline-delimited JSON, for
// webhook-free durable audit trails across process restarts.
type FileAuditLog struct {
	mu       sync.Mutex
	filePath string
}

// NewFileAuditLog opens (creating if absent) the audit log file at path.
func NewFileAuditLog(path string) (*FileAuditLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	return &FileAuditLog{filePath: path}, nil
}

// Append appends one attestation line.
func (l *FileAuditLog) Append(a ToolCallAttestation) error {
	if a.Timestamp == "" {
		a.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	h, err := hashAttestation(a)
	if err != nil {
		return err
	}
	a.Hash = h

	data, err := json.Marshal(a)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.filePath, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.Write(append(data, '\n'))
	return err
}

// Entries replays the file, skipping any malformed trailing line left by a
// crash mid-write.
func (l *FileAuditLog) Entries() []ToolCallAttestation {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.filePath)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	var out []ToolCallAttestation
	decoder := json.NewDecoder(f)
	for decoder.More() {
		var a ToolCallAttestation
		if err := decoder.Decode(&a); err != nil {
			break
		}
		out = append(out, a)
	}
	return out
}

func hashAttestation(a ToolCallAttestation) (string, error) {
	a.Hash = ""
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return canonicalize.HashBytes(b), nil
}
