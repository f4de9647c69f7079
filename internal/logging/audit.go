package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AuditEventType names one step in an expansion session's life.
type AuditEventType string

const (
	AuditSessionCreate   AuditEventType = "session_create"
	AuditSessionAdvance  AuditEventType = "session_advance"
	AuditSessionCommit   AuditEventType = "session_commit"
	AuditSessionCancel   AuditEventType = "session_cancel"
	AuditSessionReject   AuditEventType = "session_reject"
	AuditWindowOpen      AuditEventType = "window_open"
	AuditWindowOpenError AuditEventType = "window_open_error"
	AuditStaleReply      AuditEventType = "stale_reply"
	AuditDirectCommit    AuditEventType = "direct_commit"
)

// AuditLogger writes one JSON line per event to .snipex/logs/audit.jsonl.
type AuditLogger struct {
	log *zap.Logger
}

var (
	auditMu   sync.Mutex
	auditFile *os.File
	audit     *AuditLogger
)

// InitAudit opens the audit file, replacing any open one. Outside debug mode
// auditing stays off.
func InitAudit() error {
	auditMu.Lock()
	defer auditMu.Unlock()
	closeAuditLocked()

	if !IsDebugMode() || logsDir == "" {
		return nil
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logsDir, "audit.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.EpochMillisTimeEncoder
	enc.MessageKey = "event"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(f), zapcore.DebugLevel)

	auditFile = f
	audit = &AuditLogger{log: zap.New(core)}
	return nil
}

// CloseAudit flushes and closes the audit file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	closeAuditLocked()
}

func closeAuditLocked() {
	if audit != nil {
		_ = audit.log.Sync()
	}
	if auditFile != nil {
		auditFile.Close()
	}
	audit, auditFile = nil, nil
}

// Audit returns the process audit logger; a disabled one when auditing is off.
func Audit() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if audit == nil {
		return &AuditLogger{}
	}
	return audit
}

// Log records an event with arbitrary fields.
func (a *AuditLogger) Log(event AuditEventType, fields ...zap.Field) {
	if a == nil || a.log == nil {
		return
	}
	a.log.Info(string(event), fields...)
}

func (a *AuditLogger) SessionCreate(sessionID, element, stage string) {
	a.Log(AuditSessionCreate, zap.String("session", sessionID), zap.String("element", element), zap.String("stage", stage))
}

func (a *AuditLogger) SessionAdvance(sessionID, from, to string) {
	a.Log(AuditSessionAdvance, zap.String("session", sessionID), zap.String("from", from), zap.String("to", to))
}

func (a *AuditLogger) SessionCommit(sessionID string, textLen int) {
	a.Log(AuditSessionCommit, zap.String("session", sessionID), zap.Int("text_len", textLen))
}

func (a *AuditLogger) SessionCancel(sessionID, stage, origin string) {
	a.Log(AuditSessionCancel, zap.String("session", sessionID), zap.String("stage", stage), zap.String("origin", origin))
}

func (a *AuditLogger) SessionReject(element string) {
	a.Log(AuditSessionReject, zap.String("element", element))
}

func (a *AuditLogger) WindowOpen(sessionID, kind, window string) {
	a.Log(AuditWindowOpen, zap.String("session", sessionID), zap.String("kind", kind), zap.String("window", window))
}

func (a *AuditLogger) WindowOpenError(sessionID, kind string, err error) {
	a.Log(AuditWindowOpenError, zap.String("session", sessionID), zap.String("kind", kind), zap.Error(err))
}

func (a *AuditLogger) StaleReply(sessionID, action string) {
	a.Log(AuditStaleReply, zap.String("session", sessionID), zap.String("action", action))
}

func (a *AuditLogger) DirectCommit(element, trigger string) {
	a.Log(AuditDirectCommit, zap.String("element", element), zap.String("trigger", trigger))
}
