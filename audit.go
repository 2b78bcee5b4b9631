package authcore

import (
	"context"
	"encoding/json"
	"io"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

type (
	// AuditEvent is one security-relevant occurrence.
	AuditEvent = internalaudit.Event
	// AuditSink receives events from the asynchronous dispatcher.
	AuditSink = internalaudit.Sink
	// AuditSeverity ranks events for alerting.
	AuditSeverity = internalaudit.Severity
	// NoOpSink drops every event.
	NoOpSink = internalaudit.NoOpSink
	// MultiSink fans events out to several sinks.
	MultiSink = internalaudit.MultiSink
	// ChannelSink buffers events in a channel.
	ChannelSink = internalaudit.ChannelSink
	// JSONWriterSink writes JSON lines.
	JSONWriterSink = internalaudit.JSONWriterSink
)

const (
	SeverityInfo     = internalaudit.SeverityInfo
	SeverityWarning  = internalaudit.SeverityWarning
	SeverityCritical = internalaudit.SeverityCritical
)

// NewChannelSink returns a ChannelSink with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// SQLAuditSink appends events to the audit_log table. Events already
// written inside the transaction they describe are skipped.
type SQLAuditSink struct {
	store  *stores.AuditStore
	logger *zap.Logger
}

// NewSQLAuditSink returns a sink writing to db. Insert failures are logged
// through logger, which may be nil.
func NewSQLAuditSink(db *sqlx.DB, logger *zap.Logger) *SQLAuditSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLAuditSink{store: stores.NewAuditStore(db), logger: logger}
}

func (s *SQLAuditSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || event.Persisted {
		return
	}
	if err := s.store.Insert(ctx, nil, auditRecord(event)); err != nil {
		s.logger.Warn("audit insert failed",
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}

func auditRecord(event AuditEvent) *stores.AuditRecord {
	details := "{}"
	if len(event.Metadata) > 0 {
		if data, err := json.Marshal(event.Metadata); err == nil {
			details = string(data)
		}
	}
	severity := event.Severity
	if severity == "" {
		severity = SeverityInfo
	}
	return &stores.AuditRecord{
		ID:        uuid.NewString(),
		EventType: event.EventType,
		UserID:    event.UserID,
		Severity:  string(severity),
		Success:   event.Success,
		IPAddress: event.IP,
		Reason:    event.Error,
		Details:   details,
		CreatedAt: event.Timestamp.Unix(),
	}
}

// ZapAuditSink mirrors events into a structured log. Critical events are
// logged at error level, warnings at warn, the rest at info.
type ZapAuditSink struct {
	logger *zap.Logger
}

// NewZapAuditSink returns a sink writing to logger.
func NewZapAuditSink(logger *zap.Logger) *ZapAuditSink {
	return &ZapAuditSink{logger: logger.Named("audit")}
}

func (s *ZapAuditSink) Emit(_ context.Context, event AuditEvent) {
	if s == nil || s.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
		zap.Time("at", event.Timestamp),
	}
	if event.UserID != "" {
		fields = append(fields, zap.String("user_id", event.UserID))
	}
	if event.SessionID != "" {
		fields = append(fields, zap.String("session_id", event.SessionID))
	}
	if event.DeviceID != "" {
		fields = append(fields, zap.String("device_id", event.DeviceID))
	}
	if event.IP != "" {
		fields = append(fields, zap.String("ip", event.IP))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	switch event.Severity {
	case SeverityCritical:
		s.logger.Error("security event", fields...)
	case SeverityWarning:
		s.logger.Warn("security event", fields...)
	default:
		s.logger.Info("security event", fields...)
	}
}
