// Package audit records token-grant events. The surrounding platform ships
// these to its audit pipeline; this module only defines the event shape and
// a structured-log recorder.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind identifies what happened.
type Kind string

const (
	TokenIssued    Kind = "token_issued"
	TokenRefreshed Kind = "token_refreshed"
	SessionRevoked Kind = "session_revoked"
)

// Event is a single audit record.
type Event struct {
	ID        string
	Kind      Kind
	UserID    string
	ClientID  string
	TenantID  string
	SessionID string
	GrantType string
	IPAddress string
	UserAgent string
	At        time.Time
}

// Recorder accepts audit events. Recording is fire-and-forget; a failed
// record must never fail the flow that produced it.
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Event) {}

// LogRecorder writes events as structured log lines.
type LogRecorder struct {
	logger zerolog.Logger
}

// NewLogRecorder creates a recorder writing to the given logger.
func NewLogRecorder(logger zerolog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(_ context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	r.logger.Info().
		Str("audit_id", event.ID).
		Str("kind", string(event.Kind)).
		Str("user_id", event.UserID).
		Str("client_id", event.ClientID).
		Str("tenant_id", event.TenantID).
		Str("session_id", event.SessionID).
		Str("grant_type", event.GrantType).
		Str("ip", event.IPAddress).
		Str("user_agent", event.UserAgent).
		Time("at", event.At).
		Msg("audit event")
}
