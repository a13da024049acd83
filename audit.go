package tgauth

import "github.com/medmarket/tgauth/internal/audit"

// AuditEvent is one security-relevant record emitted by the Engine.
type AuditEvent = audit.Event

// AuditSink receives audit events on the dispatcher goroutine.
type AuditSink = audit.Sink

type (
	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	// SlogSink writes audit events through a *slog.Logger.
	SlogSink = audit.SlogSink
)

var (
	NewChannelSink    = audit.NewChannelSink
	NewJSONWriterSink = audit.NewJSONWriterSink
)
