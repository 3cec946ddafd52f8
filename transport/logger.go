package transport

import "go.uber.org/zap"

// Logger is the thin structured-logging seam the engine calls into for
// operational (not qlog/protocol-event) messages: the handshake failing,
// a path being abandoned, a misbehaving peer. Grounded on A1 of the
// ambient stack: *zap.SugaredLogger already satisfies this shape, so
// applications wire in their own zap logger (typically backed by a
// lumberjack.Logger for rotation, as cppla-moto's utils/log.go sets up)
// without this package needing to know about zap's config surface.
type Logger interface {
	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})
}

// NopLogger discards everything. It is the default so the engine never
// requires a logger to be wired in; per the ambient design notes, there
// is deliberately no mutable global default to reset between tests.
type NopLogger struct{}

func (NopLogger) Debugw(string, ...interface{}) {}
func (NopLogger) Infow(string, ...interface{})  {}
func (NopLogger) Warnw(string, ...interface{})  {}
func (NopLogger) Errorw(string, ...interface{}) {}

var _ Logger = NopLogger{}
var _ Logger = (*zap.SugaredLogger)(nil)
