package quic

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/quillquic/quic/transport"
)

// LogConfig configures the zap-backed logger an Endpoint installs into
// every connection it manages, grounded on cppla-moto/utils/log.go's
// lumberjack-backed zap setup. Unlike that example's package-level
// zap.Logger built in an init(), NewLogger takes this as an explicit
// argument and returns a value the caller owns — per SPEC_FULL's "no
// process-wide globals" logging note, two Endpoints in the same process
// never share or fight over logger state.
type LogConfig struct {
	Level    string `json:"level"`
	Path     string `json:"path"`
	MaxSizeMB int   `json:"max_size_mb"`
	MaxBackups int  `json:"max_backups"`
	MaxAgeDays int   `json:"max_age_days"`
	Compress  bool  `json:"compress"`
}

var levelMap = map[string]zapcore.Level{
	"debug": zapcore.DebugLevel,
	"info":  zapcore.InfoLevel,
	"warn":  zapcore.WarnLevel,
	"error": zapcore.ErrorLevel,
}

// NewLogger builds a *zap.SugaredLogger writing JSON lines to cfg.Path
// through a rotating lumberjack sink, or a no-op core if cfg.Path is
// empty or cfg.Level is "off" (so a caller that never sets LogConfig
// gets silence, not a file created at a surprising default path).
func NewLogger(cfg LogConfig) *zap.SugaredLogger {
	if cfg.Path == "" || cfg.Level == "off" {
		return zap.NewNop().Sugar()
	}
	level, ok := levelMap[cfg.Level]
	if !ok {
		level = zapcore.InfoLevel
	}
	maxSize := cfg.MaxSizeMB
	if maxSize == 0 {
		maxSize = 100
	}
	hook := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(hook), level)
	return zap.New(core).Sugar()
}

var _ transport.Logger = (*zap.SugaredLogger)(nil)

// qlogToZap adapts a zap.SugaredLogger into a transport.QlogSink,
// emitting every qlog-shaped LogEvent as a structured zap line rather
// than (or alongside) a dedicated qlog trace file — grounded on
// SPEC_FULL A1's instruction to feed LogEvent/LogField into zap as
// structured fields. trackingID is attached to every line so qlog
// events from many connections interleave in one log file without
// losing per-connection correlation.
type qlogToZap struct {
	logger     *zap.SugaredLogger
	trackingID transport.TrackingID
}

func newQlogToZap(l *zap.SugaredLogger, id transport.TrackingID) *qlogToZap {
	return &qlogToZap{logger: l, trackingID: id}
}

func (q *qlogToZap) Emit(e transport.LogEvent) {
	args := make([]interface{}, 0, 2+2*len(e.Fields))
	args = append(args, "tracking_id", string(q.trackingID))
	for _, f := range e.Fields {
		if f.Str != "" {
			args = append(args, f.Key, f.Str)
		} else {
			args = append(args, f.Key, f.Num)
		}
	}
	q.logger.Debugw(e.Type, args...)
}

func (q *qlogToZap) Close() error { return nil }

var _ transport.QlogSink = (*qlogToZap)(nil)
