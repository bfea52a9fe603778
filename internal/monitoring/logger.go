package monitoring

import (
	"fmt"
	"io"
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger or Configure. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Log is the structured logger used for pipeline stages. It discards
// everything until Configure is called.
var Log = zap.NewNop().Sugar()

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// LogConfig selects the level and encoding of the process logger.
type LogConfig struct {
	Level  string    `json:"level"`  // debug, info, warn or error
	Format string    `json:"format"` // "console" or "json"
	Output io.Writer `json:"-"`      // defaults to stderr
}

// NewLogger builds a zap logger from cfg.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.Level != "" {
		var err error
		if level, err = zap.ParseAtomicLevel(cfg.Level); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	var enc zapcore.Encoder
	switch cfg.Format {
	case "", "console":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		ec.TimeKey = ""
		enc = zapcore.NewConsoleEncoder(ec)
	case "json":
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	default:
		return nil, fmt.Errorf("unknown log format %q (want console or json)", cfg.Format)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), level)
	return zap.New(core), nil
}

// Configure installs a logger built from cfg as Log and routes Logf through
// it at info level. The returned function flushes buffered entries.
func Configure(cfg LogConfig) (func(), error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	Log = logger.Sugar()
	Logf = Log.Infof
	return func() { _ = logger.Sync() }, nil
}
