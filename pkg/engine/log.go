//go:build linux

package engine

import (
	"io"
	"os"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the error-log writer spec.md §6.3/§7 describes: one
// logfmt "ERROR:"-class line per event written to w (the `<prefix>.err`
// file, or stderr, or a discard writer when suppressed), with debug mode
// additionally mirroring every line to stdout. Grounded on the
// zap+zap-logfmt core construction in grafana-tempo's cmd/tempo-vulture,
// generalized from one fixed core to an optional zapcore.NewTee pair.
func NewLogger(w io.Writer, debug bool) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zaplogfmt.NewEncoder(encoderCfg)

	level := zapcore.ErrorLevel
	if debug {
		level = zapcore.DebugLevel
	}

	cores := []zapcore.Core{zapcore.NewCore(encoder, zapcore.AddSync(w), level)}
	if debug {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapcore.DebugLevel))
	}
	return zap.New(zapcore.NewTee(cores...))
}
