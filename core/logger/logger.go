// Package logger provides the process-wide zap logger.
//
//	logger.InitLogger("debug") // Options: debug, info, warn, error
//
//	logger.Log.Info("launch token issued",
//	    zap.Uint64("product_id", productID),
//	)
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is a no-op until InitLogger runs.
var Log = zap.NewNop()

// New builds a production JSON logger at level. Unknown levels fall back to info.
func New(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func InitLogger(level string) {
	l, err := New(level)
	if err != nil {
		panic(err)
	}
	Log = l
}
