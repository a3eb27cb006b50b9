package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. It is a no-op until Init is called so
// packages can log safely from tests.
var Log = zap.NewNop()

func Init(level string, env string) error {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := config.Build(zap.Fields(zap.String("service", "hallcall-api")))
	if err != nil {
		return err
	}

	Log = logger
	return nil
}

// Named returns a child logger for a component (dialer, worker, ...).
func Named(component string) *zap.Logger {
	return Log.Named(component)
}

func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
