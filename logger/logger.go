package logger

import (
	"go.uber.org/zap"
)

var Log *zap.SugaredLogger

func init() {
	// Packages log through Log before main gets a chance to call Init (tests, tools).
	Log = zap.NewNop().Sugar()
}

func Init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	Log = logger.Sugar()
}

// InitDevelopment switches to the human-readable console encoder.
func InitDevelopment() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	Log = logger.Sugar()
}

// Sync flushes buffered entries; call it on shutdown.
func Sync() {
	_ = Log.Sync()
}
