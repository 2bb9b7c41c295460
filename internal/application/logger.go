package application

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/psds-microservice/homecam-relay/internal/config"
)

// newLogger: production JSON в prod, цветной dev-логгер иначе; уровень из LOG_LEVEL.
func newLogger(cfg *config.Config) *zap.Logger {
	zc := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	}
	if lvl, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
