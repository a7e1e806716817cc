package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/amoylab/pigeon/internal/common/cnst"
	"github.com/amoylab/pigeon/internal/common/config"
)

// NewRegistry creates a session registry based on configuration
func NewRegistry(ctx context.Context, logger *zap.Logger, cfg *config.SessionConfig, deliverTimeout time.Duration) (Registry, error) {
	logger.Info("Initializing session registry", zap.String("type", cfg.Type))
	switch cnst.SessionStoreType(cfg.Type) {
	case cnst.SessionStoreMemory, "":
		return NewMemoryRegistry(logger), nil
	case cnst.SessionStoreRedis:
		return NewRedisRegistry(ctx, logger, cfg.Redis, deliverTimeout)
	default:
		return nil, fmt.Errorf("%w: %s", cnst.ErrUnsupportedStoreType, cfg.Type)
	}
}
