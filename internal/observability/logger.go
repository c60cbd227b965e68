package observability

import (
	"github.com/tutorstack/tutorcrm/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(NewLogger),
	fx.Provide(NewMetrics),
)

func NewLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Log.Mode == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
