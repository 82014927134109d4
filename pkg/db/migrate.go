package db

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate runs gorm auto-migration for models when the app starts.
func Migrate(models ...any) fx.Option {
	return fx.Invoke(func(lc fx.Lifecycle, db *gorm.DB) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
					return fmt.Errorf("auto migrate: %w", err)
				}
				zap.L().Info("[DB] schema migrated", zap.Int("models", len(models)))
				return nil
			},
		})
	})
}
