package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/covercraft/covercraft-backend/pkg/config"
	"github.com/covercraft/covercraft-backend/pkg/db"
	"github.com/covercraft/covercraft-backend/pkg/db/models"
	"github.com/covercraft/covercraft-backend/pkg/enums"
	"github.com/covercraft/covercraft-backend/pkg/logger"
)

// MaybeRunDev executes migrations automatically when the app is running in dev mode and
// the feature flag is enabled. SQLite databases are migrated from the models since the
// goose files target Postgres.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	meta := map[string]any{"env": cfg.App.Env, "driver": cfg.DB.Driver}
	ctx = logg.WithFields(ctx, meta)

	if cfg.DB.IsSQLite() {
		logg.Info(ctx, "running model auto-migration (sqlite)")
		return AutoMigrate(client.DB())
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	fsys, err := Source("")
	if err != nil {
		return err
	}
	runner, err := NewRunner(sqlDB, fsys)
	if err != nil {
		return err
	}
	applied, err := runner.Up(ctx)
	if err != nil {
		return err
	}

	logg.Info(logg.WithField(ctx, "applied", applied), "goose migrations completed")
	return nil
}

// AutoMigrate creates every table from the gorm models. Both order tables share
// the Order model.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(
		&models.Product{},
		&models.ProductVariant{},
		&models.OrderItem{},
		&models.Shipment{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	); err != nil {
		return err
	}
	for _, kind := range []enums.OrderKind{enums.OrderKindStandard, enums.OrderKindCustom} {
		if err := conn.Table(kind.Table()).AutoMigrate(&models.Order{}); err != nil {
			return fmt.Errorf("migrate %s: %w", kind.Table(), err)
		}
	}
	return nil
}
