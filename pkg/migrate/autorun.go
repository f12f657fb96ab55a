package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations at boot when running in dev
// against postgres with the auto-migrate flag on. sqlite databases are built
// from the gorm models instead.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "driver": cfg.DB.Driver})
	if cfg.DB.IsSQLite() {
		logg.Info(ctx, "skipping goose auto-run for sqlite")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	fsys, err := Source(DefaultDir)
	if err != nil {
		return err
	}
	runner, err := NewRunner(sqlDB, fsys, logg)
	if err != nil {
		return err
	}

	logg.Info(ctx, "running goose migrations (dev auto-run)")
	if err := runner.Run(ctx, "up", ""); err != nil {
		return err
	}
	logg.Info(ctx, "goose migrations completed")
	return nil
}
