package migration

import (
	"github.com/smallbiznis/printmeter/internal/config"
	"github.com/smallbiznis/printmeter/internal/importer/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return RunMigrations(sqlDB)
		}

		// sqlite and mysql deployments (dev, self-hosted) migrate from the
		// models directly.
		return conn.AutoMigrate(
			&domain.Account{},
			&domain.UsageEvent{},
			&domain.MonthlyAggregate{},
			&domain.ImportBatch{},
		)
	}),
)
