package migration

import (
	"strings"

	"github.com/smallbiznis/tontine/internal/config"
	"github.com/smallbiznis/tontine/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")

		switch strings.ToLower(strings.TrimSpace(cfg.DBType)) {
		case "postgres", "postgresql", "":
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		default:
			if err := AutoMigrate(conn); err != nil {
				return err
			}
		}
		log.Info("schema up to date", zap.String("dialect", cfg.DBType))

		if cfg.Bootstrap.AgentPhone != "" {
			return seed.EnsureBootstrapAgent(conn, cfg.Bootstrap)
		}
		return nil
	}),
)
