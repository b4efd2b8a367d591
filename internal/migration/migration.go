package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	agentdomain "github.com/smallbiznis/tontine/internal/agent/domain"
	clientdomain "github.com/smallbiznis/tontine/internal/client/domain"
	commissiondomain "github.com/smallbiznis/tontine/internal/commission/domain"
	"github.com/smallbiznis/tontine/internal/events"
	obligationdomain "github.com/smallbiznis/tontine/internal/obligation/domain"
	paymentdomain "github.com/smallbiznis/tontine/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/tontine/internal/subscription/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded SQL migrations against a postgres database.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// Models lists the tables owned by the service, in dependency order.
func Models() []any {
	return []any{
		&agentdomain.Agent{},
		&clientdomain.Sequence{},
		&clientdomain.Client{},
		&subscriptiondomain.Subscription{},
		&obligationdomain.Obligation{},
		&commissiondomain.Commission{},
		&paymentdomain.Attempt{},
		&events.Record{},
	}
}

// AutoMigrate creates the schema from the gorm models. It serves the
// mysql and sqlite dialects, which the SQL migrations do not target.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
