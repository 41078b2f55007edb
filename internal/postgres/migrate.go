package postgres

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver registration for goose
	"github.com/ternarybob/arbor"
)

// Migrate applies every pending migration in dir to the database at dsn
// using pressly/goose/v3, grounded on jordigilh-kubernaut's migration
// tooling. goose drives plain database/sql, so it opens its own
// short-lived *sql.DB over the pgx stdlib driver rather than sharing the
// pgxpool.Pool used by the rest of the core.
func Migrate(dsn, dir string, logger arbor.ILogger) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	logger.Info().Str("dir", dir).Msg("Applying database migrations")

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	logger.Info().Msg("Database migrations applied")

	return nil
}
