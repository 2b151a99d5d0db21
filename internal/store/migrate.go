package store

import (
	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// migrateLogger adapts zap to the migrate.Logger interface.
type migrateLogger struct{ l *zap.SugaredLogger }

func (m migrateLogger) Printf(format string, v ...any) { m.l.Infof(format, v...) }
func (m migrateLogger) Verbose() bool { return false }

// Migrate applies the embedded schema migrations. Already-current schemas are not an error.
func (p *Postgres) Migrate(log *zap.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "open embedded migrations")
	}
	drv, err := pgxmigrate.WithInstance(p.db.DB, &pgxmigrate.Config{})
	if err != nil {
		return errors.Wrap(err, "create migrate driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", drv)
	if err != nil {
		return errors.Wrap(err, "create migrate instance")
	}
	if log != nil {
		m.Log = migrateLogger{l: log.Sugar()}
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}
