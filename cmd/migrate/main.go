package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"image-editor/internal/uploaddb"
)

type cliArgs struct {
	DSN        string `help:"Upload history database DSN." env:"UPLOAD_DB_DSN" required:""`
	Migrations string `help:"Directory holding the SQL migrations." env:"MIGRATIONS_PATH" default:"migrations" type:"path"`
	Steps      int    `help:"Apply only this many migrations; negative values roll back."`
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	var args cliArgs
	kong.Parse(&args, kong.Name("migrate"), kong.Description("Apply upload history migrations."))

	if err := run(args); err != nil {
		slog.Error("migration failed", "err", err)
		os.Exit(1)
	}
}

func run(args cliArgs) error {
	db, err := uploaddb.Open(args.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	driver, err := mysql.WithInstance(db, &mysql.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+args.Migrations, "mysql", driver)
	if err != nil {
		return err
	}

	var applyErr error
	if args.Steps != 0 {
		applyErr = m.Steps(args.Steps)
	} else {
		applyErr = m.Up()
	}
	if applyErr != nil && !errors.Is(applyErr, migrate.ErrNoChange) {
		return applyErr
	}
	changed := applyErr == nil

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		slog.Info("migration completed", "version", "none")
	case err != nil:
		return err
	case dirty:
		slog.Warn("migration completed with a dirty schema", "version", version)
	default:
		slog.Info("migration completed", "version", version, "changed", changed)
	}
	return nil
}
