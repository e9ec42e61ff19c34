package main

import (
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/marwanabdalla1/ServiceHub-sub001/internal/config"
	"github.com/marwanabdalla1/ServiceHub-sub001/migrations"
)

// Usage: servicehub-migrate [up|down|version|force <version>]
func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With(slog.String("service", "servicehub-migrate"))

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Error("open db failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Error("ping db failed", slog.Any("err", err))
		os.Exit(1)
	}

	dbDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		log.Error("db driver failed", slog.Any("err", err))
		os.Exit(1)
	}
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		log.Error("source driver failed", slog.Any("err", err))
		os.Exit(1)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		log.Error("create migrator failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() { _, _ = m.Close() }()

	cmd := "up"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "version":
		version, dirty, verr := m.Version()
		if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
			log.Error("read version failed", slog.Any("err", verr))
			os.Exit(1)
		}
		log.Info("schema version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
		return
	case "force":
		if len(os.Args) < 3 {
			log.Error("force requires a version")
			os.Exit(2)
		}
		version, perr := strconv.Atoi(os.Args[2])
		if perr != nil {
			log.Error("invalid version", slog.Any("err", perr))
			os.Exit(2)
		}
		err = m.Force(version)
	default:
		log.Error("unknown command", slog.String("command", cmd))
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Error("migration failed", slog.String("command", cmd), slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("migrations complete", slog.String("command", cmd))
}
