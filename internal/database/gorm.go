package database

import (
	"fmt"
	"log/slog"

	"guest-concierge/internal/config"
	"guest-concierge/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the database selected by cfg.DBDriver and migrates the schema.
func Open(cfg *config.Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	gcfg := &gorm.Config{Logger: gormLogger(cfg.LogLevel)}

	switch cfg.DBDriver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(PostgresDSN(cfg)), gcfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		slog.Info("connected to PostgreSQL", "host", cfg.DBHost, "db", cfg.DBName)
	case "sqlite", "":
		db, err = OpenSQLite(cfg.DBPath, gcfg)
		if err != nil {
			return nil, err
		}
		slog.Info("connected to SQLite", "path", cfg.DBPath)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// PostgresDSN builds the key/value DSN from the DB_* settings.
func PostgresDSN(cfg *config.Config) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
}

// OpenSQLite opens a SQLite database. A single connection is used so that
// writers never see "database is locked".
func OpenSQLite(dsn string, gcfg *gorm.Config) (*gorm.DB, error) {
	if gcfg == nil {
		gcfg = &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	}
	db, err := gorm.Open(sqlite.Open(dsn), gcfg)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	slog.Debug("database migration completed")
	return nil
}

func gormLogger(level slog.Level) logger.Interface {
	if level <= slog.LevelDebug {
		return logger.Default.LogMode(logger.Info)
	}
	return logger.Default.LogMode(logger.Warn)
}
