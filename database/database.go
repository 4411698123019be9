package database

import (
	"fmt"
	"time"

	"github.com/CUknot/chatroom_backend/config"
	"github.com/CUknot/chatroom_backend/models"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const connectAttempts = 10

// Connect establishes a connection to the database, retrying while the
// server is still starting up.
func Connect(cfg config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(gormLogLevel(cfg.Env))}

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < connectAttempts; i++ {
		db, err = Open(cfg.DBDriver, cfg.DSN(), gormCfg)
		if err == nil {
			log.Info().Str("driver", cfg.DBDriver).Msg("Database connection established")
			return db, nil
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("database not ready")
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, fmt.Errorf("connect %s: %w", cfg.DBDriver, err)
}

// Open opens a single connection pool for driver without retrying.
func Open(driver, dsn string, gormCfg *gorm.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// sqlite serializes writers; a single connection also keeps
		// ":memory:" databases shared by every caller.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db, nil
}

// Migrate automatically migrates the database schema
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Room{}, &models.Message{}, &models.Post{}, &models.User{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info().Msg("Database migration completed")
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormLogLevel(env string) logger.LogLevel {
	if env == "dev" {
		return logger.Warn
	}
	return logger.Error
}
