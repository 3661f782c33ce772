package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/snaprepair/backend/internal/logger"
	"github.com/snaprepair/backend/internal/models"
)

// Connect opens the postgres connection. Driver errors are translated so
// the store layer can recognise duplicate keys.
func Connect(dsn string) (*gorm.DB, error) {
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Error), // Reduce logging to avoid issues
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("Database connected successfully", nil)
	return conn, nil
}

// AutoMigrate creates or updates the tables for every model, then applies
// the SQL migrations that gorm cannot express.
func AutoMigrate(conn *gorm.DB) error {
	tables := []interface{}{
		&models.User{},
		&models.Issue{},
		&models.Message{},
		&models.Payment{},
		&models.Feedback{},
	}
	for _, table := range tables {
		if err := conn.AutoMigrate(table); err != nil {
			return fmt.Errorf("auto-migrate %T: %w", table, err)
		}
	}
	logger.Info("Tables migrated successfully", map[string]interface{}{"count": len(tables)})

	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if err := RunMigrations(sqlDB); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("All database migrations completed successfully", nil)
	return nil
}

// Ping checks the database is reachable.
func Ping(conn *gorm.DB) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
