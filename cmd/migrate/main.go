package main

import (
	"os"

	"github.com/snaprepair/backend/internal/config"
	"github.com/snaprepair/backend/internal/db"
	"github.com/snaprepair/backend/internal/logger"
)

// Usage: migrate [up|status]
func main() {
	logger.Initialize()
	cfg := config.LoadDatabase()

	// Connect to database
	conn, err := db.Connect(cfg.DSN())
	if err != nil {
		logger.Fatal("Database connection failed", map[string]interface{}{"error": err.Error()})
	}

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up":
		logger.Info("Running database migrations...", nil)
		if err := db.AutoMigrate(conn); err != nil {
			logger.Fatal("Migration failed", map[string]interface{}{"error": err.Error()})
		}
		logger.Info("Database migrations completed successfully", nil)
	case "status":
		sqlDB, err := conn.DB()
		if err != nil {
			logger.Fatal("Failed to get sql.DB", map[string]interface{}{"error": err.Error()})
		}
		if err := db.MigrationStatus(sqlDB); err != nil {
			logger.Fatal("Failed to read migration status", map[string]interface{}{"error": err.Error()})
		}
	default:
		logger.Fatal("Unknown command", map[string]interface{}{"command": command, "usage": "migrate [up|status]"})
	}
}
