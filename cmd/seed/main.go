package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/snaprepair/backend/internal/config"
	"github.com/snaprepair/backend/internal/db"
	"github.com/snaprepair/backend/internal/logger"
	"github.com/snaprepair/backend/internal/models"
	"github.com/snaprepair/backend/internal/store"
)

// UserData represents the structure of users in the JSON file. Expert
// capability is granted only here, through the explicit isExpert flag.
type UserData struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	IsExpert bool   `json:"isExpert"`
}

// JSONData represents the structure of the JSON files
type JSONData struct {
	Users []UserData `json:"users"`
}

func main() {
	logger.Initialize()
	cfg := config.LoadDatabase()

	// Connect to database
	conn, err := db.Connect(cfg.DSN())
	if err != nil {
		logger.Fatal("Database connection failed", map[string]interface{}{"error": err.Error()})
	}

	// Run migrations first
	if err := db.AutoMigrate(conn); err != nil {
		logger.Fatal("Migration failed", map[string]interface{}{"error": err.Error()})
	}

	path := "data/initial-users.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	stores := store.NewGormStores(conn)
	if err := seedUsers(context.Background(), stores.Users, path); err != nil {
		logger.Fatal("Error seeding users", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("Database seeding completed successfully", nil)
}

func seedUsers(ctx context.Context, users store.UserStore, path string) error {
	usersData, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read users file: %w", err)
	}

	var jsonData JSONData
	if err := json.Unmarshal(usersData, &jsonData); err != nil {
		return fmt.Errorf("failed to parse users file: %w", err)
	}

	for _, userData := range jsonData.Users {
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(userData.Password), bcrypt.DefaultCost)
		if err != nil {
			logger.Error("Error hashing password", map[string]interface{}{"email": userData.Email, "error": err.Error()})
			continue
		}

		user := models.User{
			Email:    userData.Email,
			Password: string(hashedPassword),
			Name:     userData.Name,
			Phone:    userData.Phone,
			IsExpert: userData.IsExpert,
		}

		err = users.Create(ctx, &user)
		switch {
		case errors.Is(err, store.ErrDuplicate):
			logger.Warn("User already exists", map[string]interface{}{"email": user.Email})
		case err != nil:
			logger.Error("Error creating user", map[string]interface{}{"email": user.Email, "error": err.Error()})
		default:
			logger.Info("Created user", map[string]interface{}{
				"email":      user.Email,
				"capability": user.Actor().Capability,
			})
		}
	}

	return nil
}
