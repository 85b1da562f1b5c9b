// seed-establishment creates an establishment on the central store, makes sure the shared
// roles exist, creates its first user and prints a sync credential for the edge agent.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	SEED_ESTABLISHMENT_NAME="Main Street" SEED_USERNAME=owner go run ./cmd/seed-establishment
//
// Rerunning with the same SEED_ESTABLISHMENT_ID only issues a new credential.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/pos_sync_backend/config"
	"bitbucket.org/mmdatafocus/pos_sync_backend/models"
	"bitbucket.org/mmdatafocus/pos_sync_backend/utils"
	"gorm.io/gorm"
)

var defaultRoles = []string{"admin", "cashier", "waiter"}

type seedResult struct {
	EstablishmentId string `json:"establishmentId"`
	UserId          string `json:"userId"`
	Role            string `json:"role"`
	Token           string `json:"token"`
}

func main() {
	name := envOr("SEED_ESTABLISHMENT_NAME", "Main Establishment")
	username := envOr("SEED_USERNAME", "owner")
	establishmentId := strings.TrimSpace(os.Getenv("SEED_ESTABLISHMENT_ID"))

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	if err := models.MigrateTable(db); err != nil {
		fmt.Fprintf(os.Stderr, "failed to migrate: %v\n", err)
		os.Exit(1)
	}

	ctx := utils.SetSkipTenantScopeInContext(context.Background(), true)
	var res seedResult
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		est, err := findOrCreateEstablishment(tx, establishmentId, name)
		if err != nil {
			return err
		}
		roles, err := ensureRoles(tx)
		if err != nil {
			return err
		}
		user, err := findOrCreateUser(tx, est.ID, roles["admin"], username)
		if err != nil {
			return err
		}
		res.EstablishmentId = est.ID
		res.UserId = user.ID
		res.Role = "admin"
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	res.Token, err = utils.JwtGenerate(res.UserId, res.EstablishmentId, res.Role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to issue credential: %v\n", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		os.Exit(1)
	}
}

func findOrCreateEstablishment(tx *gorm.DB, id, name string) (*models.Establishment, error) {
	var est models.Establishment
	if id != "" {
		err := tx.Where("id = ?", id).Take(&est).Error
		if err == nil {
			return &est, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		est.ID = id
	}
	est.Name = name
	est.IsActive = true
	if err := tx.Create(&est).Error; err != nil {
		return nil, fmt.Errorf("create establishment: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Created establishment %q (%s)\n", name, est.ID)
	return &est, nil
}

func ensureRoles(tx *gorm.DB) (map[string]string, error) {
	ids := make(map[string]string, len(defaultRoles))
	for _, roleName := range defaultRoles {
		var role models.Role
		err := tx.Where("name = ?", roleName).Take(&role).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			role = models.Role{Name: roleName}
			err = tx.Create(&role).Error
		}
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", roleName, err)
		}
		ids[roleName] = role.ID
	}
	return ids, nil
}

func findOrCreateUser(tx *gorm.DB, establishmentId, roleId, username string) (*models.User, error) {
	var user models.User
	err := tx.Where("establishment_id = ? AND username = ?", establishmentId, username).Take(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	user = models.User{Username: username, FullName: username, RoleId: roleId, IsActive: true}
	user.EstablishmentId = establishmentId
	if err := tx.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &user, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
