package seeders

import (
	"github.com/lalaz-foundation/forge/app/models"
	"github.com/lalaz-foundation/forge/pkg/auth"
	"gorm.io/gorm"
)

func init() {
	Register("admin_user", SeedAdminUser)
}

// SeedAdminUser creates the initial admin operator so the queue admin API
// is reachable on a fresh install. Idempotent: a second run is a no-op.
func SeedAdminUser(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", "admin@example.com").Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := auth.HashPassword("change-me-on-first-login")
	if err != nil {
		return err
	}

	return db.Create(&models.User{
		Name:     "Admin",
		Email:    "admin@example.com",
		Password: hash,
		Role:     "admin",
	}).Error
}
