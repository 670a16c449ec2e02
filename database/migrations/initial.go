package migrations

import (
	"github.com/lalaz-foundation/forge/app/models"
	"github.com/lalaz-foundation/forge/pkg/migration"
	"gorm.io/gorm"
)

func init() {
	migration.Register("20260101000000_create_users_table", &CreateUsersTable{})
}

// CreateUsersTable creates the operator-accounts table for the admin API.
// The queue tables (jobs, failed jobs, execution logs) are not migrated
// here: the SQL job store migrates its own tables when it is constructed,
// so they exist on whichever database QUEUE_DRIVER points at.
type CreateUsersTable struct{}

func (m *CreateUsersTable) Up(db *gorm.DB) error {
	return db.AutoMigrate(&models.User{})
}

func (m *CreateUsersTable) Down(db *gorm.DB) error {
	return db.Migrator().DropTable("users")
}
