package repositories

import (
	"github.com/lalaz-foundation/forge/app/models"
	"github.com/lalaz-foundation/forge/pkg/orm"
)

// UserRepository handles database operations for operator accounts.
type UserRepository struct{}

func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

// FindByEmail looks up an operator by email address.
func (r *UserRepository) FindByEmail(email string) (models.User, error) {
	var user models.User
	err := orm.DB().Model(&models.User{}).Where("email = ?", email).First(&user)
	return user, err
}

// FindByID looks up an operator by primary key.
func (r *UserRepository) FindByID(id uint) (models.User, error) {
	var user models.User
	err := orm.DB().Model(&models.User{}).Where("id = ?", id).First(&user)
	return user, err
}

// Create persists a new operator record.
func (r *UserRepository) Create(user *models.User) error {
	return orm.DB().Create(user)
}

// Update persists changes to an existing operator.
func (r *UserRepository) Update(user *models.User) error {
	return orm.DB().Save(user)
}

// All returns operators with pagination, for the admin user listing.
func (r *UserRepository) All(page, limit int) ([]models.User, orm.Pagination, error) {
	var users []models.User
	pagination, err := orm.DB().Model(&models.User{}).GetWithPagination(&users, page, limit)
	return users, pagination, err
}
