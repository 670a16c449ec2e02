package models

import "gorm.io/gorm"

// User is an operator account for the admin API. The queue and event
// subsystems own their own tables; users exist only to authenticate and
// authorize access to the administrative surface.
type User struct {
	gorm.Model
	Name     string `gorm:"size:255;not null" json:"name"`
	Email    string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Password string `gorm:"size:255;not null" json:"-"` // hashed, never serialised
	Role     string `gorm:"size:50;default:user" json:"role"`
}
