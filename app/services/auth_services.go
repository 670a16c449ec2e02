package services

import (
	"errors"

	"github.com/lalaz-foundation/forge/app/models"
	"github.com/lalaz-foundation/forge/app/repositories"
	"github.com/lalaz-foundation/forge/pkg/auth"
)

// AuthService authenticates operator accounts for the admin API.
type AuthService struct {
	users *repositories.UserRepository
}

func NewAuthService() *AuthService {
	return &AuthService{users: repositories.NewUserRepository()}
}

// Login looks up the operator by email, verifies the password and returns a
// signed JWT plus a refresh token.
func (s *AuthService) Login(email, password string) (token string, refresh string, err error) {
	user, err := s.users.FindByEmail(email)
	if err != nil {
		return "", "", errors.New("invalid credentials")
	}

	if !auth.CheckPassword(user.Password, password) {
		return "", "", errors.New("invalid credentials")
	}

	token, err = auth.GenerateToken(user.ID, user.Role)
	if err != nil {
		return "", "", err
	}

	refresh, err = auth.GenerateRefreshToken(user.ID, user.Role)
	return token, refresh, err
}

// Register creates a new operator with a hashed password. New accounts get
// the "user" role; promoting one to "admin" (required for the queue admin
// endpoints) is a seeding or manual operation.
func (s *AuthService) Register(name, email, password string) (models.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		Name:     name,
		Email:    email,
		Password: hash,
		Role:     "user",
	}

	if err := s.users.Create(&user); err != nil {
		return models.User{}, err
	}

	return user, nil
}

// Profile looks up an operator by id for the authenticated-profile endpoint.
func (s *AuthService) Profile(userID uint) (models.User, error) {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return models.User{}, errors.New("user not found")
	}
	return user, nil
}

// UpdateProfile updates the authenticated operator's name.
func (s *AuthService) UpdateProfile(userID uint, name string) (models.User, error) {
	user, err := s.Profile(userID)
	if err != nil {
		return models.User{}, err
	}

	user.Name = name
	if err := s.users.Update(&user); err != nil {
		return models.User{}, err
	}
	return user, nil
}
