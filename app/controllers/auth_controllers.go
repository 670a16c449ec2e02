package controllers

import (
	"net/http"

	"github.com/lalaz-foundation/forge/app/services"
	"github.com/lalaz-foundation/forge/pkg/bind"
	"github.com/lalaz-foundation/forge/pkg/middleware"
	"github.com/lalaz-foundation/forge/pkg/response"
)

type AuthController struct {
	service *services.AuthService
}

func NewAuthController() *AuthController {
	return &AuthController{
		service: services.NewAuthService(),
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if errs, err := bind.JSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	} else if errs != nil {
		response.ValidationError(w, errs)
		return
	}

	token, refresh, err := c.service.Login(body.Email, body.Password)
	if err != nil {
		response.Unauthorized(w)
		return
	}

	response.Success(w, map[string]string{
		"token":         token,
		"refresh_token": refresh,
	})
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=2"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (c *AuthController) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if errs, err := bind.JSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	} else if errs != nil {
		response.ValidationError(w, errs)
		return
	}

	user, err := c.service.Register(body.Name, body.Email, body.Password)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "could not register user")
		return
	}

	response.Created(w, user)
}

func (c *AuthController) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r)
	if !ok {
		response.Unauthorized(w)
		return
	}

	user, err := c.service.Profile(userID)
	if err != nil {
		response.NotFound(w)
		return
	}

	response.Success(w, user)
}

func (c *AuthController) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r)
	if !ok {
		response.Unauthorized(w)
		return
	}

	var body struct {
		Name string `json:"name" validate:"required,min=2"`
	}
	if errs, err := bind.JSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	} else if errs != nil {
		response.ValidationError(w, errs)
		return
	}

	user, err := c.service.UpdateProfile(userID, body.Name)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "could not update profile")
		return
	}

	response.Success(w, user)
}
