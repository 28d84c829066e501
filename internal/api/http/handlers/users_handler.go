package handlers

import (
	"errors"
	"net/http"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/user-service/internal/api/dto"
	"github.com/spec-kit/user-service/internal/repository"
	"github.com/spec-kit/user-service/internal/service"
	apperrors "github.com/spec-kit/user-service/pkg/util/errorutil"
)

// UsersHandler exposes registration, login and listing endpoints.
type UsersHandler struct {
	auth  *service.AuthService
	users *service.UserService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(authService *service.AuthService, userService *service.UserService) *UsersHandler {
	return &UsersHandler{auth: authService, users: userService}
}

// Register handles POST /users/register.
func (h *UsersHandler) Register(c *fiber.Ctx) error {
	var req dto.UserRegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := req.Validate(); err != nil {
		return validationError(err)
	}

	user, err := h.auth.Register(c.UserContext(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		if errors.Is(err, repository.ErrUsernameTaken) {
			return apperrors.NewConflict("username already registered", map[string]any{"username": req.Username})
		}
		return apperrors.NewInternalError(err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": fiber.Map{"user": dto.ToUserResponse(user)},
	})
}

// Login handles POST /users/login.
func (h *UsersHandler) Login(c *fiber.Ctx) error {
	var req dto.UserLoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := req.Validate(); err != nil {
		return validationError(err)
	}

	user, token, err := h.auth.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			return apperrors.NewUnauthorized("invalid credentials")
		case errors.Is(err, service.ErrTooManyAttempts):
			retryAfter := h.auth.RetryAfter(c.UserContext(), req.Username)
			if retryAfter > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			}
			return apperrors.NewTooManyRequests("too many failed login attempts", map[string]any{"retry_after_seconds": retryAfter})
		default:
			return apperrors.NewInternalError(err)
		}
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user": dto.ToUserResponse(user),
			"auth": dto.AuthResponse{Token: token.Value, TokenType: "Bearer", ExpiresAt: token.ExpiresAt},
		},
	})
}

// List handles GET /users.
func (h *UsersHandler) List(c *fiber.Ctx) error {
	users, err := h.users.List(c.UserContext())
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	return c.JSON(fiber.Map{"data": dto.ToUserResponses(users)})
}

func validationError(err error) error {
	details := map[string]any{}
	var errs validation.Errors
	if errors.As(err, &errs) {
		for field, fieldErr := range errs {
			details[field] = fieldErr.Error()
		}
	}
	return apperrors.NewValidationError("validation failed", details)
}
