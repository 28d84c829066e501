package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDomainError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, ToDomainError(nil))
	})

	t.Run("wrapped domain error is unwrapped", func(t *testing.T) {
		err := fmt.Errorf("login: %w", NewUnauthorized("invalid credentials"))
		de := ToDomainError(err)
		require.NotNil(t, de)
		assert.Equal(t, "UNAUTHORIZED", de.Code)
		assert.Equal(t, http.StatusUnauthorized, de.HTTPStatus)
	})

	t.Run("fiber error keeps status", func(t *testing.T) {
		de := ToDomainError(fiber.NewError(http.StatusForbidden, "insufficient role"))
		assert.Equal(t, "FORBIDDEN", de.Code)
		assert.Equal(t, "insufficient role", de.Message)
		assert.Equal(t, http.StatusForbidden, de.HTTPStatus)
	})

	t.Run("unknown error becomes internal", func(t *testing.T) {
		cause := errors.New("connection reset")
		de := ToDomainError(cause)
		assert.Equal(t, "INTERNAL_ERROR", de.Code)
		assert.Equal(t, http.StatusInternalServerError, de.HTTPStatus)
		assert.ErrorIs(t, de, cause)
	})
}

func TestDomainErrorMessage(t *testing.T) {
	err := NewInternalError(errors.New("boom"))
	assert.Equal(t, "internal server error: boom", err.Error())

	conflict := NewConflict("username already registered", map[string]any{"username": "alice"})
	de := ToDomainError(conflict)
	assert.Equal(t, http.StatusConflict, de.HTTPStatus)
	assert.Equal(t, "alice", de.Details["username"])
}
