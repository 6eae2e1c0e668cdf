package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewError(t *testing.T) {
	t.Run("known code keeps status", func(t *testing.T) {
		err := NewError(ErrAuthentication)
		assert.Equal(t, ErrAuthentication, err.Code)
		assert.Equal(t, http.StatusUnauthorized, err.Status)
	})

	t.Run("missing status defaults to 200", func(t *testing.T) {
		err := NewError(ErrMessageEmpty)
		assert.Equal(t, http.StatusOK, err.Status)
	})

	t.Run("details are formatted into the template", func(t *testing.T) {
		err := NewError(ErrUnsupportedEvent, "typing")
		assert.Equal(t, "Unsupported event type: typing.", err.Message)
	})

	t.Run("unknown code falls back to ErrUnknown", func(t *testing.T) {
		err := NewError(424242)
		assert.Equal(t, ErrUnknown, err.Code)
		assert.Equal(t, http.StatusInternalServerError, err.Status)
	})

	t.Run("template is not mutated", func(t *testing.T) {
		_ = NewError(ErrMessageContentTooLong, 10)
		assert.Equal(t, "Message is too long (max %d bytes).", errorMap[ErrMessageContentTooLong].Message)
	})
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrPersistence, cause)

	assert.ErrorIs(t, err, cause, "expected cause to be reachable through Unwrap")
	assert.ErrorIs(t, err, NewError(ErrPersistence), "expected codes to match")
	assert.NotErrorIs(t, err, NewError(ErrNotAuthorized))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrNotAuthorized, CodeOf(NewError(ErrNotAuthorized)))
	assert.Equal(t, ErrPersistence, CodeOf(fmt.Errorf("send: %w", Wrap(ErrPersistence, errors.New("boom")))))
	assert.Equal(t, ErrUnknown, CodeOf(errors.New("plain")))
}
