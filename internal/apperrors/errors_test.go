package apperrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("save composition: %w", NewValidationError("activity_id", "required"))

	assert.ErrorIs(t, err, ErrValidation)

	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "required", ve.Fields["activity_id"])
}

func TestValidationErrorMessageIsSorted(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"tax": "gte", "admin": "lte"}}
	assert.Equal(t, "validation failed: admin: lte, tax: gte", err.Error())
}

func TestPersistenceKeepsCauseAndSentinel(t *testing.T) {
	err := Persistence("apply global adjustment", context.DeadlineExceeded)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "apply global adjustment")
}

func TestPersistencePassesDomainErrorsThrough(t *testing.T) {
	assert.Nil(t, Persistence("op", nil))
	assert.Same(t, ErrNotFound, Persistence("op", ErrNotFound))
}
