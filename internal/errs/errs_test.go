package errs

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationErrorIs(t *testing.T) {
	err := Invalid(2, "value %q is not a number", "abc")

	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrInternal))
	assert.Equal(t, `rule 2: value "abc" is not a number`, err.Error())

	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, 2, ve.Index)
}

func TestInternalKeepsCause(t *testing.T) {
	err := Internal(sql.ErrConnDone)

	assert.True(t, errors.Is(err, ErrInternal))
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	assert.Equal(t, sql.ErrConnDone.Error(), err.Error())
	assert.Same(t, err, Internal(err))
	assert.Nil(t, Internal(nil))
}

func TestKinds(t *testing.T) {
	assert.True(t, errors.Is(NotFound("no customers"), ErrNotFound))
	assert.True(t, errors.Is(Capacity("too many"), ErrCapacity))
	assert.True(t, errors.Is(UserInput("short"), ErrUserInput))
	assert.Equal(t, "short", UserInput("short").Error())
}
