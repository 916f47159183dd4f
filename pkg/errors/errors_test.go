package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"screen-service/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func TestServiceError_Is(t *testing.T) {
	err := errors.Newf(errors.ErrNotFound, "Device '%s' not found", "dev_1")

	assert.True(t, stderrors.Is(err, errors.ErrNotFound))
	assert.False(t, stderrors.Is(err, errors.ErrConflict))
	assert.Equal(t, 404, err.Status)
	assert.Equal(t, "NOT_FOUND: Device 'dev_1' not found", err.Error())
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("dial tcp: refused")
	err := errors.Wrap(cause, errors.ErrBackendUnavailable)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, errors.ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "dial tcp: refused")
}

func TestAs(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", errors.ErrForbidden)
	assert.Equal(t, "FORBIDDEN", errors.As(wrapped).Code)

	plain := errors.As(fmt.Errorf("boom"))
	assert.Equal(t, errors.ErrInternalServer.Code, plain.Code)
	assert.Equal(t, 500, plain.Status)
}
