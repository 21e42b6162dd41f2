package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs(t *testing.T) {
	tcases := []struct {
		name string
		err  error
		code string
		want bool
	}{
		{"direct match", NotFound("conversation", nil), CodeNotFound, true},
		{"wrapped match", fmt.Errorf("load: %w", BadRequest("empty message", nil)), CodeBadRequest, true},
		{"different code", Conflict("version changed", nil), CodeNotFound, false},
		{"plain error", errors.New("boom"), CodeInternal, false},
		{"nil", nil, CodeNotFound, false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Is(tc.err, tc.code), "expected Is to be %v", tc.want)
		})
	}
}

func TestAsWrapsUnknownErrors(t *testing.T) {
	cause := errors.New("socket closed")
	appErr := As(cause)

	assert.Equal(t, CodeInternal, appErr.Code, "expected unknown errors to map to internal")
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.ErrorIs(t, appErr, cause, "expected the cause to be preserved")
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusOf(NotFound("user", nil)))
	assert.Equal(t, http.StatusBadGateway, StatusOf(UploadFailed("upload failed", nil)))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("x")))
}
