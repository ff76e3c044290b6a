package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKindSentinel(t *testing.T) {
	errStale := New(KindConflict, "swap: version conflict")
	wrapped := fmt.Errorf("transition: %w", errStale)

	assert.True(t, errors.Is(wrapped, ErrConflict))
	assert.True(t, errors.Is(wrapped, errStale))
	assert.False(t, errors.Is(wrapped, ErrValidation))
	assert.False(t, errors.Is(wrapped, New(KindConflict, "other conflict")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(KindConflict, "stale")))
	assert.True(t, Retryable(Wrap(KindExternalDependency, "assign", errors.New("timeout"))))
	assert.False(t, Retryable(Validationf("bad state %s", "X")))
	assert.False(t, Retryable(New(KindAuthorization, "nope")))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindValidation:          http.StatusBadRequest,
		KindAuthorization:       http.StatusForbidden,
		KindConflict:            http.StatusConflict,
		KindInsufficientBalance: http.StatusUnprocessableEntity,
		KindNotFound:            http.StatusNotFound,
		KindExternalDependency:  http.StatusBadGateway,
	}
	for kind, want := range cases {
		assert.Equal(t, want, HTTPStatus(New(kind, "x")), kind.String())
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(KindExternalDependency, "delivery: assign", errors.New("dial tcp: refused"))
	assert.Equal(t, "delivery: assign: dial tcp: refused", err.Error())
	assert.Equal(t, "ConflictError", ErrConflict.Error())
}
