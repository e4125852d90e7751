package apperrors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "not found", err: fmt.Errorf("query %s: %w", "abc", ErrNotFound), want: KindNotFound},
		{name: "conflict", err: ErrConflict, want: KindConflict},
		{name: "bad input", err: fmt.Errorf("%w: name is required", ErrBadInput), want: KindBadInput},
		{name: "bad parameter", err: BadParameter("region", "is required"), want: KindBadParameter},
		{name: "source unavailable", err: ErrSourceUnavailable, want: KindSourceUnavailable},
		{name: "source timeout", err: ErrSourceTimeout, want: KindSourceTimeout},
		{name: "source rejected", err: ErrSourceRejected, want: KindSourceRejected},
		{name: "decode", err: ErrDecode, want: KindDecodeError},
		{name: "plain error is internal", err: fmt.Errorf("boom"), want: KindInternal},
		{name: "explicit internal", err: fmt.Errorf("wrap: %w", ErrInternal), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindBadInput))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindBadParameter))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindConflict))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(KindSourceUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(KindSourceTimeout))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindSourceRejected))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindDecodeError))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus("made-up"))
}

func TestParameterError(t *testing.T) {
	err := BadParameter("limit", "above maximum of 100")

	pe, ok := AsParameterError(err)
	require.True(t, ok)
	assert.Equal(t, "limit", pe.Name)
	assert.Contains(t, err.Error(), "limit")
	assert.Contains(t, err.Error(), "above maximum")

	wrapped := fmt.Errorf("binding failed: %w", err)
	pe, ok = AsParameterError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "limit", pe.Name)

	_, ok = AsParameterError(ErrBadInput)
	assert.False(t, ok)
}
