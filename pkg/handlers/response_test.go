package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/apperrors"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) ApiResponse {
	t.Helper()
	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestWriteData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteData(rec, zap.NewNop(), http.StatusCreated, map[string]any{"id": "abc"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeEnvelope(t, rec)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Error)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "abc", data["id"])
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    string
		wantMessage string
	}{
		{
			name:        "not found",
			err:         fmt.Errorf("query abc: %w", apperrors.ErrNotFound),
			wantStatus:  http.StatusNotFound,
			wantCode:    "NOT_FOUND",
			wantMessage: "query abc: not found",
		},
		{
			name:        "bad input",
			err:         fmt.Errorf("%w: name is required", apperrors.ErrBadInput),
			wantStatus:  http.StatusBadRequest,
			wantCode:    "BAD_INPUT",
			wantMessage: "bad input: name is required",
		},
		{
			name:        "bad parameter",
			err:         apperrors.BadParameter("region", "is required"),
			wantStatus:  http.StatusBadRequest,
			wantCode:    "BAD_PARAMETER",
			wantMessage: `parameter "region": is required`,
		},
		{
			name:       "conflict",
			err:        fmt.Errorf("%w: 2 datasets still reference this query", apperrors.ErrConflict),
			wantStatus: http.StatusConflict,
			wantCode:   "CONFLICT",
		},
		{
			name:       "source unavailable",
			err:        fmt.Errorf("%w: connect refused", apperrors.ErrSourceUnavailable),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "SOURCE_UNAVAILABLE",
		},
		{
			name:        "internal cause is not leaked",
			err:         fmt.Errorf("pq: relation pulse_queries does not exist"),
			wantStatus:  http.StatusInternalServerError,
			wantCode:    "INTERNAL",
			wantMessage: "Internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, zap.NewNop(), tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)

			resp := decodeEnvelope(t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.Error)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, resp.Message)
			}
		})
	}
}

func TestErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, ErrorResponse(rec, http.StatusConflict, "run_in_progress", "a run is already in progress"))

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeEnvelope(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "run_in_progress", resp.Error)
	assert.Equal(t, "a run is already in progress", resp.Message)
}
