package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckParameterForInjection(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		wantSQLi bool
	}{
		{name: "classic tautology", value: "x' OR '1'='1", wantSQLi: true},
		{name: "union select", value: "1 UNION SELECT username, password FROM users--", wantSQLi: true},
		{name: "stacked statement", value: "1; DROP TABLE orders", wantSQLi: true},
		{name: "plain value", value: "emea", wantSQLi: false},
		{name: "value with apostrophe", value: "O'Brien", wantSQLi: false},
		{name: "number is never checked", value: float64(42), wantSQLi: false},
		{name: "boolean is never checked", value: true, wantSQLi: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckParameterForInjection("p", tt.value)
			if !tt.wantSQLi {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.True(t, result.IsSQLi)
			assert.Equal(t, "p", result.ParamName)
			assert.Equal(t, tt.value, result.ParamValue)
			assert.NotEmpty(t, result.Fingerprint)
		})
	}
}

func TestCheckAllParameters(t *testing.T) {
	results := CheckAllParameters(map[string]any{
		"region": "emea",
		"limit":  float64(10),
		"name":   "x' OR '1'='1",
	})

	require.Len(t, results, 1)
	assert.Equal(t, "name", results[0].ParamName)

	assert.Empty(t, CheckAllParameters(map[string]any{"region": "emea"}))
	assert.Empty(t, CheckAllParameters(nil))
}
