package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/apperrors"
	"github.com/pulsehq/pulse-engine/pkg/models"
)

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		query   models.Query
		wantErr string
	}{
		{
			name: "valid sql query",
			query: models.Query{
				Name:          "orders by region",
				Kind:          models.QueryKindSQL,
				Definition:    json.RawMessage(`{"sql":"SELECT * FROM orders WHERE region = :region"}`),
				ParameterDefs: []models.ParameterDef{{Name: "region", Type: models.ParamTypeString}},
			},
		},
		{
			name:    "name required",
			query:   models.Query{Kind: models.QueryKindSQL, Definition: json.RawMessage(`{"sql":"SELECT 1"}`)},
			wantErr: "name is required",
		},
		{
			name: "negative cache ttl",
			query: models.Query{
				Name:       "q",
				Kind:       models.QueryKindSQL,
				Definition: json.RawMessage(`{"sql":"SELECT 1"}`),
				CacheTTL:   -1,
			},
			wantErr: "cache_ttl",
		},
		{
			name: "bad parameter name",
			query: models.Query{
				Name:          "q",
				Kind:          models.QueryKindSQL,
				Definition:    json.RawMessage(`{"sql":"SELECT 1"}`),
				ParameterDefs: []models.ParameterDef{{Name: "drop table", Type: models.ParamTypeString}},
			},
			wantErr: "invalid parameter name",
		},
		{
			name: "sql definition missing sql field",
			query: models.Query{
				Name:       "q",
				Kind:       models.QueryKindSQL,
				Definition: json.RawMessage(`{}`),
			},
			wantErr: "sql field",
		},
		{
			name: "sql placeholder without declaration",
			query: models.Query{
				Name:       "q",
				Kind:       models.QueryKindSQL,
				Definition: json.RawMessage(`{"sql":"SELECT * FROM t WHERE id = :id"}`),
			},
			wantErr: "not defined",
		},
		{
			name: "rest definition missing url",
			query: models.Query{
				Name:       "q",
				Kind:       models.QueryKindREST,
				Definition: json.RawMessage(`{"method":"GET"}`),
			},
			wantErr: "url field",
		},
		{
			name: "valid expression with rest source",
			query: models.Query{
				Name:       "q",
				Kind:       models.QueryKindExpression,
				Definition: json.RawMessage(`{"expression":"sum($[*].total)","source_rest":{"url":"https://api.example.com/orders"}}`),
			},
		},
		{
			name: "expression requires exactly one source",
			query: models.Query{
				Name:       "q",
				Kind:       models.QueryKindExpression,
				Definition: json.RawMessage(`{"expression":"sum($[*].total)"}`),
			},
			wantErr: "exactly one",
		},
		{
			name: "expression syntax checked at save time",
			query: models.Query{
				Name:       "q",
				Kind:       models.QueryKindExpression,
				Definition: json.RawMessage(`{"expression":"sum($[*].total","source_rest":{"url":"https://api.example.com/orders"}}`),
			},
			wantErr: "expected",
		},
		{
			name: "custom kind rejected",
			query: models.Query{
				Name:       "q",
				Kind:       models.QueryKindCustom,
				Definition: json.RawMessage(`{"code":"return 1"}`),
			},
			wantErr: "no longer supported",
		},
		{
			name: "unknown kind",
			query: models.Query{
				Name:       "q",
				Kind:       "graphql",
				Definition: json.RawMessage(`{}`),
			},
			wantErr: "unknown query kind",
		},
	}

	svc := &queryService{logger: zap.NewNop()}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.validate(context.Background(), &tt.query)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, apperrors.KindBadInput, apperrors.KindOf(err))
		})
	}
}

func TestNormalizeResult(t *testing.T) {
	rows := []map[string]any{
		{"region": "emea", "total": float64(10)},
		{"region": "apac", "total": float64(25), "note": "rush"},
	}

	result := normalizeResult(rows, 12.5)

	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, 3, result.ColumnCount)
	assert.Equal(t, 12.5, result.ExecutionTime)

	// Every row carries the full key set; gaps become explicit nulls.
	require.Contains(t, result.Rows[0], "note")
	assert.Nil(t, result.Rows[0]["note"])
	assert.Equal(t, "rush", result.Rows[1]["note"])

	assert.Equal(t, "string", result.Schema["region"].Type)
	assert.Equal(t, "number", result.Schema["total"].Type)
	assert.Equal(t, "string", result.Schema["note"].Type)
	assert.True(t, result.Schema["note"].Nullable)
	assert.False(t, result.Schema["region"].Nullable)
}

func TestNormalizeResultTypeWidening(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want string
	}{
		{name: "date stays date", a: "2026-01-02", b: "2026-03-04", want: "date"},
		{name: "date and string widen to string", a: "2026-01-02", b: "hello", want: "string"},
		{name: "mixed types widen to unknown", a: float64(1), b: "hello", want: "unknown"},
		{name: "booleans", a: true, b: false, want: "boolean"},
		{name: "nested objects", a: map[string]any{"x": 1}, b: map[string]any{}, want: "object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizeResult([]map[string]any{{"v": tt.a}, {"v": tt.b}}, 0)
			assert.Equal(t, tt.want, result.Schema["v"].Type)
		})
	}
}

func TestNormalizeResultEmpty(t *testing.T) {
	result := normalizeResult(nil, 0)
	assert.Equal(t, 0, result.RowCount)
	assert.Equal(t, 0, result.ColumnCount)
	assert.Empty(t, result.Rows)
}

func TestExpressionRecords(t *testing.T) {
	assert.Equal(t, []map[string]any{}, expressionRecords(nil))
	assert.Equal(t, []map[string]any{{"value": float64(40)}}, expressionRecords(float64(40)))
	assert.Equal(t,
		[]map[string]any{{"a": float64(1)}},
		expressionRecords(map[string]any{"a": float64(1)}))
	assert.Equal(t,
		[]map[string]any{{"a": float64(1)}, {"value": "x"}},
		expressionRecords([]any{map[string]any{"a": float64(1)}, "x"}))
}

func TestApplySourceDefaults(t *testing.T) {
	def := models.RESTDefinition{
		URL:     "orders/recent",
		Headers: map[string]string{"X-Tenant": "acme"},
	}
	config := map[string]any{
		"base_url": "https://api.example.com/",
		"headers": map[string]any{
			"Authorization": "Bearer token",
			"X-Tenant":      "other",
		},
	}

	applySourceDefaults(&def, config)

	assert.Equal(t, "https://api.example.com/orders/recent", def.URL)
	assert.Equal(t, "Bearer token", def.Headers["Authorization"])
	assert.Equal(t, "acme", def.Headers["X-Tenant"], "definition headers win")
}

func TestApplySourceDefaultsAbsoluteURLUntouched(t *testing.T) {
	def := models.RESTDefinition{URL: "https://other.example.com/data"}

	applySourceDefaults(&def, map[string]any{"base_url": "https://api.example.com"})

	assert.Equal(t, "https://other.example.com/data", def.URL)
}
