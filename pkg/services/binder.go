// Package services contains the business logic layer: parameter binding,
// query execution, dataset lifecycle, rendering, composition, and the
// collaborating entity services.
package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pulsehq/pulse-engine/pkg/apperrors"
	"github.com/pulsehq/pulse-engine/pkg/jsonutil"
	"github.com/pulsehq/pulse-engine/pkg/models"
	pulsesql "github.com/pulsehq/pulse-engine/pkg/sql"
)

// BindParameters resolves supplied values against a query's declared
// parameter definitions: defaults applied, values coerced per type, validation
// rules enforced, and string values screened for SQL injection patterns. The
// returned map holds one canonical value per declared parameter.
//
// Values for undeclared parameter names are rejected rather than dropped so a
// typo never silently changes which rows a query returns.
func BindParameters(defs []models.ParameterDef, values map[string]any) (map[string]any, error) {
	declared := make(map[string]bool, len(defs))
	for _, def := range defs {
		declared[def.Name] = true
	}
	for name := range values {
		if !declared[name] {
			return nil, apperrors.BadParameter(name, "not declared")
		}
	}

	bound := make(map[string]any, len(defs))
	for _, def := range defs {
		if !models.ParameterNamePattern.MatchString(def.Name) {
			return nil, apperrors.BadParameter(def.Name, "invalid parameter name")
		}

		raw, present := values[def.Name]
		if !present || raw == nil {
			if def.Default != nil {
				raw = def.Default
			} else if def.Required {
				return nil, apperrors.BadParameter(def.Name, "required")
			} else {
				continue
			}
		}

		coerced, err := coerceParameter(&def, raw)
		if err != nil {
			return nil, err
		}
		if err := validateParameter(&def, coerced); err != nil {
			return nil, err
		}
		bound[def.Name] = coerced
	}

	if result := pulsesql.CheckAllParameters(bound); len(result) > 0 {
		return nil, apperrors.BadParameter(result[0].ParamName, "value matches a SQL injection pattern")
	}

	return bound, nil
}

// coerceParameter normalizes a raw value to the parameter's declared type.
func coerceParameter(def *models.ParameterDef, raw any) (any, error) {
	switch def.Type {
	case models.ParamTypeString, models.ParamTypeUser:
		s, ok := raw.(string)
		if !ok {
			return nil, apperrors.BadParameter(def.Name, "expected a string")
		}
		return strings.TrimSpace(s), nil

	case models.ParamTypeNumber:
		return coerceNumber(def.Name, raw)

	case models.ParamTypeBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, apperrors.BadParameter(def.Name, "expected true or false")

	case models.ParamTypeDate:
		return coerceTime(def.Name, raw, "2006-01-02")

	case models.ParamTypeDatetime:
		return coerceTime(def.Name, raw, time.RFC3339)

	case models.ParamTypeSelect:
		s, ok := raw.(string)
		if !ok {
			return nil, apperrors.BadParameter(def.Name, "expected a string")
		}
		s = strings.TrimSpace(s)
		for _, opt := range def.Options {
			if s == opt {
				return s, nil
			}
		}
		return nil, apperrors.BadParameter(def.Name, "value is not one of the allowed options")

	case models.ParamTypeMulti:
		items, ok := raw.([]any)
		if !ok {
			return nil, apperrors.BadParameter(def.Name, "expected a list")
		}
		out := make([]any, 0, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, apperrors.BadParameter(def.Name, "expected a list of strings")
			}
			s = strings.TrimSpace(s)
			if len(def.Options) > 0 && !containsString(def.Options, s) {
				return nil, apperrors.BadParameter(def.Name, "value is not one of the allowed options")
			}
			out = append(out, s)
		}
		return out, nil

	case models.ParamTypeRange:
		items, ok := raw.([]any)
		if !ok || len(items) != 2 {
			return nil, apperrors.BadParameter(def.Name, "expected a [low, high] pair")
		}
		low, err := coerceNumber(def.Name, items[0])
		if err != nil {
			return nil, err
		}
		high, err := coerceNumber(def.Name, items[1])
		if err != nil {
			return nil, err
		}
		if low > high {
			return nil, apperrors.BadParameter(def.Name, "range low exceeds high")
		}
		return []any{low, high}, nil
	}

	return nil, apperrors.BadParameter(def.Name, fmt.Sprintf("unknown parameter type %q", def.Type))
}

func coerceNumber(name string, raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		if v != v { // NaN
			return 0, apperrors.BadParameter(name, "number is NaN")
		}
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || parsed != parsed {
			return 0, apperrors.BadParameter(name, "not a valid number")
		}
		return parsed, nil
	}
	return 0, apperrors.BadParameter(name, "expected a number")
}

// coerceTime parses and re-renders so the canonical form is stable regardless
// of input fractional seconds or offsets.
func coerceTime(name string, raw any, layout string) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", apperrors.BadParameter(name, "expected a date string")
	}
	t, err := time.Parse(layout, strings.TrimSpace(s))
	if err != nil {
		return "", apperrors.BadParameter(name, "not a valid date")
	}
	return t.Format(layout), nil
}

func validateParameter(def *models.ParameterDef, value any) error {
	if def.Validation == nil {
		return nil
	}
	v := def.Validation

	if num, ok := value.(float64); ok {
		if v.Min != nil && num < *v.Min {
			return apperrors.BadParameter(def.Name, fmt.Sprintf("below minimum %v", *v.Min))
		}
		if v.Max != nil && num > *v.Max {
			return apperrors.BadParameter(def.Name, fmt.Sprintf("above maximum %v", *v.Max))
		}
	}

	if s, ok := value.(string); ok {
		if v.Min != nil && float64(len(s)) < *v.Min {
			return apperrors.BadParameter(def.Name, "too short")
		}
		if v.Max != nil && float64(len(s)) > *v.Max {
			return apperrors.BadParameter(def.Name, "too long")
		}
		if v.Pattern != "" {
			re, err := regexp.Compile(v.Pattern)
			if err != nil {
				return apperrors.BadParameter(def.Name, "invalid validation pattern")
			}
			if !re.MatchString(s) {
				return apperrors.BadParameter(def.Name, "does not match the required pattern")
			}
		}
	}

	return nil
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// CacheKey computes the result cache key for an execution: a stable hash of
// the query id and the canonical (sorted-keys) JSON form of the bound
// parameter map. Equal parameter maps produce equal keys regardless of
// insertion order.
func CacheKey(queryID uuid.UUID, bound map[string]any) (string, error) {
	canonical, err := jsonutil.Canonical(bound)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize parameters: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(queryID.String()))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
