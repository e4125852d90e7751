// Package render turns dataset rows into renderer-ready payloads through the
// filter, aggregate, and map stages.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pulsehq/pulse-engine/pkg/models"
)

// Filter applies a visualization's filter list to rows. Filters combine with
// AND. A filter with an unknown operator passes every row and logs a warning
// so a frontend typo degrades to "show everything" instead of a blank chart.
func Filter(rows []map[string]any, filters []models.VizFilter, logger *zap.Logger) []map[string]any {
	if len(filters) == 0 {
		return rows
	}

	known := make([]models.VizFilter, 0, len(filters))
	for _, f := range filters {
		if !knownOperator(f.Operator) {
			logger.Warn("Unknown filter operator, passing rows through",
				zap.String("field", f.Field),
				zap.String("operator", f.Operator))
			continue
		}
		known = append(known, f)
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		keep := true
		for _, f := range known {
			if !matchFilter(row[f.Field], &f) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out
}

func knownOperator(op string) bool {
	switch op {
	case models.OpEquals, models.OpNotEquals, models.OpContains, models.OpNotContains,
		models.OpGreaterThan, models.OpLessThan, models.OpBetween,
		models.OpIn, models.OpNotIn, models.OpIsNull, models.OpIsNotNull:
		return true
	}
	return false
}

func matchFilter(value any, f *models.VizFilter) bool {
	switch f.Operator {
	case models.OpIsNull:
		return value == nil
	case models.OpIsNotNull:
		return value != nil
	}
	if value == nil {
		return false
	}

	switch f.Operator {
	case models.OpEquals:
		return equalValues(value, f.Value, f.CaseSensitive)
	case models.OpNotEquals:
		return !equalValues(value, f.Value, f.CaseSensitive)
	case models.OpContains:
		return containsValue(value, f.Value, f.CaseSensitive)
	case models.OpNotContains:
		return !containsValue(value, f.Value, f.CaseSensitive)
	case models.OpGreaterThan:
		a, aok := toFloat(value)
		b, bok := toFloat(f.Value)
		return aok && bok && a > b
	case models.OpLessThan:
		a, aok := toFloat(value)
		b, bok := toFloat(f.Value)
		return aok && bok && a < b
	case models.OpBetween:
		bounds, ok := f.Value.([]any)
		if !ok || len(bounds) != 2 {
			return false
		}
		a, aok := toFloat(value)
		low, lok := toFloat(bounds[0])
		high, hok := toFloat(bounds[1])
		return aok && lok && hok && a >= low && a <= high
	case models.OpIn, models.OpNotIn:
		list, ok := f.Value.([]any)
		if !ok {
			return f.Operator == models.OpNotIn
		}
		found := false
		for _, item := range list {
			if equalValues(value, item, f.CaseSensitive) {
				found = true
				break
			}
		}
		if f.Operator == models.OpIn {
			return found
		}
		return !found
	}
	return false
}

func equalValues(a, b any, caseSensitive bool) bool {
	if an, ok := toFloat(a); ok {
		if bn, ok := toFloat(b); ok {
			return an == bn
		}
	}
	as := stringValue(a)
	bs := stringValue(b)
	if caseSensitive {
		return as == bs
	}
	return strings.EqualFold(as, bs)
}

func containsValue(a, b any, caseSensitive bool) bool {
	as := stringValue(a)
	bs := stringValue(b)
	if !caseSensitive {
		as = strings.ToLower(as)
		bs = strings.ToLower(bs)
	}
	return strings.Contains(as, bs)
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// GroupField returns the field rows are grouped by: the mapping's x, category,
// or dimension, first one set.
func GroupField(mapping *models.DataMapping) string {
	for _, f := range []string{mapping.X, mapping.Category, mapping.Dimension} {
		if f != "" {
			return f
		}
	}
	return ""
}

// Aggregate groups rows by the mapping's group field and computes each
// aggregation, emitting one record per group with the group key plus one
// "{field}_{op}" column per aggregation. Null values are excluded; non-numeric
// values coerce to float with failures counting as zero.
func Aggregate(rows []map[string]any, mapping *models.DataMapping, aggs []models.VizAggregation) []map[string]any {
	if len(aggs) == 0 {
		return rows
	}

	groupField := GroupField(mapping)
	type bucket struct {
		key  any
		rows []map[string]any
	}
	var order []string
	buckets := make(map[string]*bucket)

	for _, row := range rows {
		key := row[groupField]
		ks := stringValue(key)
		b, ok := buckets[ks]
		if !ok {
			b = &bucket{key: key}
			buckets[ks] = b
			order = append(order, ks)
		}
		b.rows = append(b.rows, row)
	}

	out := make([]map[string]any, 0, len(order))
	for _, ks := range order {
		b := buckets[ks]
		record := map[string]any{groupField: b.key}
		for _, agg := range aggs {
			record[agg.On+"_"+agg.Op] = computeAggregation(b.rows, &agg)
		}
		out = append(out, record)
	}
	return out
}

// AggregatedField maps a mapped field name to the column it reads after
// aggregation. A field used as an aggregation source lands in its
// "{field}_{op}" output column; an exact output name or an untouched field
// passes through.
func AggregatedField(field string, aggs []models.VizAggregation) string {
	if field == "" || len(aggs) == 0 {
		return field
	}
	for _, agg := range aggs {
		if field == agg.On+"_"+agg.Op {
			return field
		}
	}
	for _, agg := range aggs {
		if field == agg.On {
			return agg.On + "_" + agg.Op
		}
	}
	return field
}

func computeAggregation(rows []map[string]any, agg *models.VizAggregation) any {
	if agg.Op == models.AggCount {
		count := 0
		for _, row := range rows {
			if row[agg.On] != nil {
				count++
			}
		}
		return float64(count)
	}
	if agg.Op == models.AggCountDistinct {
		seen := make(map[string]bool)
		for _, row := range rows {
			if v := row[agg.On]; v != nil {
				seen[stringValue(v)] = true
			}
		}
		return float64(len(seen))
	}

	var sum, min, max float64
	count := 0
	for _, row := range rows {
		v := row[agg.On]
		if v == nil {
			continue
		}
		num, ok := toFloat(v)
		if !ok {
			num = 0
		}
		if count == 0 || num < min {
			min = num
		}
		if count == 0 || num > max {
			max = num
		}
		sum += num
		count++
	}

	switch agg.Op {
	case models.AggSum:
		return sum
	case models.AggAvg:
		if count == 0 {
			return nil
		}
		return sum / float64(count)
	case models.AggMin:
		if count == 0 {
			return nil
		}
		return min
	case models.AggMax:
		if count == 0 {
			return nil
		}
		return max
	}
	return nil
}
