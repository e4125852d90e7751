package sql

import (
	"fmt"
	"strings"

	"github.com/pulsehq/pulse-engine/pkg/models"
)

// Placeholder styles per SQL dialect.
const (
	// StylePositional produces $1, $2, ... (PostgreSQL / pgx).
	StylePositional = "positional"
	// StyleNamed produces @p1, @p2, ... (SQL Server / go-mssqldb).
	StyleNamed = "named"
)

// PlaceholderStyle returns the placeholder style for a SQL dialect.
func PlaceholderStyle(dialect string) string {
	if dialect == models.DialectSQLServer {
		return StyleNamed
	}
	return StylePositional
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}

// scanParameters walks sqlQuery once and calls fn for every :name placeholder
// found outside string literals. Double colons (::type casts) and quoted text
// are skipped. fn receives the placeholder name and the byte range of the
// full ":name" token; it returns the replacement text.
func scanParameters(sqlQuery string, fn func(name string) string) (string, []string) {
	var out strings.Builder
	var inLiteral []string
	inString := false

	i := 0
	for i < len(sqlQuery) {
		ch := sqlQuery[i]

		if ch == '\'' {
			if inString && i+1 < len(sqlQuery) && sqlQuery[i+1] == '\'' {
				out.WriteString("''")
				i += 2
				continue
			}
			inString = !inString
			out.WriteByte(ch)
			i++
			continue
		}

		if ch == ':' && !colonIsCast(sqlQuery, i) && i+1 < len(sqlQuery) && isIdentStart(sqlQuery[i+1]) {
			start := i + 1
			end := start
			for end < len(sqlQuery) && isIdentPart(sqlQuery[end]) {
				end++
			}
			name := sqlQuery[start:end]

			if inString {
				// Placeholder inside a string literal: the driver would treat
				// the substituted token as literal text. Record and keep as-is.
				inLiteral = append(inLiteral, name)
				out.WriteString(sqlQuery[i:end])
			} else {
				out.WriteString(fn(name))
			}
			i = end
			continue
		}

		out.WriteByte(ch)
		i++
	}

	return out.String(), inLiteral
}

// colonIsCast reports whether the colon at position i is part of a "::" cast.
func colonIsCast(s string, i int) bool {
	if i > 0 && s[i-1] == ':' {
		return true
	}
	if i+1 < len(s) && s[i+1] == ':' {
		return true
	}
	return false
}

// ExtractParameters finds all :name placeholders outside string literals and
// returns a deduplicated list of parameter names in order of first appearance.
//
// Example:
//
//	sql := "SELECT * FROM orders WHERE customer_id = :customer_id AND total > :min_total"
//	params := ExtractParameters(sql)
//	// params == []string{"customer_id", "min_total"}
func ExtractParameters(sqlQuery string) []string {
	seen := make(map[string]bool)
	var params []string

	scanParameters(sqlQuery, func(name string) string {
		if !seen[name] {
			seen[name] = true
			params = append(params, name)
		}
		return ":" + name
	})

	return params
}

// FindParametersInStringLiterals checks for :name placeholders that appear
// inside SQL string literals (single quotes). Parameters inside string
// literals won't work as expected because the driver will treat the
// placeholder as literal text, not as a bind position.
//
// Returns a list of parameter names that are incorrectly placed inside strings.
func FindParametersInStringLiterals(sqlQuery string) []string {
	_, inLiteral := scanParameters(sqlQuery, func(name string) string { return ":" + name })

	seen := make(map[string]bool)
	var problems []string
	for _, name := range inLiteral {
		if !seen[name] {
			seen[name] = true
			problems = append(problems, name)
		}
	}
	return problems
}

// ValidateParameterDefinitions checks that SQL parameters and definitions match.
//
// Returns an error if a :name placeholder is used in SQL but not defined, or
// if a parameter is defined but never used in the SQL.
func ValidateParameterDefinitions(sqlQuery string, defs []models.ParameterDef) error {
	extracted := ExtractParameters(sqlQuery)

	extractedSet := make(map[string]bool)
	for _, name := range extracted {
		extractedSet[name] = true
	}

	definedSet := make(map[string]bool)
	for _, p := range defs {
		definedSet[p.Name] = true
	}

	for _, name := range extracted {
		if !definedSet[name] {
			return fmt.Errorf("parameter :%s used in SQL but not defined", name)
		}
	}

	for _, p := range defs {
		if !extractedSet[p.Name] {
			return fmt.Errorf("parameter %q is defined but not used in SQL", p.Name)
		}
	}

	return nil
}

// SubstituteParameters replaces :name placeholders with driver placeholders
// ($1.. for positional style, @p1.. for named style) and returns the prepared
// SQL along with ordered parameter values for binding. The same placeholder
// used multiple times binds a single value.
//
// User-supplied values are never interpolated into the SQL text; they travel
// to the driver through the returned value slice.
func SubstituteParameters(
	sqlQuery string,
	style string,
	values map[string]any,
) (string, []any, error) {
	var orderedValues []any
	positions := make(map[string]int)

	prepared, _ := scanParameters(sqlQuery, func(name string) string {
		pos, exists := positions[name]
		if !exists {
			pos = len(orderedValues) + 1
			positions[name] = pos
			orderedValues = append(orderedValues, values[name])
		}
		if style == StyleNamed {
			return fmt.Sprintf("@p%d", pos)
		}
		return fmt.Sprintf("$%d", pos)
	})

	if problems := FindParametersInStringLiterals(sqlQuery); len(problems) > 0 {
		return "", nil, fmt.Errorf("parameters inside string literals cannot be bound: %s",
			strings.Join(problems, ", "))
	}

	return prepared, orderedValues, nil
}
