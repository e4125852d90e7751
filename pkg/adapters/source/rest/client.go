// Package rest implements the adapter for REST data sources: parameter
// substitution into the request, JSON decoding, and data-path extraction of
// the record array from the response envelope.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pulsehq/pulse-engine/pkg/adapters/source"
	"github.com/pulsehq/pulse-engine/pkg/apperrors"
	"github.com/pulsehq/pulse-engine/pkg/models"
)

// maxResponseBytes caps how much of a response body is read. Sources that
// stream unbounded payloads are cut off rather than exhausting memory.
const maxResponseBytes = 32 << 20 // 32 MiB

// Client executes REST query definitions.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a REST client. timeout bounds each request end to end.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch executes a REST definition with bound parameter values and returns
// the extracted record list. Values substitute into the URL, headers, query
// parameters, and body wherever a :name token appears; URL substitutions are
// escaped so values cannot alter the request structure.
func (c *Client) Fetch(ctx context.Context, def *models.RESTDefinition, values map[string]any) ([]map[string]any, error) {
	method := strings.ToUpper(def.Method)
	if method == "" {
		method = http.MethodGet
	}

	reqURL, err := substituteURL(def.URL, values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBadInput, err)
	}

	u, err := url.Parse(reqURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url: %v", apperrors.ErrBadInput, err)
	}
	if len(def.Params) > 0 {
		q := u.Query()
		for key, val := range def.Params {
			q.Set(key, substituteString(val, values, plainValue))
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if len(def.Body) > 0 {
		substituted, err := substituteBody(def.Body, values)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrBadInput, err)
		}
		body = bytes.NewReader(substituted)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrBadInput, err)
	}
	for key, val := range def.Headers {
		req.Header.Set(key, substituteString(val, values, plainValue))
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, source.ClassifyError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, source.ClassifyError(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: source returned %d", apperrors.ErrSourceUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: source returned %d: %s",
			apperrors.ErrSourceRejected, resp.StatusCode, truncate(string(raw), 200))
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: response is not valid JSON: %v", apperrors.ErrDecode, err)
	}

	return extractRecords(decoded, def.DataPath)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// extractRecords walks dataPath (dot-separated) into the decoded response and
// normalizes the value found there into a record list. A scalar or single
// object becomes a one-row result.
func extractRecords(decoded any, dataPath string) ([]map[string]any, error) {
	value := decoded
	if dataPath != "" {
		for _, segment := range strings.Split(dataPath, ".") {
			obj, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: data path %q does not resolve to an object",
					apperrors.ErrDecode, dataPath)
			}
			value, ok = obj[segment]
			if !ok {
				return nil, fmt.Errorf("%w: data path segment %q not found in response",
					apperrors.ErrDecode, segment)
			}
		}
	}

	switch v := value.(type) {
	case []any:
		records := make([]map[string]any, 0, len(v))
		for _, item := range v {
			rec, ok := item.(map[string]any)
			if !ok {
				// Arrays of scalars become single-column records.
				rec = map[string]any{"value": item}
			}
			records = append(records, rec)
		}
		return records, nil
	case map[string]any:
		return []map[string]any{v}, nil
	case nil:
		return []map[string]any{}, nil
	default:
		return []map[string]any{{"value": v}}, nil
	}
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}

// substituteString replaces every :name token with render(value). Tokens with
// no bound value are left untouched.
func substituteString(s string, values map[string]any, render func(any) string) string {
	var out strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == ':' && i+1 < len(s) && isIdentStart(s[i+1]) {
			start := i + 1
			end := start
			for end < len(s) && isIdentPart(s[end]) {
				end++
			}
			name := s[start:end]
			if val, ok := values[name]; ok {
				out.WriteString(render(val))
				i = end
				continue
			}
		}
		out.WriteByte(s[i])
		i++
	}
	return out.String()
}

func plainValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// substituteURL escapes substituted values so they cannot inject path
// segments or query structure.
func substituteURL(rawURL string, values map[string]any) (string, error) {
	result := substituteString(rawURL, values, func(v any) string {
		return url.QueryEscape(plainValue(v))
	})
	if result == "" {
		return "", fmt.Errorf("url is required")
	}
	return result, nil
}

// substituteBody replaces tokens inside the JSON body. Values are substituted
// structurally: a string value that is exactly ":name" is replaced by the
// typed parameter value, while embedded tokens inside longer strings are
// replaced textually.
func substituteBody(body json.RawMessage, values map[string]any) (json.RawMessage, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("body is not valid JSON: %w", err)
	}
	return json.Marshal(substituteValue(decoded, values))
}

func substituteValue(v any, values map[string]any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = substituteValue(item, values)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = substituteValue(item, values)
		}
		return out
	case string:
		if strings.HasPrefix(val, ":") && len(val) > 1 && isIdentStart(val[1]) {
			name := val[1:]
			if isIdent(name) {
				if bound, ok := values[name]; ok {
					return bound
				}
			}
		}
		return substituteString(val, values, plainValue)
	}
	return v
}

func isIdent(s string) bool {
	for i := 0; i < len(s); i++ {
		if i == 0 && !isIdentStart(s[i]) {
			return false
		}
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return len(s) > 0
}
