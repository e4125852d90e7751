package jsonutil

import (
	"encoding/json"
	"fmt"
)

// Canonical renders v as deterministic JSON: map keys are emitted in sorted
// order (encoding/json sorts map keys) and all values are first normalized
// through a JSON round-trip so that e.g. int(3) and float64(3) encode
// identically. Used for cache keys and parameter fingerprints, which must be
// stable across runs and insertion orders.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}

	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("canonical normalize: %w", err)
	}

	out, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonical remarshal: %w", err)
	}
	return out, nil
}
