package models

import (
	"time"

	"github.com/google/uuid"
)

// Data source kinds. The set is closed; unknown kinds are rejected at
// validation time.
const (
	SourceKindInternalService = "internal-service"
	SourceKindSQL             = "sql"
	SourceKindREST            = "rest"
)

// SQL dialects supported by the sql source kind.
const (
	DialectPostgres  = "postgres"
	DialectSQLServer = "sqlserver"
)

// ValidSourceKind reports whether kind is a member of the closed kind set.
func ValidSourceKind(kind string) bool {
	switch kind {
	case SourceKindInternalService, SourceKindSQL, SourceKindREST:
		return true
	}
	return false
}

// DataSource represents an external data connection. The Config field holds
// connection details (host, credentials, base URL) and is encrypted at rest
// by the service layer; credentials are never returned in API responses.
type DataSource struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Config      map[string]any `json:"config"`
	ServiceTag  string         `json:"service_tag,omitempty"` // internal-service registry tag
	Metadata    map[string]any `json:"metadata,omitempty"`    // last discovery snapshot
	LastProbe   *time.Time     `json:"last_probe,omitempty"`
	ProbeStatus string         `json:"probe_status,omitempty"` // "ok" or failure kind
	CreatedBy   string         `json:"created_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ProbeFailureKind classifies why a connectivity probe failed.
const (
	ProbeFailureAuth        = "auth"
	ProbeFailureNetwork     = "network"
	ProbeFailureTimeout     = "timeout"
	ProbeFailureUnsupported = "unsupported"
)

// ProbeResult is the outcome of a connectivity probe. Failures are values,
// never opaque errors: Kind is one of the ProbeFailure constants.
type ProbeResult struct {
	OK      bool   `json:"ok"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Version string `json:"version,omitempty"` // reported by internal-service probes
}
