package source_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsehq/pulse-engine/pkg/adapters/source"
	_ "github.com/pulsehq/pulse-engine/pkg/adapters/source/mssql"    // Register sqlserver adapter
	_ "github.com/pulsehq/pulse-engine/pkg/adapters/source/postgres" // Register postgres adapter
	_ "github.com/pulsehq/pulse-engine/pkg/adapters/source/rest"     // Register rest adapter
	_ "github.com/pulsehq/pulse-engine/pkg/adapters/source/service"  // Register internal-service adapter
)

// The binary relies on init()-time registration; every adapter package must
// land in the registry once imported, the way main.go imports them.
func TestAllAdapterTypesRegistered(t *testing.T) {
	for _, adapterType := range []string{"postgres", "sqlserver", "rest", "internal_service"} {
		assert.True(t, source.IsRegistered(adapterType), adapterType)
		assert.NotNil(t, source.GetProberFactory(adapterType), adapterType)
	}

	infos := source.RegisteredAdapters()
	require.GreaterOrEqual(t, len(infos), 4)
}

func TestRunnerFactoriesOnlyForSQLDialects(t *testing.T) {
	assert.NotNil(t, source.GetRunnerFactory("postgres"))
	assert.NotNil(t, source.GetRunnerFactory("sqlserver"))
	assert.Nil(t, source.GetRunnerFactory("rest"), "rest sources do not execute SQL")
	assert.Nil(t, source.GetRunnerFactory("internal_service"))
	assert.Nil(t, source.GetRunnerFactory("sqlite"), "unregistered type")
}
