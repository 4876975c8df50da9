package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/relay?sslmode=disable", DatabaseURL("postgres://u:p@db:5432/relay?sslmode=disable"))
	assert.Equal(t, "pgx5://db/relay", DatabaseURL("postgresql://db/relay"))
	assert.Equal(t, "pgx5://db/relay", DatabaseURL("pgx5://db/relay"))
}

func TestEmbeddedMigrationsPaired(t *testing.T) {
	ups, err := fs.Glob(files, "sql/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(files, "sql/*.down.sql")
	require.NoError(t, err)

	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
