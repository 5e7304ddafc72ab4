package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsPaired(t *testing.T) {
	ups, err := fs.Glob(migrationFS, "*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationFS, "*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))
	for i, up := range ups {
		assert.Equal(t, strings.TrimSuffix(up, ".up.sql"), strings.TrimSuffix(downs[i], ".down.sql"))
	}
}

func TestInitCreatesTables(t *testing.T) {
	b, err := fs.ReadFile(migrationFS, "0001_init.up.sql")
	require.NoError(t, err)
	sql := string(b)
	assert.Contains(t, sql, "create table if not exists question_pool")
	assert.Contains(t, sql, "create table if not exists evaluators")
}

func TestRunRequiresDSN(t *testing.T) {
	assert.Error(t, Run(""))
}
