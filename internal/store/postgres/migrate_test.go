package postgres

import (
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_later.sql":  {Data: []byte("SELECT 10")},
		"m/002_second.sql": {Data: []byte("SELECT 2")},
		"m/001_init.sql":   {Data: []byte("SELECT 1")},
		"m/README.md":      {Data: []byte("ignored")},
	}

	got, err := loadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{got[0].version, got[1].version, got[2].version})
	assert.Equal(t, "010_later.sql", got[2].name)
	assert.Equal(t, "SELECT 2", got[1].sql)
}

func TestLoadMigrationsRejectsBadNames(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"no prefix":   {"m/init.sql": {}},
		"bad version": {"m/abc_init.sql": {}},
		"zero":        {"m/000_init.sql": {}},
		"duplicate":   {"m/001_a.sql": {}, "m/01_b.sql": {}},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadMigrations(fsys, "m")
			assert.Error(t, err)
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	got, err := loadMigrations(migrationsFS, "migrations")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, 1, got[0].version)
}

func TestPoolConfig(t *testing.T) {
	pc, err := poolConfig(ClientConfig{
		DSN:              "postgres://u:p@db.internal:5433/everest?sslmode=disable",
		MaxConns:         4,
		MinConns:         9,
		StatementTimeout: 1500 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(4), pc.MaxConns)
	assert.Equal(t, int32(4), pc.MinConns)
	assert.Equal(t, "1500", pc.ConnConfig.RuntimeParams["statement_timeout"])
	assert.Equal(t, "everest", pc.ConnConfig.RuntimeParams["application_name"])
	assert.Equal(t, "db.internal", pc.ConnConfig.Host)

	pc, err = poolConfig(ClientConfig{DSN: "postgres://u@h/db?application_name=ops"})
	require.NoError(t, err)
	assert.Equal(t, "ops", pc.ConnConfig.RuntimeParams["application_name"])
	assert.NotContains(t, pc.ConnConfig.RuntimeParams, "statement_timeout")

	_, err = poolConfig(ClientConfig{DSN: "  "})
	assert.Error(t, err)
}
