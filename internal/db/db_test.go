package db

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMigrations_SortsAndSkips(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_add_index.sql":    {Data: []byte("CREATE INDEX x ON t (a);")},
		"migrations/001_create_turns.sql": {Data: []byte("CREATE TABLE t (a int);")},
		"migrations/README.md":            {Data: []byte("notes")},
		"migrations/draft.sql":            {Data: []byte("-- no number")},
	}
	got, err := readMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Number)
	assert.Equal(t, "create_turns", got[0].Name)
	assert.Equal(t, 2, got[1].Number)
	assert.Equal(t, "add_index", got[1].Name)
}

func TestEmbeddedMigrations(t *testing.T) {
	got, err := readMigrations(migrationFS)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Contains(t, got[0].SQL, "CREATE TABLE IF NOT EXISTS turns")
}

func TestWithSSLDisabled(t *testing.T) {
	assert.Equal(t, "postgres://u@h/db?sslmode=disable", withSSLDisabled("postgres://u@h/db"))
	assert.Equal(t, "postgres://u@h/db?x=1&sslmode=disable", withSSLDisabled("postgres://u@h/db?x=1"))
	assert.Equal(t, "host=h dbname=db sslmode=disable", withSSLDisabled("host=h dbname=db"))
}

func TestNew_EmptyConnectionString(t *testing.T) {
	_, err := New(context.Background(), "")
	assert.Error(t, err)
}
