package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "nested", "trips.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	m := NewMigrationManager(db, nil)

	require.NoError(t, m.RunMigrations(ctx))
	// second run is a no-op
	require.NoError(t, m.RunMigrations(ctx))

	applied, err := m.GetAppliedMigrations(ctx)
	require.NoError(t, err)
	assert.True(t, applied[1])
	assert.True(t, applied[2])

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM coords").Scan(&n))
	assert.Zero(t, n)
}

func TestLoadMigrationsSortsAndSkipsBadNames(t *testing.T) {
	source := fstest.MapFS{
		"m/010_second.sql": {Data: []byte("SELECT 1;")},
		"m/002_first.sql":  {Data: []byte("SELECT 1;")},
		"m/notes.txt":      {Data: []byte("ignored")},
		"m/bad.sql":        {Data: []byte("SELECT 1;")},
	}
	m := NewMigrationManagerFS(nil, source, "m", nil)

	migrations, err := m.LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 2, migrations[0].Version)
	assert.Equal(t, "002_first", migrations[0].Name)
	assert.Equal(t, 10, migrations[1].Version)
}

func TestApplyMigrationRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	source := fstest.MapFS{
		"m/001_broken.sql": {Data: []byte("CREATE TABLE ok_table (id INTEGER); THIS IS NOT SQL;")},
	}
	m := NewMigrationManagerFS(db, source, "m", nil)

	assert.Error(t, m.RunMigrations(ctx))

	applied, err := m.GetAppliedMigrations(ctx)
	require.NoError(t, err)
	assert.False(t, applied[1])
}

func TestTransactionRollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = Transaction(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO t (v) VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, Transaction(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO t (v) VALUES (2)")
		return err
	}))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 1, n)
}
