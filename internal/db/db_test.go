package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqliteDB_MemoryDefaults(t *testing.T) {
	database, err := NewSqliteDB()
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);")
	require.NoError(t, err)

	// single connection: the table is visible to the next statement
	_, err = database.Exec("INSERT INTO t (v) VALUES ('x');")
	require.NoError(t, err)
}

func TestNewSqliteDB_FileCreatesParent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")

	database, err := NewSqliteDB(WithPath(dbPath))
	require.NoError(t, err)
	defer database.Close()

	assert.DirExists(t, filepath.Dir(dbPath))
	assert.FileExists(t, dbPath)
}

func TestNewSqliteDB_Schema(t *testing.T) {
	schema := `CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT NOT NULL);`
	dbPath := filepath.Join(t.TempDir(), "kv.db")

	database, err := NewSqliteDB(WithPath(dbPath), WithSchema(schema))
	require.NoError(t, err)
	_, err = database.Exec("INSERT INTO kv (k, v) VALUES ('a', 'b')")
	require.NoError(t, err)
	require.NoError(t, database.Close())

	// reopening applies the idempotent schema again and keeps the data
	database, err = NewSqliteDB(WithPath(dbPath), WithSchema(schema))
	require.NoError(t, err)
	defer database.Close()

	var v string
	require.NoError(t, database.Get(&v, "SELECT v FROM kv WHERE k = 'a'"))
	assert.Equal(t, "b", v)
}

func TestNewSqliteDB_Pragmas(t *testing.T) {
	database, err := NewSqliteDB()
	require.NoError(t, err)
	defer database.Close()

	var fk int
	require.NoError(t, database.Get(&fk, "PRAGMA foreign_keys"))
	assert.Equal(t, 1, fk)
}
