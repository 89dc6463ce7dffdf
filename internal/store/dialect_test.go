package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "?", DialectSQLite.Placeholder(1))
	assert.Equal(t, "?", DialectMySQL.Placeholder(3))
	assert.Equal(t, "$1", DialectPostgres.Placeholder(1))
	assert.Equal(t, "$12", DialectPostgres.Placeholder(12))
}

func TestRewriteDDLPostgres(t *testing.T) {
	ddl := `CREATE TABLE IF NOT EXISTS widgets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	blob_col BLOB NOT NULL,
	flag BOOLEAN NOT NULL DEFAULT 0
);`
	out := RewriteDDL(DialectPostgres, ddl)
	assert.Contains(t, out, "SERIAL PRIMARY KEY")
	assert.Contains(t, out, "BYTEA")
	assert.NotContains(t, out, "AUTOINCREMENT")
}

func TestRewriteDDLMySQL(t *testing.T) {
	ddl := `CREATE TABLE IF NOT EXISTS widgets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	blob_col BLOB NOT NULL,
	flag BOOLEAN NOT NULL DEFAULT 0
);`
	out := RewriteDDL(DialectMySQL, ddl)
	assert.Contains(t, out, "AUTO_INCREMENT")
	assert.Contains(t, out, "LONGBLOB")
	assert.Contains(t, out, "TINYINT(1)")
}

func TestRewriteDDLSQLitePassthrough(t *testing.T) {
	ddl := `CREATE TABLE IF NOT EXISTS widgets (id INTEGER PRIMARY KEY);`
	assert.Equal(t, ddl, RewriteDDL(DialectSQLite, ddl))
}

func TestIsExtMutation(t *testing.T) {
	assert.True(t, isExtMutation(`INSERT INTO ext_widgets (id) VALUES (?)`))
	assert.True(t, isExtMutation("UPDATE `ext_widgets` SET x = 1"))
	assert.False(t, isExtMutation(`INSERT INTO organizations (id) VALUES (?)`))
	assert.False(t, isExtMutation(`SELECT * FROM ext_widgets`))
	assert.False(t, isExtMutation(`DROP TABLE organizations`))
}
