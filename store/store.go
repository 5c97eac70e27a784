// Package store copies summary tables into SQLite so they can be queried
// alongside other experiment metadata.
package store

import (
	"fmt"
	"strings"

	"github.com/carbocation/chipcollections/table"
	"github.com/carbocation/pfx"
	"github.com/jmoiron/sqlx"
	"gopkg.in/guregu/null.v3"

	_ "github.com/mattn/go-sqlite3"
)

const memory = ":memory:"

// Open connects to the SQLite database at path, creating it if needed.
func Open(path string) (*sqlx.DB, error) {
	// URI filenames have to begin with 'file:'; see
	// https://www.sqlite.org/c3ref/open.html
	if path != memory && !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, pfx.Err(err)
	}

	// Every connection to :memory: is a separate database.
	if path == memory {
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// SaveTable replaces the table called name with the contents of t. The key
// becomes INTEGER columns x and y; every other column is TEXT, with null cells
// stored as NULL.
func SaveTable(db *sqlx.DB, name string, t *table.Table) (err error) {
	tx, err := db.Beginx()
	if err != nil {
		return pfx.Err(err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	defs := []string{quote(table.KeyColumnX) + " INTEGER", quote(table.KeyColumnY) + " INTEGER"}
	names := []string{quote(table.KeyColumnX), quote(table.KeyColumnY)}
	for _, c := range t.Columns() {
		defs = append(defs, quote(c)+" TEXT")
		names = append(names, quote(c))
	}

	if _, err = tx.Exec("DROP TABLE IF EXISTS " + quote(name)); err != nil {
		return pfx.Err(err)
	}
	if _, err = tx.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", quote(name), strings.Join(defs, ", "))); err != nil {
		return pfx.Err(err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	stmt, err := tx.Preparex(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(name), strings.Join(names, ", "), placeholders))
	if err != nil {
		return pfx.Err(err)
	}
	defer stmt.Close()

	args := make([]interface{}, len(names))
	for i := 0; i < t.Len(); i++ {
		row := t.Row(i)
		args[0], args[1] = row.Key.X, row.Key.Y
		for j, v := range row.Values {
			args[j+2] = v
		}
		if _, err = stmt.Exec(args...); err != nil {
			return pfx.Err(err)
		}
	}

	if err = tx.Commit(); err != nil {
		return pfx.Err(err)
	}
	return nil
}

// LoadTable reads back a table written by SaveTable, in rowid order.
func LoadTable(db *sqlx.DB, name string) (*table.Table, error) {
	rows, err := db.Queryx("SELECT * FROM " + quote(name) + " ORDER BY rowid")
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, pfx.Err(err)
	}
	if len(columns) < 2 || columns[0] != table.KeyColumnX || columns[1] != table.KeyColumnY {
		return nil, fmt.Errorf("%s: first columns must be %s and %s, got %v", name, table.KeyColumnX, table.KeyColumnY, columns)
	}

	out, err := table.New(columns[2:]...)
	if err != nil {
		return nil, err
	}

	var key table.Key
	values := make([]null.String, len(columns)-2)
	dest := []interface{}{&key.X, &key.Y}
	for j := range values {
		dest = append(dest, &values[j])
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, pfx.Err(err)
		}
		if err := out.Append(key, values...); err != nil {
			return nil, err
		}
	}

	if err := rows.Err(); err != nil {
		return nil, pfx.Err(err)
	}

	return out, nil
}
