package database

import (
	"database/sql"
	"fmt"
	"sort"

	_ "github.com/mattn/go-sqlite3"
)

// Database stores the suburb variant mapping and composite suburb table.
type Database struct {
	db *sql.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SaveSuburbMapping replaces the stored canonical -> variants mapping.
func (d *Database) SaveSuburbMapping(mapping map[string][]string) error {
	return d.replaceDictionary("suburb_variants", "canonical", "variant", mapping)
}

// LoadSuburbMapping returns the stored canonical -> variants mapping.
func (d *Database) LoadSuburbMapping() (map[string][]string, error) {
	return d.loadDictionary("suburb_variants", "canonical", "variant")
}

// SaveComposites replaces the stored composite -> parts table.
func (d *Database) SaveComposites(composites map[string][]string) error {
	return d.replaceDictionary("suburb_composites", "composite", "part", composites)
}

// LoadComposites returns the stored composite -> parts table with parts in
// their original order.
func (d *Database) LoadComposites() (map[string][]string, error) {
	return d.loadDictionary("suburb_composites", "composite", "part")
}

func (d *Database) replaceDictionary(table, keyCol, valueCol string, dict map[string][]string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}

	stmt, err := tx.Prepare(fmt.Sprintf(
		"INSERT INTO %s (%s, %s, position) VALUES (?, ?, ?)", table, keyCol, valueCol))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for i, v := range dict[k] {
			if _, err := stmt.Exec(k, v, i); err != nil {
				return fmt.Errorf("failed to insert %s %q: %w", valueCol, v, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", table, err)
	}
	return nil
}

func (d *Database) loadDictionary(table, keyCol, valueCol string) (map[string][]string, error) {
	rows, err := d.db.Query(fmt.Sprintf(
		"SELECT %s, %s FROM %s ORDER BY %s, position", keyCol, valueCol, table, keyCol))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	dict := make(map[string][]string)
	for rows.Next() {
		var k string
		var v sql.NullString
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		if v.Valid {
			dict[k] = append(dict[k], v.String)
		}
	}
	return dict, rows.Err()
}
