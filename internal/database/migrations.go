package database

func (d *Database) RunMigrations() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS suburb_variants (
			canonical TEXT NOT NULL,
			variant   TEXT NOT NULL PRIMARY KEY,
			position  INTEGER NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		return err
	}

	_, err = d.db.Exec(`
		CREATE TABLE IF NOT EXISTS suburb_composites (
			composite TEXT NOT NULL,
			part      TEXT NOT NULL,
			position  INTEGER NOT NULL,
			PRIMARY KEY (composite, position)
		);
	`)
	if err != nil {
		return err
	}

	// Lookups go from canonical to variants
	_, err = d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_suburb_variants_canonical
		ON suburb_variants(canonical);
	`)
	if err != nil {
		return err
	}

	return nil
}
