// Package sqlite persists memory bundles as small SQLite databases.
//
// A bundle file holds the records in position order with their metadata as
// JSON, the deleted ids, and a key/value table for next_id, the vector
// dimension and the embedding signature. Files are written whole to a
// temporary path and renamed into place.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	"github.com/deskpet/memcore/memory"
)

const schemaVersion = "1"

var schema = []string{
	`CREATE TABLE bundle_info (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
	`CREATE TABLE records (
		position INTEGER PRIMARY KEY,
		id INTEGER NOT NULL,
		text TEXT NOT NULL,
		metadata TEXT NOT NULL
	);`,
	`CREATE TABLE deleted_ids (
		id INTEGER PRIMARY KEY
	);`,
}

// Codec implements memory.BundleCodec.
type Codec struct{}

// New returns a SQLite bundle codec.
func New() *Codec { return &Codec{} }

// Write replaces the bundle at path.
func (Codec) Write(path string, b *memory.Bundle) error {
	if b == nil {
		return goerr.New("nil bundle")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return goerr.Wrap(err, "create bundle directory", goerr.V("dir", dir))
		}
	}

	tmp := path + ".tmp"
	_ = os.Remove(tmp)
	if err := writeDB(tmp, b); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return goerr.Wrap(err, "replace bundle file", goerr.V("path", path))
	}
	return nil
}

func writeDB(path string, b *memory.Bundle) (err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return goerr.Wrap(err, "open bundle database", goerr.V("path", path))
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = goerr.Wrap(cerr, "close bundle database")
		}
	}()

	for _, q := range schema {
		if _, err := db.Exec(q); err != nil {
			return goerr.Wrap(err, "create bundle schema")
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return goerr.Wrap(err, "begin bundle transaction")
	}
	if err := fill(tx, b); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "commit bundle")
	}
	return nil
}

func fill(tx *sql.Tx, b *memory.Bundle) error {
	info := map[string]string{
		"version":    schemaVersion,
		"next_id":    strconv.Itoa(b.NextID),
		"dimensions": strconv.Itoa(b.Dimensions),
		"signature":  b.Signature,
	}
	for k, v := range info {
		if _, err := tx.Exec(`INSERT INTO bundle_info (key, value) VALUES (?, ?)`, k, v); err != nil {
			return goerr.Wrap(err, "write bundle info", goerr.V("key", k))
		}
	}

	stmt, err := tx.Prepare(`INSERT INTO records (position, id, text, metadata) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return goerr.Wrap(err, "prepare record insert")
	}
	defer stmt.Close()

	for pos, rec := range b.Records {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return goerr.Wrap(err, "marshal metadata", goerr.V("id", rec.ID))
		}
		if _, err := stmt.Exec(pos, rec.ID, rec.Text, string(meta)); err != nil {
			return goerr.Wrap(err, "write record", goerr.V("id", rec.ID))
		}
	}

	for _, id := range b.DeletedIDs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO deleted_ids (id) VALUES (?)`, id); err != nil {
			return goerr.Wrap(err, "write deleted id", goerr.V("id", id))
		}
	}
	return nil
}

// Read loads the bundle at path. A missing file yields memory.ErrNotFound.
func (Codec) Read(path string) (*memory.Bundle, error) {
	// Opening a missing file would create it.
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(memory.ErrNotFound, "bundle file missing", goerr.V("path", path))
		}
		return nil, goerr.Wrap(err, "stat bundle file", goerr.V("path", path))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, goerr.Wrap(err, "open bundle database", goerr.V("path", path))
	}
	defer db.Close()

	b := &memory.Bundle{}
	if err := readInfo(db, b); err != nil {
		return nil, goerr.Wrap(err, "read bundle info", goerr.V("path", path))
	}
	if err := readRecords(db, b); err != nil {
		return nil, goerr.Wrap(err, "read records", goerr.V("path", path))
	}
	if err := readDeleted(db, b); err != nil {
		return nil, goerr.Wrap(err, "read deleted ids", goerr.V("path", path))
	}
	return b, nil
}

func readInfo(db *sql.DB, b *memory.Bundle) error {
	rows, err := db.Query(`SELECT key, value FROM bundle_info`)
	if err != nil {
		return err
	}
	defer rows.Close()

	info := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		info[k] = v
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if info["version"] != schemaVersion {
		return goerr.New("unsupported bundle version", goerr.V("version", info["version"]))
	}
	if b.NextID, err = strconv.Atoi(info["next_id"]); err != nil {
		return goerr.Wrap(err, "bad next_id")
	}
	if b.Dimensions, err = strconv.Atoi(info["dimensions"]); err != nil {
		return goerr.Wrap(err, "bad dimensions")
	}
	b.Signature = info["signature"]
	return nil
}

func readRecords(db *sql.DB, b *memory.Bundle) error {
	rows, err := db.Query(`SELECT id, text, metadata FROM records ORDER BY position`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec  memory.Record
			meta string
		)
		if err := rows.Scan(&rec.ID, &rec.Text, &meta); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return goerr.Wrap(err, "unmarshal metadata", goerr.V("id", rec.ID))
		}
		b.Records = append(b.Records, rec)
	}
	return rows.Err()
}

func readDeleted(db *sql.DB, b *memory.Bundle) error {
	rows, err := db.Query(`SELECT id FROM deleted_ids ORDER BY id`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return err
		}
		b.DeletedIDs = append(b.DeletedIDs, id)
	}
	return rows.Err()
}
