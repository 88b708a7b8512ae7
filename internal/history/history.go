package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores the ledger and pending entries in a SQLite database.
// Save replaces both tables in one transaction.
type SQLiteBackend struct {
	db   *sql.DB
	path string

	recovered error // set when an unusable database was moved aside on open
}

// DefaultDBPath returns the database path inside a state directory.
func DefaultDBPath(stateDir string) string {
	return filepath.Join(stateDir, "relist.db")
}

// NewSQLiteBackend opens or creates the database at dbPath. A file that is
// not a usable database is moved aside and replaced by an empty one; the
// first Load reports it.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	b, err := openSQLite(dbPath)
	if err == nil {
		return b, nil
	}

	backup := backupName(dbPath)
	if rerr := os.Rename(dbPath, backup); rerr != nil {
		return nil, fmt.Errorf("%w (and could not move it aside: %v)", err, rerr)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		os.Rename(dbPath+suffix, backup+suffix)
	}
	log.Printf("Moved unusable database to %s", backup)

	b, rerr := openSQLite(dbPath)
	if rerr != nil {
		return nil, rerr
	}
	b.recovered = &CorruptionError{Path: dbPath, Err: err}
	return b, nil
}

func openSQLite(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	b := &SQLiteBackend{db: db, path: dbPath}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	b.db.Exec(`PRAGMA journal_mode=WAL`)

	query := `
	CREATE TABLE IF NOT EXISTS ledger (
		listing_id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		committed_at DATETIME NOT NULL,
		message_id TEXT NOT NULL,
		received_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_committed_at ON ledger(committed_at);

	-- Pending entries; classification is stored as JSON
	CREATE TABLE IF NOT EXISTS pending (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL,
		listing_id TEXT,
		message_id TEXT NOT NULL,
		subject TEXT,
		received_at DATETIME,
		classification TEXT NOT NULL,
		superseded INTEGER DEFAULT 0,
		follow_up INTEGER DEFAULT 0,
		shown INTEGER DEFAULT 0,
		added_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_pending_key ON pending(key);
	`

	if _, err := b.db.Exec(query); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Load() (*Snapshot, error) {
	var snap Snapshot
	var corrupt []error
	if b.recovered != nil {
		corrupt = append(corrupt, b.recovered)
		b.recovered = nil
	}

	rows, err := b.db.Query(`SELECT listing_id, category, committed_at, message_id, received_at FROM ledger ORDER BY committed_at`)
	if err != nil {
		return nil, &CorruptionError{Path: b.path + "#ledger", Err: err}
	}
	for rows.Next() {
		var r Record
		var receivedAt sql.NullTime
		if err := rows.Scan(&r.ListingID, &r.Category, &r.CommittedAt, &r.MessageID, &receivedAt); err != nil {
			corrupt = append(corrupt, &CorruptionError{Path: b.path + "#ledger", Err: err})
			continue
		}
		r.ReceivedAt = receivedAt.Time
		snap.Ledger = append(snap.Ledger, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &CorruptionError{Path: b.path + "#ledger", Err: err}
	}

	rows, err = b.db.Query(`
	SELECT seq, key, listing_id, message_id, subject, received_at, classification, superseded, follow_up, shown, added_at
	FROM pending ORDER BY seq`)
	if err != nil {
		return nil, &CorruptionError{Path: b.path + "#pending", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		e, seq, err := scanEntry(rows)
		if err != nil {
			corrupt = append(corrupt, &CorruptionError{Path: b.path + "#pending", Line: seq, Err: err})
			continue
		}
		snap.Pending = append(snap.Pending, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, &CorruptionError{Path: b.path + "#pending", Err: err}
	}

	if len(corrupt) > 0 {
		return &snap, errors.Join(corrupt...)
	}
	return &snap, nil
}

// scanEntry handles nullable columns and decodes the classification JSON
func scanEntry(scanner interface{ Scan(...any) error }) (*Entry, int, error) {
	var e Entry
	var seq int
	var listingID, subject sql.NullString
	var receivedAt, addedAt sql.NullTime
	var classification string

	err := scanner.Scan(&seq, &e.Key, &listingID, &e.MessageID, &subject, &receivedAt,
		&classification, &e.Superseded, &e.FollowUp, &e.Shown, &addedAt)
	if err != nil {
		return nil, seq, err
	}
	if err := json.Unmarshal([]byte(classification), &e.Classification); err != nil {
		return nil, seq, fmt.Errorf("bad classification: %w", err)
	}

	e.ListingID = listingID.String
	e.Subject = subject.String
	e.ReceivedAt = receivedAt.Time
	e.AddedAt = addedAt.Time
	return &e, seq, nil
}

func (b *SQLiteBackend) Save(snap *Snapshot) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ledger`); err != nil {
		return fmt.Errorf("failed to clear ledger: %w", err)
	}
	for _, r := range snap.Ledger {
		_, err := tx.Exec(`
		INSERT INTO ledger (listing_id, category, committed_at, message_id, received_at)
		VALUES (?, ?, ?, ?, ?)`,
			r.ListingID, r.Category, r.CommittedAt, r.MessageID, r.ReceivedAt)
		if err != nil {
			return fmt.Errorf("failed to insert ledger record %s: %w", r.ListingID, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM pending`); err != nil {
		return fmt.Errorf("failed to clear pending: %w", err)
	}
	for _, e := range snap.Pending {
		classification, err := json.Marshal(e.Classification)
		if err != nil {
			return fmt.Errorf("failed to encode classification for %s: %w", e.Key, err)
		}
		_, err = tx.Exec(`
		INSERT INTO pending (key, listing_id, message_id, subject, received_at, classification, superseded, follow_up, shown, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.Key, e.ListingID, e.MessageID, e.Subject, e.ReceivedAt, string(classification),
			e.Superseded, e.FollowUp, e.Shown, e.AddedAt)
		if err != nil {
			return fmt.Errorf("failed to insert pending entry %s: %w", e.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }
