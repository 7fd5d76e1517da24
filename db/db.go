package db

import (
	"database/sql"

	"sechat/models"

	_ "github.com/mattn/go-sqlite3"
)

// DB stores the durable snapshot: public keys per identity code and the
// friend adjacency rows. Key status, pending requests and conversation
// history are intentionally not persisted.
type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS identities (
			code TEXT PRIMARY KEY,
			public_key TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS friends (
			owner TEXT NOT NULL,
			friend TEXT NOT NULL,
			UNIQUE(owner, friend)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_friends_owner ON friends(owner)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// SaveSnapshot overwrites the previous snapshot in a single transaction.
func (db *DB) SaveSnapshot(snap models.Snapshot) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM identities"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM friends"); err != nil {
		return err
	}

	for code, key := range snap.PublicKeys {
		if key == "" {
			continue
		}
		if _, err := tx.Exec("INSERT INTO identities (code, public_key) VALUES (?, ?)", code, key); err != nil {
			return err
		}
	}

	for owner, friends := range snap.Friends {
		for _, friend := range friends {
			if _, err := tx.Exec("INSERT OR IGNORE INTO friends (owner, friend) VALUES (?, ?)", owner, friend); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// LoadSnapshot returns the last saved snapshot. Empty tables yield empty
// maps, never nil.
func (db *DB) LoadSnapshot() (models.Snapshot, error) {
	snap := models.Snapshot{
		PublicKeys: make(map[string]string),
		Friends:    make(map[string][]string),
	}

	rows, err := db.conn.Query("SELECT code, public_key FROM identities")
	if err != nil {
		return snap, err
	}
	defer rows.Close()

	for rows.Next() {
		var code, key string
		if err := rows.Scan(&code, &key); err != nil {
			return snap, err
		}
		snap.PublicKeys[code] = key
	}
	if err := rows.Err(); err != nil {
		return snap, err
	}

	frows, err := db.conn.Query("SELECT owner, friend FROM friends ORDER BY owner, friend")
	if err != nil {
		return snap, err
	}
	defer frows.Close()

	for frows.Next() {
		var owner, friend string
		if err := frows.Scan(&owner, &friend); err != nil {
			return snap, err
		}
		snap.Friends[owner] = append(snap.Friends[owner], friend)
	}

	return snap, frows.Err()
}
