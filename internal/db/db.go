// Package db stores the repeater contact list used to resolve path hop
// prefixes into human-readable repeater names.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
}

func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS repeater_contacts (
			public_key        TEXT PRIMARY KEY,
			name              TEXT,
			device_type       TEXT,
			last_seen         TIMESTAMP,
			is_active         BOOLEAN DEFAULT TRUE
		);
		CREATE TABLE IF NOT EXISTS adverts (
			advert_id         INTEGER PRIMARY KEY AUTOINCREMENT,
			public_key        TEXT,
			name              TEXT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_adverts_public_key ON adverts(public_key);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// RepeaterContact is one known repeater. Node IDs in paths are the first
// two hex characters of the public key, so prefix lookups are how hops
// get named.
type RepeaterContact struct {
	PublicKey  string    `json:"public_key"`
	Name       string    `json:"name"`
	DeviceType string    `json:"device_type"`
	LastSeen   time.Time `json:"last_seen"`
	IsActive   bool      `json:"is_active"`
}

// UpsertRepeater inserts or refreshes a repeater contact.
func (db *DB) UpsertRepeater(c RepeaterContact) error {
	_, err := db.Exec(`
		INSERT INTO repeater_contacts (public_key, name, device_type, last_seen, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(public_key) DO UPDATE SET
			name = excluded.name,
			device_type = excluded.device_type,
			last_seen = excluded.last_seen,
			is_active = excluded.is_active
	`, c.PublicKey, c.Name, c.DeviceType, c.LastSeen, c.IsActive)
	if err != nil {
		return fmt.Errorf("failed to upsert repeater %s: %w", c.PublicKey, err)
	}
	return nil
}

// RecordAdvert logs a node advertisement and refreshes the contact's
// last-seen time if the node is already known.
func (db *DB) RecordAdvert(publicKey, name string, ts time.Time) error {
	if _, err := db.Exec(`INSERT INTO adverts (public_key, name, timestamp) VALUES (?, ?, ?)`,
		publicKey, name, ts); err != nil {
		return fmt.Errorf("failed to record advert: %w", err)
	}
	_, err := db.Exec(`UPDATE repeater_contacts SET last_seen = ? WHERE public_key = ?`, ts, publicKey)
	return err
}

// LookupByPrefix returns contacts whose public key starts with the given
// hex prefix, active and recently seen first. Multiple rows mean a prefix
// collision the caller should surface.
func (db *DB) LookupByPrefix(prefix string) ([]RepeaterContact, error) {
	rows, err := db.Query(`
		SELECT public_key, name, device_type, last_seen, is_active
		FROM repeater_contacts
		WHERE public_key LIKE ? || '%'
		ORDER BY is_active DESC, last_seen DESC
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts for prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var contacts []RepeaterContact
	for rows.Next() {
		var c RepeaterContact
		var lastSeen sql.NullTime
		if err := rows.Scan(&c.PublicKey, &c.Name, &c.DeviceType, &lastSeen, &c.IsActive); err != nil {
			return nil, err
		}
		c.LastSeen = lastSeen.Time
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// ListContacts returns all known repeater contacts.
func (db *DB) ListContacts() ([]RepeaterContact, error) {
	return db.LookupByPrefix("")
}

// HopResolution is the outcome of naming one path hop token.
type HopResolution struct {
	NodeID  string `json:"node_id"`
	Found   bool   `json:"found"`
	Name    string `json:"name,omitempty"`
	Matches int    `json:"matches"`
}

// ResolveHops names each 2-hex hop token against the contact table.
// Collisions (several contacts sharing a prefix) report the match count
// instead of picking a winner.
func (db *DB) ResolveHops(hops []string) ([]HopResolution, error) {
	out := make([]HopResolution, 0, len(hops))
	for _, hop := range hops {
		contacts, err := db.LookupByPrefix(hop)
		if err != nil {
			return nil, err
		}
		res := HopResolution{NodeID: hop, Matches: len(contacts)}
		if len(contacts) > 0 {
			res.Found = true
			res.Name = contacts[0].Name
		}
		out = append(out, res)
	}
	return out, nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://contacts.db", db.DB, &tailsql.DBOptions{
		Label: "Contacts DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the contact database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
