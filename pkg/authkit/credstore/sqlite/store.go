// Package sqlite provides a database-backed credential cache. It is the
// right driver when the host application already ships a local sqlite file
// for other cached state and wants the session record in the same place.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/meridianabroad/portal/pkg/authkit/credstore"

	_ "modernc.org/sqlite"
)

// Store implements credstore.Store on a sqlite database. The cache holds at
// most one row; Save upserts it and Clear deletes it.
type Store struct {
	db  *sql.DB
	dsn string
}

// NewStore opens (or creates) the sqlite database at dsn. Call
// ApplyMigrations before first use.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Enforce FKs
	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, dsn: dsn}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Save(creds credstore.Credentials) error {
	_, err := s.db.Exec(`
		INSERT INTO credentials (id, user_json, token, saved_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_json = excluded.user_json,
			token     = excluded.token,
			saved_at  = excluded.saved_at;`,
		string(creds.User), creds.Token, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *Store) Load() (credstore.Credentials, error) {
	var userJSON, token string
	err := s.db.QueryRow(`SELECT user_json, token FROM credentials WHERE id = 1;`).
		Scan(&userJSON, &token)
	if errors.Is(err, sql.ErrNoRows) {
		return credstore.Credentials{}, credstore.ErrNotFound
	}
	if err != nil {
		return credstore.Credentials{}, fmt.Errorf("load credentials: %w", err)
	}

	return credstore.Credentials{User: []byte(userJSON), Token: token}, nil
}

func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM credentials WHERE id = 1;`); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}
