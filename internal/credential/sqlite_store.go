package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// SQLiteStore implements Store on the kv_store table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store. The kv_store migration must have run.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load reads the credential. It returns ErrNotFound when nothing was ever saved.
func (s *SQLiteStore) Load(ctx context.Context) (Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM kv_store WHERE namespace = ?`, Namespace)
	if err != nil {
		return Credential{}, fmt.Errorf("querying credential: %w", err)
	}
	defer rows.Close()

	var c Credential
	found := false
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return Credential{}, fmt.Errorf("scanning credential: %w", err)
		}
		found = true
		switch key {
		case KeyURL:
			c.BackendURL = value
		case KeyToken:
			c.DeviceToken = value
		case KeyRegistered:
			c.Registered, _ = strconv.ParseBool(value) //nolint:errcheck // Unparseable means not registered
		}
	}
	if err := rows.Err(); err != nil {
		return Credential{}, fmt.Errorf("iterating credential: %w", err)
	}
	if !found {
		return Credential{}, ErrNotFound
	}
	return c, nil
}

// Save writes all three keys in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, c Credential) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	now := time.Now().UTC().Format(time.RFC3339)
	values := map[string]string{
		KeyURL:        c.BackendURL,
		KeyToken:      c.DeviceToken,
		KeyRegistered: strconv.FormatBool(c.Registered),
	}
	for key, value := range values {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO kv_store (namespace, key, value, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			Namespace, key, value, now,
		); err != nil {
			return fmt.Errorf("writing %s: %w", key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing credential: %w", err)
	}
	return nil
}
