package donation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS donations (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	received_at INTEGER NOT NULL,
	messages TEXT NOT NULL
);
`

// SQLiteStore keeps donations in a SQLite table.
type SQLiteStore struct {
	db         *sql.DB
	maxRecords int
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(ctx context.Context, path string, maxRecords int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open donation database: %w", err)
	}
	// SQLite serializes writers; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create donation schema: %w", err)
	}

	return &SQLiteStore{db: db, maxRecords: maxRecords}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, d Donation) error {
	messages, err := json.Marshal(d.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode donation: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO donations (id, received_at, messages) VALUES (?, ?, ?)`,
		d.ID, d.ReceivedAt.UnixMilli(), string(messages),
	); err != nil {
		return fmt.Errorf("failed to insert donation: %w", err)
	}

	if s.maxRecords > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM donations WHERE seq NOT IN (SELECT seq FROM donations ORDER BY seq DESC LIMIT ?)`,
			s.maxRecords,
		); err != nil {
			return fmt.Errorf("failed to trim donations: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit donation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Donation, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, received_at, messages FROM donations ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query donations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Donation
	for rows.Next() {
		var (
			record     Donation
			receivedAt int64
			messages   string
		)
		if err := rows.Scan(&record.ID, &receivedAt, &messages); err != nil {
			return nil, fmt.Errorf("failed to scan donation: %w", err)
		}
		if err := json.Unmarshal([]byte(messages), &record.Messages); err != nil {
			return nil, fmt.Errorf("donation %s: failed to decode messages: %w", record.ID, err)
		}
		record.ReceivedAt = time.UnixMilli(receivedAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read donations: %w", err)
	}

	slices.Reverse(records)
	return records, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM donations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count donations: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
