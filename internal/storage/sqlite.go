package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/quickref/internal/models"
)

// SQLiteStore implements RecordStore using SQLite in WAL mode with full fsync,
// so a record acknowledged by Append survives a crash.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=FULL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		issue_type TEXT NOT NULL DEFAULT '',
		text_fields TEXT NOT NULL,
		assignee TEXT NOT NULL DEFAULT '',
		reporter TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		recommended_action TEXT NOT NULL DEFAULT '',
		embedding BLOB,
		embedding_model TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_records_assignee ON records(assignee);
	`
	_, err := db.Exec(schema)
	return err
}

const recordColumns = `id, issue_type, text_fields, assignee, reporter, priority, status,
	recommended_action, embedding, embedding_model, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.IssueRecord, error) {
	var rec models.IssueRecord
	var fieldsJSON string
	var embedding []byte
	if err := row.Scan(&rec.ID, &rec.IssueType, &fieldsJSON, &rec.Assignee, &rec.Reporter, &rec.Priority,
		&rec.Status, &rec.RecommendedAction, &embedding, &rec.EmbeddingModel, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.TextFields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal text fields of %s: %w", rec.ID, err)
	}
	vec, err := decodeEmbedding(embedding)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.Embedding = vec
	return &rec, nil
}

// Append inserts rec. It fails with models.ErrValidation before touching the
// database, and with ErrDuplicateRecord when the id exists.
func (s *SQLiteStore) Append(ctx context.Context, rec *models.IssueRecord) (string, error) {
	if err := prepareAppend(rec); err != nil {
		return "", err
	}
	fieldsJSON, err := json.Marshal(rec.TextFields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal text fields: %w", err)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.IssueType, string(fieldsJSON), rec.Assignee, rec.Reporter, rec.Priority, rec.Status,
		rec.RecommendedAction, encodeEmbedding(rec.Embedding), rec.EmbeddingModel, rec.CreatedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return "", fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.ID)
		}
		return "", fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// Get returns a record by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.IssueRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetMany returns the records found among ids.
func (s *SQLiteStore) GetMany(ctx context.Context, ids []string) (map[string]*models.IssueRecord, error) {
	out := make(map[string]*models.IssueRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[rec.ID] = rec
	}
	return out, rows.Err()
}

// All returns every record ordered by insertion.
func (s *SQLiteStore) All(ctx context.Context) ([]*models.IssueRecord, error) {
	return s.query(ctx, `SELECT `+recordColumns+` FROM records ORDER BY seq`)
}

// List returns records with offset and limit in insertion order.
func (s *SQLiteStore) List(ctx context.Context, offset, limit int) ([]*models.IssueRecord, error) {
	return s.query(ctx, `SELECT `+recordColumns+` FROM records ORDER BY seq LIMIT ? OFFSET ?`, limit, offset)
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*models.IssueRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.IssueRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Count returns the total number of records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count)
	return count, err
}

// SetEmbedding replaces the cached embedding of a record.
func (s *SQLiteStore) SetEmbedding(ctx context.Context, id, model string, embedding []float32) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE records SET embedding = ?, embedding_model = ? WHERE id = ?`,
		encodeEmbedding(embedding), model, id,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return nil
}

// AssigneeCounts groups records by assignee; empty assignees count as models.UnassignedName.
func (s *SQLiteStore) AssigneeCounts(ctx context.Context) ([]models.AssigneeCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT CASE WHEN assignee = '' THEN ? ELSE assignee END AS name, COUNT(*) AS n
		 FROM records GROUP BY name ORDER BY n DESC, name ASC`, models.UnassignedName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.AssigneeCount
	for rows.Next() {
		var c models.AssigneeCount
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
