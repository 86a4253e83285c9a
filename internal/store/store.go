package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/manash/adcraft/pkg/models"
)

var ErrRecordNotFound = errors.New("generated image not found")

const schema = `
CREATE TABLE IF NOT EXISTS generated_images (
    id TEXT PRIMARY KEY,
    suggestion_id TEXT NOT NULL,
    image_url TEXT NOT NULL,
    prompt TEXT,
    platform TEXT NOT NULL,
    chat_message TEXT,
    metadata_json TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (suggestion_id, image_url)
);

CREATE TABLE IF NOT EXISTS api_calls (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    status_code INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL DEFAULT 0,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    error TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_generated_images_suggestion_id ON generated_images(suggestion_id);
CREATE INDEX IF NOT EXISTS idx_generated_images_created_at ON generated_images(created_at);
CREATE INDEX IF NOT EXISTS idx_api_calls_agent ON api_calls(agent);
CREATE INDEX IF NOT EXISTS idx_api_calls_created_at ON api_calls(created_at);
`

// Store is the relational half of the image store: the generated-image log
// and the API-call audit log, both in one SQLite file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStoreWithPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Detached persistence writes from several goroutines; one connection
	// keeps SQLite from reporting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateGeneratedImage inserts rec unless a record for the same suggestion and
// image URL already exists. It returns the id of the stored row and whether a
// new row was written.
func (s *Store) CreateGeneratedImage(ctx context.Context, rec *models.GeneratedImageRecord) (string, bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO generated_images (id, suggestion_id, image_url, prompt, platform, chat_message, metadata_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (suggestion_id, image_url) DO NOTHING`,
		rec.ID, rec.SuggestionID, rec.ImageURL, nullString(rec.Prompt), string(rec.Platform),
		nullString(rec.ChatMessage), rec.Metadata.ToJSON(), rec.CreatedAt.UTC())
	if err != nil {
		return "", false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if n > 0 {
		return rec.ID, true, nil
	}

	var existing string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM generated_images WHERE suggestion_id = ? AND image_url = ?`,
		rec.SuggestionID, rec.ImageURL).Scan(&existing)
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

func (s *Store) GetGeneratedImage(ctx context.Context, id string) (*models.GeneratedImageRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, suggestion_id, image_url, prompt, platform, chat_message, metadata_json, created_at
		 FROM generated_images WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return rec, err
}

// ListGeneratedImages returns the history of one suggestion, oldest first.
func (s *Store) ListGeneratedImages(ctx context.Context, suggestionID string) ([]*models.GeneratedImageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, suggestion_id, image_url, prompt, platform, chat_message, metadata_json, created_at
		 FROM generated_images WHERE suggestion_id = ? ORDER BY created_at ASC, rowid ASC`, suggestionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListRecentGeneratedImages returns records across all suggestions, newest
// first. A limit <= 0 returns everything.
func (s *Store) ListRecentGeneratedImages(ctx context.Context, limit int) ([]*models.GeneratedImageRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, suggestion_id, image_url, prompt, platform, chat_message, metadata_json, created_at
		 FROM generated_images ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *Store) CountGeneratedImages(ctx context.Context, suggestionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM generated_images WHERE suggestion_id = ?`, suggestionID).Scan(&count)
	return count, err
}

// LogAPICall appends an audit entry for one outbound webhook attempt.
func (s *Store) LogAPICall(ctx context.Context, call *models.APICall) error {
	if call.CreatedAt.IsZero() {
		call.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_calls (agent, endpoint, status_code, success, duration_ms, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		call.Agent, call.Endpoint, call.StatusCode, call.Success, call.DurationMs,
		nullString(call.Error), call.CreatedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err == nil {
		call.ID = id
	}
	return nil
}

func (s *Store) ListAPICalls(ctx context.Context, agent string, limit int) ([]*models.APICall, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent, endpoint, status_code, success, duration_ms, error, created_at
		 FROM api_calls WHERE (? = '' OR agent = ?) ORDER BY created_at DESC, id DESC LIMIT ?`,
		agent, agent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []*models.APICall
	for rows.Next() {
		c := &models.APICall{}
		var errText sql.NullString
		if err := rows.Scan(&c.ID, &c.Agent, &c.Endpoint, &c.StatusCode, &c.Success,
			&c.DurationMs, &errText, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Error = errText.String
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

func (s *Store) SummarizeAPICalls(ctx context.Context) ([]models.AgentCallSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent, COUNT(*), COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(duration_ms), 0)
		 FROM api_calls GROUP BY agent ORDER BY agent`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.AgentCallSummary
	for rows.Next() {
		var sum models.AgentCallSummary
		if err := rows.Scan(&sum.Agent, &sum.Calls, &sum.Failures, &sum.AvgMillis); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.GeneratedImageRecord, error) {
	rec := &models.GeneratedImageRecord{}
	var prompt, chatMessage, metadataJSON sql.NullString
	var platform string
	err := row.Scan(&rec.ID, &rec.SuggestionID, &rec.ImageURL, &prompt, &platform,
		&chatMessage, &metadataJSON, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	rec.Prompt = prompt.String
	rec.Platform = models.Platform(platform)
	rec.ChatMessage = chatMessage.String
	rec.Metadata = models.ParseRecordMetadata(metadataJSON.String)
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]*models.GeneratedImageRecord, error) {
	var records []*models.GeneratedImageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func FormatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}
