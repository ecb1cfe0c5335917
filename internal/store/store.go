package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/papergen/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a paper or version does not exist.
var ErrNotFound = errors.New("store: not found")

// Store persists paper records, their version ledgers and the extraction cache.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the SQLite database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS papers (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		config TEXT NOT NULL DEFAULT '{}',
		extracted_data TEXT NOT NULL DEFAULT '{}',
		important_questions TEXT NOT NULL DEFAULT '[]',
		current_version_index INTEGER NOT NULL DEFAULT -1,
		generation_status TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS paper_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		paper_id TEXT NOT NULL,
		version_number INTEGER NOT NULL,
		change_reason TEXT NOT NULL,
		model_identifier TEXT NOT NULL DEFAULT '',
		paper TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (paper_id, version_number),
		FOREIGN KEY (paper_id) REFERENCES papers(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS extraction_cache (
		mode TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		result TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (mode, fingerprint)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreatePaper inserts a new paper record. Versions on rec are ignored.
func (s *Store) CreatePaper(ctx context.Context, rec model.PaperRecord) error {
	cfg, err := json.Marshal(rec.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data, err := json.Marshal(rec.ExtractedData)
	if err != nil {
		return fmt.Errorf("encode extracted data: %w", err)
	}
	iq, err := json.Marshal(nonNil(rec.ImportantQuestions))
	if err != nil {
		return fmt.Errorf("encode important questions: %w", err)
	}
	status, err := json.Marshal(rec.GenerationStatus)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO papers (id, title, config, extracted_data, important_questions, current_version_index, generation_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, -1, ?, ?, ?)`,
		rec.ID, rec.Title, string(cfg), string(data), string(iq), string(status), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert paper %s: %w", rec.ID, err)
	}
	return nil
}

// GetPaper returns a paper record with its full version ledger.
func (s *Store) GetPaper(ctx context.Context, id string) (model.PaperRecord, error) {
	var (
		rec                   model.PaperRecord
		cfg, data, iq, status string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, config, extracted_data, important_questions, current_version_index, generation_status, created_at, updated_at
		 FROM papers WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Title, &cfg, &data, &iq, &rec.CurrentVersionIndex, &status, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return model.PaperRecord{}, fmt.Errorf("paper %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.PaperRecord{}, fmt.Errorf("get paper %s: %w", id, err)
	}

	for _, f := range []struct {
		name string
		raw  string
		dst  any
	}{
		{"config", cfg, &rec.Config},
		{"extracted data", data, &rec.ExtractedData},
		{"important questions", iq, &rec.ImportantQuestions},
		{"status", status, &rec.GenerationStatus},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return model.PaperRecord{}, fmt.Errorf("decode %s of paper %s: %w", f.name, id, err)
		}
	}

	rec.Versions, err = s.ListVersions(ctx, id)
	if err != nil {
		return model.PaperRecord{}, err
	}
	return rec, nil
}

// ListPapers returns all papers, newest first, without their versions.
func (s *Store) ListPapers(ctx context.Context) ([]model.PaperRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, current_version_index, generation_status, created_at, updated_at
		 FROM papers ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	defer rows.Close()

	var papers []model.PaperRecord
	for rows.Next() {
		var (
			rec    model.PaperRecord
			status string
		)
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.CurrentVersionIndex, &status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(status), &rec.GenerationStatus); err != nil {
			return nil, fmt.Errorf("decode status of paper %s: %w", rec.ID, err)
		}
		papers = append(papers, rec)
	}
	return papers, rows.Err()
}

// UpdateConfig replaces the generation config and the important questions.
func (s *Store) UpdateConfig(ctx context.Context, id string, cfg model.GenerationConfig) error {
	rawCfg, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	iq, err := json.Marshal(nonNil(cfg.ImportantQuestions))
	if err != nil {
		return fmt.Errorf("encode important questions: %w", err)
	}
	return s.update(ctx, id,
		`UPDATE papers SET config = ?, important_questions = ?, updated_at = ? WHERE id = ?`,
		string(rawCfg), string(iq), time.Now().UTC(), id)
}

// SaveExtractedData replaces the data derived from uploaded documents.
func (s *Store) SaveExtractedData(ctx context.Context, id string, data model.ExtractedData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode extracted data: %w", err)
	}
	return s.update(ctx, id,
		`UPDATE papers SET extracted_data = ?, updated_at = ? WHERE id = ?`,
		string(raw), time.Now().UTC(), id)
}

// SetStatus overwrites the generation status in place.
func (s *Store) SetStatus(ctx context.Context, id string, st model.GenerationStatus) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	return s.update(ctx, id,
		`UPDATE papers SET generation_status = ?, updated_at = ? WHERE id = ?`,
		string(raw), time.Now().UTC(), id)
}

// GetStatus returns the current generation status.
func (s *Store) GetStatus(ctx context.Context, id string) (model.GenerationStatus, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT generation_status FROM papers WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return model.GenerationStatus{}, fmt.Errorf("paper %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.GenerationStatus{}, fmt.Errorf("get status of paper %s: %w", id, err)
	}
	var st model.GenerationStatus
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return model.GenerationStatus{}, fmt.Errorf("decode status of paper %s: %w", id, err)
	}
	return st, nil
}

func (s *Store) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update paper %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("paper %s: %w", id, ErrNotFound)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
