package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PutExtraction upserts a cached extraction result under (mode, fingerprint).
func (s *Store) PutExtraction(ctx context.Context, mode, fingerprint string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode extraction: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extraction_cache (mode, fingerprint, result, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(mode, fingerprint) DO UPDATE SET result = excluded.result, created_at = excluded.created_at`,
		mode, fingerprint, string(raw), time.Now().UTC(),
	)
	return err
}

// GetExtraction decodes a cached extraction result into dst.
// It reports false and a nil error when nothing is cached.
func (s *Store) GetExtraction(ctx context.Context, mode, fingerprint string, dst any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM extraction_cache WHERE mode = ? AND fingerprint = ?`, mode, fingerprint,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode extraction: %w", err)
	}
	return true, nil
}
