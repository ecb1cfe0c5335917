package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/papergen/internal/model"
)

// AppendVersion adds p to the paper's ledger as the next version and makes it
// current. The number is assigned inside the transaction from the stored count,
// whatever p.VersionNumber says, so concurrent appends never share a number.
// Existing versions are never modified.
func (s *Store) AppendVersion(ctx context.Context, paperID string, p model.GeneratedPaper) (model.GeneratedPaper, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.GeneratedPaper{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM papers WHERE id = ?`, paperID).Scan(&exists)
	if err == sql.ErrNoRows {
		return model.GeneratedPaper{}, fmt.Errorf("paper %s: %w", paperID, ErrNotFound)
	}
	if err != nil {
		return model.GeneratedPaper{}, fmt.Errorf("check paper %s: %w", paperID, err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM paper_versions WHERE paper_id = ?`, paperID,
	).Scan(&count); err != nil {
		return model.GeneratedPaper{}, fmt.Errorf("count versions: %w", err)
	}

	p.VersionNumber = count + 1
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return model.GeneratedPaper{}, fmt.Errorf("encode version: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO paper_versions (paper_id, version_number, change_reason, model_identifier, paper, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		paperID, p.VersionNumber, p.ChangeReason, p.ModelIdentifier, string(raw), p.CreatedAt,
	); err != nil {
		return model.GeneratedPaper{}, fmt.Errorf("insert version %d: %w", p.VersionNumber, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE papers SET current_version_index = ?, updated_at = ? WHERE id = ?`,
		p.VersionNumber-1, time.Now().UTC(), paperID,
	); err != nil {
		return model.GeneratedPaper{}, fmt.Errorf("advance current version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.GeneratedPaper{}, fmt.Errorf("commit append: %w", err)
	}
	return p, nil
}

// ListVersions returns every version of a paper in ledger order.
func (s *Store) ListVersions(ctx context.Context, paperID string) ([]model.GeneratedPaper, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT paper FROM paper_versions WHERE paper_id = ? ORDER BY version_number`, paperID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []model.GeneratedPaper
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var p model.GeneratedPaper
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode version: %w", err)
		}
		versions = append(versions, p)
	}
	return versions, rows.Err()
}

// GetVersion returns version n (1-based) of a paper.
func (s *Store) GetVersion(ctx context.Context, paperID string, n int) (model.GeneratedPaper, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT paper FROM paper_versions WHERE paper_id = ? AND version_number = ?`, paperID, n,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return model.GeneratedPaper{}, fmt.Errorf("paper %s version %d: %w", paperID, n, ErrNotFound)
	}
	if err != nil {
		return model.GeneratedPaper{}, fmt.Errorf("get version %d: %w", n, err)
	}
	var p model.GeneratedPaper
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return model.GeneratedPaper{}, fmt.Errorf("decode version %d: %w", n, err)
	}
	return p, nil
}
