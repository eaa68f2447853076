package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/kelasi/composer/internal/export"
)

type Repository interface {
	CreateAsset(ctx context.Context, asset *Asset) error
	GetAsset(ctx context.Context, id string) (*Asset, error)
	ListAssets(ctx context.Context, kind string) ([]*Asset, error)

	export.JobStore
	GetExport(ctx context.Context, id string) (*Export, error)
	ListExports(ctx context.Context, limit int) ([]*Export, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateAsset(ctx context.Context, a *Asset) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assets (id, kind, path, mime, size, duration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Kind, a.Path, a.MIME, a.Size, a.Duration, a.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetAsset(ctx context.Context, id string) (*Asset, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, kind, path, mime, size, duration, created_at
		FROM assets WHERE id = ?
	`, id)

	var a Asset
	var createdAt string
	err := row.Scan(&a.ID, &a.Kind, &a.Path, &a.MIME, &a.Size, &a.Duration, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &a, nil
}

// ListAssets returns assets newest first. An empty kind lists every asset.
func (r *SQLiteRepository) ListAssets(ctx context.Context, kind string) ([]*Asset, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, path, mime, size, duration, created_at
		FROM assets WHERE (? = '' OR kind = ?) ORDER BY created_at DESC, id
	`, kind, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		var a Asset
		var createdAt string
		if err := rows.Scan(&a.ID, &a.Kind, &a.Path, &a.MIME, &a.Size, &a.Duration, &createdAt); err != nil {
			return nil, err
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		assets = append(assets, &a)
	}
	return assets, rows.Err()
}

func (r *SQLiteRepository) CreateExport(ctx context.Context, rec export.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exports (id, status, progress, error, output_path, plan_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, string(rec.Status), rec.Progress, nullString(rec.Error), nullString(rec.OutputPath), nullString(rec.PlanJSON),
		rec.CreatedAt.UTC().Format(time.RFC3339), rec.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

// UpdateExport writes status, progress and error. Output path and plan keep
// their stored value when rec leaves them empty.
func (r *SQLiteRepository) UpdateExport(ctx context.Context, rec export.Record) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE exports SET
			status = ?,
			progress = ?,
			error = ?,
			output_path = COALESCE(?, output_path),
			plan_json = COALESCE(?, plan_json),
			updated_at = ?
		WHERE id = ?
	`, string(rec.Status), rec.Progress, nullString(rec.Error), nullString(rec.OutputPath), nullString(rec.PlanJSON),
		rec.UpdatedAt.UTC().Format(time.RFC3339), rec.ID)
	return err
}

func (r *SQLiteRepository) GetExport(ctx context.Context, id string) (*Export, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, status, progress, error, output_path, plan_json, created_at, updated_at
		FROM exports WHERE id = ?
	`, id)

	var e Export
	var errMsg, outputPath, planJSON sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&e.ID, &e.Status, &e.Progress, &errMsg, &outputPath, &planJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.Error = errMsg.String
	e.OutputPath = outputPath.String
	e.PlanJSON = planJSON.String
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &e, nil
}

func (r *SQLiteRepository) ListExports(ctx context.Context, limit int) ([]*Export, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, status, progress, error, output_path, created_at, updated_at
		FROM exports ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exports []*Export
	for rows.Next() {
		var e Export
		var errMsg, outputPath sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(&e.ID, &e.Status, &e.Progress, &errMsg, &outputPath, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		e.Error = errMsg.String
		e.OutputPath = outputPath.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		exports = append(exports, &e)
	}
	return exports, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
