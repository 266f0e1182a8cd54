package file

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opd-ai/accountd/backend"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	name         TEXT PRIMARY KEY,
	id           TEXT NOT NULL UNIQUE,
	size         INTEGER NOT NULL,
	content_type TEXT NOT NULL,
	thumbnail    BLOB,
	created      INTEGER NOT NULL
);
`

// index is the metadata table.
type index struct {
	db *sql.DB
}

func openIndex(path string) (*index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open file index: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize file index: %w", err)
	}
	return &index{db: db}, nil
}

func (ix *index) lookup(ctx context.Context, name string) (backend.FileInfo, error) {
	row := ix.db.QueryRowContext(ctx,
		`SELECT id, name, size, content_type, thumbnail, created FROM files WHERE name = ?`, name)
	info, err := scanInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return backend.FileInfo{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return info, err
}

func (ix *index) upsert(ctx context.Context, info backend.FileInfo) error {
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO files (name, id, size, content_type, thumbnail, created)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			id = excluded.id,
			size = excluded.size,
			content_type = excluded.content_type,
			thumbnail = excluded.thumbnail,
			created = excluded.created`,
		info.Name, info.ID, info.Size, info.ContentType, info.Thumbnail, info.Created.UnixNano())
	if err != nil {
		return fmt.Errorf("save file metadata: %w", err)
	}
	return nil
}

func (ix *index) remove(ctx context.Context, name string) error {
	res, err := ix.db.ExecContext(ctx, `DELETE FROM files WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete file metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func (ix *index) list(ctx context.Context) ([]backend.FileInfo, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT id, name, size, content_type, thumbnail, created FROM files ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var out []backend.FileInfo
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (ix *index) close() error {
	return ix.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInfo(s scanner) (backend.FileInfo, error) {
	var (
		info    backend.FileInfo
		created int64
	)
	if err := s.Scan(&info.ID, &info.Name, &info.Size, &info.ContentType, &info.Thumbnail, &created); err != nil {
		return backend.FileInfo{}, err
	}
	info.Created = time.Unix(0, created).UTC()
	return info, nil
}
