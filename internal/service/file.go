package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"bimflow/internal/model"
)

var ErrFileNotFound = errors.New("file not found")

const fileColumns = `id, order_id, role, name, size_bytes, storage_key, content_type, created_at`

// FileService records transferred artifacts. Rows are append-only; dedup
// of repeated confirms is deliberately not attempted.
type FileService struct {
	db *sql.DB
}

func NewFileService(db *sql.DB) *FileService {
	return &FileService{db: db}
}

func (s *FileService) Create(ctx context.Context, orderID string, role model.FileRole, name string, sizeBytes *int64, storageKey string, contentType *string) (*model.File, error) {
	var size sql.NullInt64
	if sizeBytes != nil {
		size = sql.NullInt64{Int64: *sizeBytes, Valid: true}
	}
	var ctype sql.NullString
	if contentType != nil {
		ctype = sql.NullString{String: *contentType, Valid: true}
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO files (id, order_id, role, name, size_bytes, storage_key, content_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+fileColumns,
		uuid.NewString(), orderID, role, name, size, storageKey, ctype,
	)

	file, err := scanFile(row)
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}
	return file, nil
}

func (s *FileService) GetByID(ctx context.Context, id string) (*model.File, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id)

	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return file, nil
}

func (s *FileService) ListByOrder(ctx context.Context, orderID string) ([]model.File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+`
		FROM files
		WHERE order_id = $1
		ORDER BY created_at ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var files []model.File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, *file)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return files, nil
}

// LatestByRole returns the most recently recorded file of a role, the one
// a download request resolves to when no file id is given.
func (s *FileService) LatestByRole(ctx context.Context, orderID string, role model.FileRole) (*model.File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+fileColumns+`
		FROM files
		WHERE order_id = $1 AND role = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID, role)

	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest %s file: %w", role, err)
	}
	return file, nil
}

func scanFile(row rowScanner) (*model.File, error) {
	var (
		f     model.File
		size  sql.NullInt64
		ctype sql.NullString
	)
	if err := row.Scan(&f.ID, &f.OrderID, &f.Role, &f.Name, &size, &f.StorageKey, &ctype, &f.CreatedAt); err != nil {
		return nil, err
	}
	if size.Valid {
		f.SizeBytes = &size.Int64
	}
	f.ContentType = nullStr(ctype)
	return &f, nil
}
