package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/purposefullive/coaching-platform/libs/db"
	"github.com/purposefullive/coaching-platform/services/scheduling-service/internal/model"
)

type FileRepository struct {
	pool *db.Pool
}

func NewFileRepository(pool *db.Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

const fileColumns = `id::text, session_id::text, uploaded_by, file_name, content_type, size_bytes, url, created_at`

func scanFile(row pgx.CollectableRow) (model.SessionFile, error) {
	var f model.SessionFile
	err := row.Scan(&f.ID, &f.SessionID, &f.UploadedBy, &f.FileName, &f.ContentType, &f.SizeBytes, &f.URL, &f.CreatedAt)
	return f, err
}

func (r *FileRepository) Create(ctx context.Context, f model.SessionFile) (model.SessionFile, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	rows, err := r.pool.Query(ctx, `
		INSERT INTO session_files (id, session_id, uploaded_by, file_name, content_type, size_bytes, url)
		VALUES ($1, $2::uuid, $3, $4, $5, $6, $7)
		RETURNING `+fileColumns,
		f.ID, f.SessionID, f.UploadedBy, f.FileName, f.ContentType, f.SizeBytes, f.URL)
	if err != nil {
		return model.SessionFile{}, err
	}
	return pgx.CollectExactlyOneRow(rows, scanFile)
}

func (r *FileRepository) ListBySession(ctx context.Context, sessionID string) ([]model.SessionFile, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+fileColumns+` FROM session_files WHERE session_id::text = $1 ORDER BY created_at
	`, sessionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanFile)
}
