package resources

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nova-academy/backend/internal/models"
)

// ErrNotFound indicates no resource matched the lookup.
var ErrNotFound = errors.New("resource not found")

// Repository handles resource persistence: the durable linkage between an
// uploaded asset and its owning entity. Upload sessions live in the TTL store
// and expire; rows here do not.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a resources repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a resource row for an entity (or staging context) and
// returns it with generated fields populated. Called at upload-init time with
// status processing so the UI can show a placeholder before bytes arrive.
func (r *Repository) Create(ctx context.Context, res *models.Resource) (*models.Resource, error) {
	const q = `INSERT INTO resources (entity_type, entity_id, context_id, bucket, file_key, title, file_type, status, created_by)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), NULLIF($7,''), $8, $9)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q,
		res.EntityType, res.EntityID, res.ContextID, res.Bucket, res.FileKey,
		res.Title, res.FileType, string(res.Status), res.CreatedBy,
	).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert resource: %w", err)
	}
	return res, nil
}

// GetByID returns a resource by id.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Resource, error) {
	const q = `SELECT id, entity_type, entity_id, context_id, bucket, file_key,
		COALESCE(title,''), COALESCE(file_type,''), COALESCE(video_url,''), status, created_by, created_at, updated_at
		FROM resources WHERE id = $1`
	res, err := scanResource(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// GetByFileKey returns a resource by its storage file key.
func (r *Repository) GetByFileKey(ctx context.Context, fileKey string) (*models.Resource, error) {
	const q = `SELECT id, entity_type, entity_id, context_id, bucket, file_key,
		COALESCE(title,''), COALESCE(file_type,''), COALESCE(video_url,''), status, created_by, created_at, updated_at
		FROM resources WHERE file_key = $1`
	res, err := scanResource(r.pool.QueryRow(ctx, q, fileKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

// ListByEntity returns all resources attached to an entity, newest first.
func (r *Repository) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.Resource, error) {
	const q = `SELECT id, entity_type, entity_id, context_id, bucket, file_key,
		COALESCE(title,''), COALESCE(file_type,''), COALESCE(video_url,''), status, created_by, created_at, updated_at
		FROM resources WHERE entity_type = $1 AND entity_id = $2 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *res)
	}
	return list, rows.Err()
}

// AttachPlayback stamps the playback URL on the resource identified by its
// file key and flips it to ready. Idempotent: re-running for the same key and
// URL is a no-op.
func (r *Repository) AttachPlayback(ctx context.Context, fileKey, videoURL string) error {
	const q = `UPDATE resources SET video_url = $2, status = $3, updated_at = NOW() WHERE file_key = $1`
	tag, err := r.pool.Exec(ctx, q, fileKey, videoURL, string(models.ResourceStatusReady))
	if err != nil {
		return fmt.Errorf("attach playback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*models.Resource, error) {
	var res models.Resource
	var status string
	err := row.Scan(&res.ID, &res.EntityType, &res.EntityID, &res.ContextID, &res.Bucket, &res.FileKey,
		&res.Title, &res.FileType, &res.VideoURL, &status, &res.CreatedBy, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}
	res.Status = models.ResourceStatus(status)
	return &res, nil
}
