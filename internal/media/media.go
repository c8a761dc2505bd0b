// Package media tracks uploaded asset references (food photos, compliance
// documents, evidence files). Storage itself is external; this is the
// ownership ledger the rest of the system points at.
package media

import (
	"context"
	"database/sql"
	"time"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/database"
)

const (
	KindFoodPhoto          = "food_photo"
	KindComplianceDocument = "compliance_document"
	KindDisputeEvidence    = "dispute_evidence"
	KindAvatar             = "avatar"
)

type Asset struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Kind        string    `json:"kind"`
	FileURL     string    `json:"fileUrl"`
	ContentType *string   `json:"contentType,omitempty"`
	SizeBytes   *int64    `json:"sizeBytes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

var validKinds = map[string]bool{
	KindFoodPhoto:          true,
	KindComplianceDocument: true,
	KindDisputeEvidence:    true,
	KindAvatar:             true,
}

// Register records an uploaded asset for its owner.
func (s *Store) Register(ctx context.Context, ownerID, kind, fileURL string, contentType *string, sizeBytes *int64) (*Asset, error) {
	if !validKinds[kind] {
		return nil, apperr.Validation("unknown asset kind", map[string]interface{}{"kind": kind})
	}
	if fileURL == "" {
		return nil, apperr.Validation("fileUrl is required", nil)
	}
	var a Asset
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO media_assets (owner_id, kind, file_url, content_type, size_bytes)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, owner_id, kind, file_url, content_type, size_bytes, created_at`,
		ownerID, kind, fileURL, contentType, sizeBytes).
		Scan(&a.ID, &a.OwnerID, &a.Kind, &a.FileURL, &a.ContentType, &a.SizeBytes, &a.CreatedAt)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &a, nil
}

// ListMine returns the owner's assets, optionally filtered by kind.
func (s *Store) ListMine(ctx context.Context, ownerID, kind string) ([]Asset, error) {
	query := `
		SELECT id, owner_id, kind, file_url, content_type, size_bytes, created_at
		FROM media_assets WHERE owner_id = $1`
	args := []interface{}{ownerID}
	if kind != "" {
		query += ` AND kind = $2`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	defer rows.Close()
	var out []Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Kind, &a.FileURL, &a.ContentType, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, apperr.Internal.WithCause(err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Get returns an owner-scoped asset.
func (s *Store) Get(ctx context.Context, ownerID, assetID string) (*Asset, error) {
	var a Asset
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, kind, file_url, content_type, size_bytes, created_at
		FROM media_assets WHERE id = $1 AND owner_id = $2`, assetID, ownerID).
		Scan(&a.ID, &a.OwnerID, &a.Kind, &a.FileURL, &a.ContentType, &a.SizeBytes, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.MediaAssetNotFound
	}
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &a, nil
}

// Delete removes an owner's asset reference. The blob in object storage is
// cleaned up by the storage lifecycle policy, not here.
func (s *Store) Delete(ctx context.Context, ownerID, assetID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM media_assets WHERE id = $1 AND owner_id = $2`, assetID, ownerID)
	if err != nil {
		return apperr.Internal.WithCause(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.MediaAssetNotFound
	}
	return nil
}
