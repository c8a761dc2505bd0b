// Package disclosure records allergen disclosures per order. Two phases
// exist, pre_order and handover, and the completion gate requires both.
package disclosure

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/database"
)

const (
	PhasePreOrder = "pre_order"
	PhaseHandover = "handover"
)

type Record struct {
	ID                 string    `json:"id"`
	OrderID            string    `json:"orderId"`
	Phase              string    `json:"phase"`
	Allergens          []string  `json:"allergens"`
	ConfirmationMethod string    `json:"confirmationMethod"`
	RecordedBy         string    `json:"recordedBy"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Save upserts the disclosure for (order, phase). Re-recording a phase
// replaces the allergen list and bumps updated_at.
func (s *Store) Save(ctx context.Context, orderID, phase string, allergens []string, method, recordedBy string) (*Record, error) {
	if phase != PhasePreOrder && phase != PhaseHandover {
		return nil, apperr.Validation("phase must be pre_order or handover", nil)
	}
	if method == "" {
		return nil, apperr.Validation("confirmationMethod is required", nil)
	}
	if allergens == nil {
		allergens = []string{}
	}

	var r Record
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO allergen_disclosure_records (order_id, phase, allergens, confirmation_method, recorded_by)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (order_id, phase) DO UPDATE
			SET allergens = EXCLUDED.allergens,
				confirmation_method = EXCLUDED.confirmation_method,
				recorded_by = EXCLUDED.recorded_by,
				updated_at = now()
		RETURNING id, order_id, phase, allergens, confirmation_method, recorded_by, created_at, updated_at`,
		orderID, phase, pq.Array(allergens), method, recordedBy).
		Scan(&r.ID, &r.OrderID, &r.Phase, pq.Array(&r.Allergens), &r.ConfirmationMethod,
			&r.RecordedBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &r, nil
}

// ForOrder returns the recorded disclosures for an order keyed by phase.
func (s *Store) ForOrder(ctx context.Context, orderID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, phase, allergens, confirmation_method, recorded_by, created_at, updated_at
		FROM allergen_disclosure_records WHERE order_id = $1 ORDER BY phase`, orderID)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.OrderID, &r.Phase, pq.Array(&r.Allergens),
			&r.ConfirmationMethod, &r.RecordedBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, apperr.Internal.WithCause(err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
