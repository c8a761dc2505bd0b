package identity

import (
	"context"
	"database/sql"
	"time"

	"github.com/coziyoo/backend/internal/apperr"
)

// Address is a saved delivery address. At most one per user is the default,
// enforced by a partial unique index.
type Address struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Label     string    `json:"label"`
	Line1     string    `json:"line1"`
	Line2     *string   `json:"line2,omitempty"`
	City      string    `json:"city"`
	Postcode  *string   `json:"postcode,omitempty"`
	Country   string    `json:"country"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
}

const addressCols = `id, user_id, label, line1, line2, city, postcode, country,
	latitude, longitude, is_default, created_at`

func scanAddress(row interface{ Scan(...interface{}) error }) (*Address, error) {
	var a Address
	err := row.Scan(&a.ID, &a.UserID, &a.Label, &a.Line1, &a.Line2, &a.City,
		&a.Postcode, &a.Country, &a.Latitude, &a.Longitude, &a.IsDefault, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.AddressNotFound
	}
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &a, nil
}

// SaveAddress inserts an address. Marking it default demotes the previous
// default in the same transaction.
func (s *Service) SaveAddress(ctx context.Context, a *Address) (*Address, error) {
	if a.Label == "" || a.Line1 == "" || a.City == "" || a.Country == "" {
		return nil, apperr.Validation("label, line1, city, and country are required", nil)
	}
	var saved *Address
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if a.IsDefault {
			if _, err := tx.ExecContext(ctx,
				`UPDATE user_addresses SET is_default = false WHERE user_id = $1 AND is_default`, a.UserID); err != nil {
				return err
			}
		}
		row := tx.QueryRowContext(ctx, `
			INSERT INTO user_addresses
				(user_id, label, line1, line2, city, postcode, country, latitude, longitude, is_default)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			RETURNING `+addressCols,
			a.UserID, a.Label, a.Line1, a.Line2, a.City, a.Postcode, a.Country,
			a.Latitude, a.Longitude, a.IsDefault)
		var err error
		saved, err = scanAddress(row)
		return err
	})
	if err != nil {
		if e := apperr.As(err); e != nil {
			return nil, e
		}
		return nil, apperr.Internal.WithCause(err)
	}
	return saved, nil
}

// ListAddresses returns the user's addresses, default first.
func (s *Service) ListAddresses(ctx context.Context, userID string) ([]Address, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+addressCols+` FROM user_addresses
		WHERE user_id = $1 ORDER BY is_default DESC, created_at DESC`, userID)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	defer rows.Close()
	var out []Address
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// DeleteAddress removes a user-owned address.
func (s *Service) DeleteAddress(ctx context.Context, userID, addressID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_addresses WHERE id = $1 AND user_id = $2`, addressID, userID)
	if err != nil {
		return apperr.Internal.WithCause(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.AddressNotFound
	}
	return nil
}

// SetDefaultAddress promotes one address and demotes the rest.
func (s *Service) SetDefaultAddress(ctx context.Context, userID, addressID string) (*Address, error) {
	var addr *Address
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE user_addresses SET is_default = false WHERE user_id = $1 AND is_default`, userID); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE user_addresses SET is_default = true
			WHERE id = $1 AND user_id = $2 RETURNING `+addressCols, addressID, userID)
		var err error
		addr, err = scanAddress(row)
		return err
	})
	if err != nil {
		if e := apperr.As(err); e != nil {
			return nil, e
		}
		return nil, apperr.Internal.WithCause(err)
	}
	return addr, nil
}
