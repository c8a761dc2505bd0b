// Package reviews lets buyers rate foods from completed purchases and
// maintains the denormalized rating aggregates on foods.
package reviews

import (
	"context"
	"database/sql"
	"time"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/database"
)

type Review struct {
	ID        string    `json:"id"`
	BuyerID   string    `json:"buyerId"`
	FoodID    string    `json:"foodId"`
	OrderID   string    `json:"orderId"`
	Rating    int       `json:"rating"`
	Comment   *string   `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create records a review. The order must be completed, belong to the
// buyer, and contain the food; one review per (buyer, food, order).
func (s *Store) Create(ctx context.Context, buyerID, foodID, orderID string, rating int, comment *string) (*Review, error) {
	if rating < 1 || rating > 5 {
		return nil, apperr.Validation("rating must be between 1 and 5", nil)
	}

	var review Review
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var status, orderBuyer string
		err := tx.QueryRowContext(ctx,
			`SELECT status, buyer_id FROM orders WHERE id = $1`, orderID).Scan(&status, &orderBuyer)
		if err == sql.ErrNoRows {
			return apperr.OrderNotFound
		}
		if err != nil {
			return err
		}
		if orderBuyer != buyerID {
			return apperr.ForbiddenOrder
		}
		if status != "completed" {
			return apperr.ReviewNotPermitted
		}

		var contains bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM order_items WHERE order_id = $1 AND food_id = $2)`,
			orderID, foodID).Scan(&contains)
		if err != nil {
			return err
		}
		if !contains {
			return apperr.ReviewNotPermitted.WithMessage("food was not part of this order")
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO reviews (buyer_id, food_id, order_id, rating, comment)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id, buyer_id, food_id, order_id, rating, comment, created_at`,
			buyerID, foodID, orderID, rating, comment).
			Scan(&review.ID, &review.BuyerID, &review.FoodID, &review.OrderID,
				&review.Rating, &review.Comment, &review.CreatedAt)
		if err != nil {
			if database.IsUniqueViolation(err, "") {
				return apperr.ReviewConflict
			}
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE foods
			SET rating = sub.avg_rating, review_count = sub.cnt, updated_at = now()
			FROM (
				SELECT round(avg(rating)::numeric, 2) AS avg_rating, count(*) AS cnt
				FROM reviews WHERE food_id = $1
			) sub
			WHERE id = $1`, foodID)
		return err
	})
	if err != nil {
		if apperr.As(err) != nil {
			return nil, err
		}
		return nil, apperr.Internal.WithCause(err)
	}
	return &review, nil
}

// ForFood lists a food's reviews, newest first.
func (s *Store) ForFood(ctx context.Context, foodID string, limit, offset int) ([]Review, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM reviews WHERE food_id = $1`, foodID).Scan(&total); err != nil {
		return nil, 0, apperr.Internal.WithCause(err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, buyer_id, food_id, order_id, rating, comment, created_at
		FROM reviews WHERE food_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, foodID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal.WithCause(err)
	}
	defer rows.Close()
	var reviews []Review
	for rows.Next() {
		var r Review
		if err := rows.Scan(&r.ID, &r.BuyerID, &r.FoodID, &r.OrderID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, 0, apperr.Internal.WithCause(err)
		}
		reviews = append(reviews, r)
	}
	return reviews, total, rows.Err()
}
