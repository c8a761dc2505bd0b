// Package catalog manages categories, food listings, and favorites.
// foods.current_stock is a derived cache owned by the lot engine; catalog
// reads it but never writes it.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/database"
)

type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sortOrder"`
	CreatedAt time.Time `json:"createdAt"`
}

type Food struct {
	ID            string          `json:"id"`
	SellerID      string          `json:"sellerId"`
	CategoryID    *string         `json:"categoryId,omitempty"`
	Name          string          `json:"name"`
	Description   *string         `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	Allergens     []string        `json:"allergens"`
	IsActive      bool            `json:"isActive"`
	Rating        decimal.Decimal `json:"rating"`
	ReviewCount   int             `json:"reviewCount"`
	FavoriteCount int             `json:"favoriteCount"`
	CurrentStock  int             `json:"currentStock"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// SellerEligibility consults the compliance workflow before a listing can
// be activated. Implemented by the compliance service.
type SellerEligibility interface {
	CanListFood(ctx context.Context, sellerID string) error
}

type Service struct {
	db          *database.DB
	eligibility SellerEligibility
	logger      *log.Logger
}

func NewService(db *database.DB, eligibility SellerEligibility) *Service {
	return &Service{
		db:          db,
		eligibility: eligibility,
		logger:      log.New(log.Writer(), "[CATALOG] ", log.LstdFlags),
	}
}

// --- Categories ---

func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, sort_order, created_at FROM categories ORDER BY sort_order, name`)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	defer rows.Close()

	var cats []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.SortOrder, &c.CreatedAt); err != nil {
			return nil, apperr.Internal.WithCause(err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (s *Service) CreateCategory(ctx context.Context, name string, sortOrder int) (*Category, error) {
	var c Category
	c.Name, c.SortOrder = name, sortOrder
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO categories (name, sort_order) VALUES ($1,$2) RETURNING id, created_at`,
		name, sortOrder).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "") {
			return nil, apperr.Validation("category name already exists", nil)
		}
		return nil, apperr.Internal.WithCause(err)
	}
	return &c, nil
}

// --- Foods ---

const foodCols = `id, seller_id, category_id, name, description, price, currency, allergens,
	is_active, rating, review_count, favorite_count, current_stock, created_at, updated_at`

func scanFood(row interface{ Scan(...interface{}) error }) (*Food, error) {
	var f Food
	err := row.Scan(&f.ID, &f.SellerID, &f.CategoryID, &f.Name, &f.Description,
		&f.Price, &f.Currency, pq.Array(&f.Allergens), &f.IsActive, &f.Rating,
		&f.ReviewCount, &f.FavoriteCount, &f.CurrentStock, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.FoodNotFound
	}
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &f, nil
}

type CreateFoodInput struct {
	CategoryID  *string
	Name        string
	Description *string
	Price       decimal.Decimal
	Currency    string
	Allergens   []string
	IsActive    bool
}

// CreateFood inserts a listing. Activation requires seller compliance
// eligibility for the seller's country.
func (s *Service) CreateFood(ctx context.Context, sellerID string, in CreateFoodInput) (*Food, error) {
	if in.IsActive {
		if err := s.eligibility.CanListFood(ctx, sellerID); err != nil {
			return nil, err
		}
	}
	if in.Currency == "" {
		in.Currency = "TRY"
	}
	if in.Allergens == nil {
		in.Allergens = []string{}
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO foods (seller_id, category_id, name, description, price, currency, allergens, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING `+foodCols,
		sellerID, in.CategoryID, in.Name, in.Description, in.Price, in.Currency,
		pq.Array(in.Allergens), in.IsActive)
	food, err := scanFood(row)
	if err != nil {
		return nil, err
	}
	s.logger.Printf("🍲 Food created: %s (%s) by seller %s", food.Name, food.ID, sellerID)
	return food, nil
}

func (s *Service) GetFood(ctx context.Context, id string) (*Food, error) {
	return scanFood(s.db.QueryRowContext(ctx, `SELECT `+foodCols+` FROM foods WHERE id = $1`, id))
}

// FoodListFilter narrows ListFoods.
type FoodListFilter struct {
	SellerID   string
	CategoryID string
	ActiveOnly bool
	Search     string
	Sort       string // createdAt | price | rating, "-" prefix for descending
}

// foodSortColumns maps API sort fields to order-by columns.
var foodSortColumns = map[string]string{
	"createdAt": "created_at",
	"price":     "price",
	"rating":    "rating",
}

func foodOrderBy(sort string) (string, error) {
	if sort == "" {
		return "created_at DESC, id DESC", nil
	}
	dir := "ASC"
	field := sort
	if strings.HasPrefix(sort, "-") {
		dir = "DESC"
		field = sort[1:]
	}
	col, ok := foodSortColumns[field]
	if !ok {
		return "", apperr.SortFieldInvalid.WithMessage("unknown sort field %q", field)
	}
	return col + " " + dir + ", id DESC", nil
}

func (s *Service) ListFoods(ctx context.Context, filter FoodListFilter, limit, offset int) ([]Food, int, error) {
	orderBy, err := foodOrderBy(filter.Sort)
	if err != nil {
		return nil, 0, err
	}
	where := "WHERE 1=1"
	args := []interface{}{}
	add := func(clause string, val interface{}) {
		args = append(args, val)
		where += " AND " + fmt.Sprintf(clause, len(args))
	}
	if filter.SellerID != "" {
		add("seller_id = $%d", filter.SellerID)
	}
	if filter.CategoryID != "" {
		add("category_id = $%d", filter.CategoryID)
	}
	if filter.ActiveOnly {
		where += " AND is_active"
	}
	if filter.Search != "" {
		add("name ILIKE '%%' || $%d || '%%'", filter.Search)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM foods `+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal.WithCause(err)
	}

	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT `+foodCols+` FROM foods `+where+`
		ORDER BY `+orderBy+`
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, apperr.Internal.WithCause(err)
	}
	defer rows.Close()

	var foods []Food
	for rows.Next() {
		f, err := scanFood(rows)
		if err != nil {
			return nil, 0, err
		}
		foods = append(foods, *f)
	}
	return foods, total, rows.Err()
}

type UpdateFoodInput struct {
	CategoryID  *string
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Allergens   []string
	IsActive    *bool
}

// UpdateFood applies a partial update to a seller-owned listing.
func (s *Service) UpdateFood(ctx context.Context, sellerID, foodID string, in UpdateFoodInput) (*Food, error) {
	food, err := s.GetFood(ctx, foodID)
	if err != nil {
		return nil, err
	}
	if food.SellerID != sellerID {
		return nil, apperr.RoleNotAllowed.WithMessage("food belongs to another seller")
	}

	if in.IsActive != nil && *in.IsActive && !food.IsActive {
		if err := s.eligibility.CanListFood(ctx, sellerID); err != nil {
			return nil, err
		}
	}

	if in.CategoryID != nil {
		food.CategoryID = in.CategoryID
	}
	if in.Name != nil {
		food.Name = *in.Name
	}
	if in.Description != nil {
		food.Description = in.Description
	}
	if in.Price != nil {
		food.Price = *in.Price
	}
	if in.Allergens != nil {
		food.Allergens = in.Allergens
	}
	if in.IsActive != nil {
		food.IsActive = *in.IsActive
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE foods
		SET category_id = $2, name = $3, description = $4, price = $5, allergens = $6,
			is_active = $7, updated_at = now()
		WHERE id = $1
		RETURNING `+foodCols,
		food.ID, food.CategoryID, food.Name, food.Description, food.Price,
		pq.Array(food.Allergens), food.IsActive)
	return scanFood(row)
}

// DeleteFood deactivates a listing; lot and order history keeps the row.
func (s *Service) DeleteFood(ctx context.Context, sellerID, foodID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE foods SET is_active = false, updated_at = now() WHERE id = $1 AND seller_id = $2`,
		foodID, sellerID)
	if err != nil {
		return apperr.Internal.WithCause(err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return apperr.FoodNotFound
	}
	return nil
}

// --- Favorites ---

func (s *Service) AddFavorite(ctx context.Context, userID, foodID string) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO favorites (user_id, food_id) VALUES ($1,$2)`, userID, foodID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE foods SET favorite_count = favorite_count + 1 WHERE id = $1`, foodID)
		return err
	})
	if err != nil {
		if database.IsUniqueViolation(err, "") {
			return nil // already a favorite, idempotent
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return apperr.FoodNotFound
		}
		return apperr.Internal.WithCause(err)
	}
	return nil
}

func (s *Service) RemoveFavorite(ctx context.Context, userID, foodID string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM favorites WHERE user_id = $1 AND food_id = $2`, userID, foodID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			_, err = tx.ExecContext(ctx,
				`UPDATE foods SET favorite_count = greatest(favorite_count - 1, 0) WHERE id = $1`, foodID)
		}
		return err
	})
}

func (s *Service) ListFavorites(ctx context.Context, userID string) ([]Food, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.seller_id, f.category_id, f.name, f.description, f.price, f.currency,
			f.allergens, f.is_active, f.rating, f.review_count, f.favorite_count,
			f.current_stock, f.created_at, f.updated_at
		FROM favorites fav JOIN foods f ON f.id = fav.food_id
		WHERE fav.user_id = $1
		ORDER BY fav.created_at DESC`, userID)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	defer rows.Close()

	var foods []Food
	for rows.Next() {
		f, err := scanFood(rows)
		if err != nil {
			return nil, err
		}
		foods = append(foods, *f)
	}
	return foods, rows.Err()
}

