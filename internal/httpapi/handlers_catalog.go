package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/authz"
	"github.com/coziyoo/backend/internal/catalog"
)

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.catalog.ListCategories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, cats)
}

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name      string `json:"name"`
		SortOrder int    `json:"sortOrder"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Name == "" {
		writeError(w, apperr.Validation("name is required", nil))
		return
	}
	cat, err := s.catalog.CreateCategory(r.Context(), in.Name, in.SortOrder)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, cat)
}

func (s *Server) listFoods(w http.ResponseWriter, r *http.Request) {
	page, pageSize, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	filter := catalog.FoodListFilter{
		SellerID:   q.Get("sellerId"),
		CategoryID: q.Get("categoryId"),
		Search:     q.Get("search"),
		Sort:       q.Get("sort"),
		// Public listings only show active foods; sellers see their full
		// inventory through the sellerId filter on their own ID.
		ActiveOnly: q.Get("includeInactive") != "true",
	}
	foods, total, err := s.catalog.ListFoods(r.Context(), filter, pageSize, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if foods == nil {
		foods = []catalog.Food{}
	}
	writePaged(w, foods, newOffsetPage(page, pageSize, total))
}

func (s *Server) getFood(w http.ResponseWriter, r *http.Request) {
	food, err := s.catalog.GetFood(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, food)
}

func (s *Server) createFood(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		CategoryID  *string         `json:"categoryId"`
		Name        string          `json:"name"`
		Description *string         `json:"description"`
		Price       decimal.Decimal `json:"price"`
		Currency    string          `json:"currency"`
		Allergens   []string        `json:"allergens"`
		IsActive    bool            `json:"isActive"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Name == "" || in.Price.LessThanOrEqual(decimal.Zero) {
		writeError(w, apperr.Validation("name and a positive price are required", nil))
		return
	}
	food, err := s.catalog.CreateFood(r.Context(), actor.UserID, catalog.CreateFoodInput{
		CategoryID:  in.CategoryID,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Currency:    in.Currency,
		Allergens:   in.Allergens,
		IsActive:    in.IsActive,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, food)
}

func (s *Server) updateFood(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		CategoryID  *string          `json:"categoryId"`
		Name        *string          `json:"name"`
		Description *string          `json:"description"`
		Price       *decimal.Decimal `json:"price"`
		Allergens   []string         `json:"allergens"`
		IsActive    *bool            `json:"isActive"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Price != nil && in.Price.LessThanOrEqual(decimal.Zero) {
		writeError(w, apperr.Validation("price must be positive", nil))
		return
	}
	food, err := s.catalog.UpdateFood(r.Context(), actor.UserID, mux.Vars(r)["id"], catalog.UpdateFoodInput{
		CategoryID:  in.CategoryID,
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Allergens:   in.Allergens,
		IsActive:    in.IsActive,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, food)
}

func (s *Server) deleteFood(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	if err := s.catalog.DeleteFood(r.Context(), actor.UserID, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (s *Server) addFavorite(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	if err := s.catalog.AddFavorite(r.Context(), actor.UserID, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "favorited"})
}

func (s *Server) removeFavorite(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	if err := s.catalog.RemoveFavorite(r.Context(), actor.UserID, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) listFavorites(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	foods, err := s.catalog.ListFavorites(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if foods == nil {
		foods = []catalog.Food{}
	}
	writeData(w, http.StatusOK, foods)
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	page, pageSize, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	revs, total, err := s.reviews.ForFood(r.Context(), mux.Vars(r)["id"], pageSize, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writePaged(w, revs, newOffsetPage(page, pageSize, total))
}

func (s *Server) createReview(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		FoodID  string  `json:"foodId"`
		OrderID string  `json:"orderId"`
		Rating  int     `json:"rating"`
		Comment *string `json:"comment"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	review, err := s.reviews.Create(r.Context(), actor.UserID, in.FoodID, in.OrderID, in.Rating, in.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, review)
}
