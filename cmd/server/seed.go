package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/catalog"
	"github.com/coziyoo/backend/internal/compliance"
	"github.com/coziyoo/backend/internal/database"
	"github.com/coziyoo/backend/internal/finance"
	"github.com/coziyoo/backend/internal/identity"
	"github.com/coziyoo/backend/internal/lots"
)

const (
	seedSellerEmail = "demo.seller@coziyoo.local"
	seedBuyerEmail  = "demo.buyer@coziyoo.local"
	seedAdminEmail  = "demo.admin@coziyoo.local"
	seedPassword    = "coziyoo-demo-1"
)

// seedDemoData loads the demo fixtures: one seller with a verified TR
// compliance profile, one buyer, one active food with an open lot, and a
// 10% commission rate. Safe to re-run; it bails out if the demo seller
// already exists.
func seedDemoData(ctx context.Context, db *database.DB,
	identitySvc *identity.Service, complianceSvc *compliance.Service,
	catalogSvc *catalog.Service, lotSvc *lots.Service, financeSvc *finance.Service) error {

	logger := log.New(log.Writer(), "[SEED] ", log.LstdFlags)

	seller, err := identitySvc.Register(ctx, identity.RegisterInput{
		Email:       seedSellerEmail,
		Password:    seedPassword,
		DisplayName: "Demo Seller",
		UserType:    "seller",
		Country:     "TR",
		Language:    "tr",
	})
	if apperr.IsCode(err, "EMAIL_TAKEN") {
		logger.Println("Demo data already present, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	buyer, err := identitySvc.Register(ctx, identity.RegisterInput{
		Email:       seedBuyerEmail,
		Password:    seedPassword,
		DisplayName: "Demo Buyer",
		UserType:    "buyer",
		Country:     "TR",
		Language:    "tr",
	})
	if err != nil {
		return err
	}

	adminID, err := seedAdmin(ctx, db)
	if err != nil {
		return err
	}

	businessName := "Demo Mutfak"
	profile, err := complianceSvc.StartProfile(ctx, seller.ID, "TR", &businessName)
	if err != nil {
		return err
	}
	for _, code := range []string{"identity_verified", "hygiene_training", "kitchen_declaration"} {
		if _, err := complianceSvc.VerifyCheck(ctx, adminID, profile.ID, code, true); err != nil {
			return err
		}
	}

	food, err := catalogSvc.CreateFood(ctx, seller.ID, catalog.CreateFoodInput{
		Name:     "Tavuk Pilav",
		Price:    decimal.RequireFromString("189.90"),
		Currency: "TRY",
		IsActive: true,
	})
	if err != nil {
		return err
	}

	useBy := time.Now().Add(72 * time.Hour)
	if _, err := lotSvc.CreateLot(ctx, seller.ID, lots.CreateLotInput{
		FoodID:           food.ID,
		LotNumber:        "DEMO-001",
		ProducedAt:       time.Now(),
		UseBy:            &useBy,
		QuantityProduced: 100,
	}); err != nil {
		return err
	}

	if _, err := financeSvc.SetRate(ctx, adminID, decimal.RequireFromString("0.10")); err != nil {
		return err
	}

	logger.Printf("🌱 Seeded seller=%s buyer=%s food=%s", seller.ShortID, buyer.ShortID, food.ID)
	return nil
}

// seedAdmin inserts the demo super admin, returning the existing row's id
// when it is already there.
func seedAdmin(ctx context.Context, db *database.DB) (string, error) {
	var id string
	err := db.QueryRowContext(ctx,
		`SELECT id FROM admin_users WHERE lower(email) = lower($1)`, seedAdminEmail).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}

	hash, err := identity.HashPassword(seedPassword)
	if err != nil {
		return "", err
	}
	err = db.QueryRowContext(ctx, `
		INSERT INTO admin_users (email, password_hash, display_name, role)
		VALUES ($1, $2, 'Demo Admin', 'super_admin')
		RETURNING id`, seedAdminEmail, hash).Scan(&id)
	return id, err
}
