// Package compliance runs the seller onboarding workflow: profile
// lifecycle, document uploads, verification checks, and the country rules
// that gate listing activation.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/audit"
	"github.com/coziyoo/backend/internal/database"
	"github.com/coziyoo/backend/internal/outbox"
)

// Profile statuses.
const (
	StatusNotStarted  = "not_started"
	StatusInProgress  = "in_progress"
	StatusSubmitted   = "submitted"
	StatusUnderReview = "under_review"
	StatusApproved    = "approved"
	StatusRejected    = "rejected"
	StatusSuspended   = "suspended"
)

// Baseline checks required before submission, per country.
var requiredChecks = map[string][]string{
	"TR": {"identity_verified", "hygiene_training", "kitchen_declaration"},
	"UK": {"identity_verified", "food_hygiene_rating", "council_registration", "allergen_training"},
}

type Profile struct {
	ID           string     `json:"id"`
	SellerID     string     `json:"sellerId"`
	Status       string     `json:"status"`
	Country      string     `json:"country"`
	BusinessName *string    `json:"businessName,omitempty"`
	ReviewNote   *string    `json:"reviewNote,omitempty"`
	SubmittedAt  *time.Time `json:"submittedAt,omitempty"`
	ReviewedAt   *time.Time `json:"reviewedAt,omitempty"`
	ReviewedBy   *string    `json:"reviewedBy,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type Document struct {
	ID         string    `json:"id"`
	ProfileID  string    `json:"profileId"`
	DocType    string    `json:"docType"`
	FileURL    string    `json:"fileUrl"`
	Status     string    `json:"status"`
	Note       *string   `json:"note,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type Check struct {
	ID         string     `json:"id"`
	ProfileID  string     `json:"profileId"`
	CheckCode  string     `json:"checkCode"`
	Required   bool       `json:"required"`
	Status     string     `json:"status"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`
	VerifiedBy *string    `json:"verifiedBy,omitempty"`
}

type Service struct {
	db     *database.DB
	logger *log.Logger
}

func NewService(db *database.DB) *Service {
	return &Service{
		db:     db,
		logger: log.New(log.Writer(), "[COMPLIANCE] ", log.LstdFlags),
	}
}

const profileCols = `id, seller_id, status, country, business_name, review_note,
	submitted_at, reviewed_at, reviewed_by, created_at, updated_at`

func scanProfile(row interface{ Scan(...interface{}) error }) (*Profile, error) {
	var p Profile
	err := row.Scan(&p.ID, &p.SellerID, &p.Status, &p.Country, &p.BusinessName,
		&p.ReviewNote, &p.SubmittedAt, &p.ReviewedAt, &p.ReviewedBy, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.ComplianceProfileNotFound
	}
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &p, nil
}

// StartProfile creates (or returns) the seller's profile in in_progress and
// seeds the country's required checks.
func (s *Service) StartProfile(ctx context.Context, sellerID, country string, businessName *string) (*Profile, error) {
	if _, ok := requiredChecks[country]; !ok {
		return nil, apperr.Validation("unsupported country", map[string]interface{}{"country": country})
	}

	var profile *Profile
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanProfile(tx.QueryRowContext(ctx,
			`SELECT `+profileCols+` FROM seller_compliance_profiles WHERE seller_id = $1 FOR UPDATE`, sellerID))
		if err == nil {
			switch existing.Status {
			case StatusRejected:
				// Resubmission path reopens the profile.
				row := tx.QueryRowContext(ctx, `
					UPDATE seller_compliance_profiles
					SET status = $2, review_note = NULL, updated_at = now()
					WHERE id = $1 RETURNING `+profileCols, existing.ID, StatusInProgress)
				if profile, err = scanProfile(row); err != nil {
					return err
				}
				return insertProfileEvent(ctx, tx, profile.ID, "reopened", existing.Status, StatusInProgress, "app", sellerID, nil)
			case StatusNotStarted:
			default:
				profile = existing
				return nil
			}
		} else if !apperr.IsCode(err, "COMPLIANCE_PROFILE_NOT_FOUND") {
			return err
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO seller_compliance_profiles (seller_id, status, country, business_name)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (seller_id) DO UPDATE
				SET status = EXCLUDED.status, business_name = EXCLUDED.business_name, updated_at = now()
			RETURNING `+profileCols,
			sellerID, StatusInProgress, country, businessName)
		if profile, err = scanProfile(row); err != nil {
			return err
		}

		for _, code := range requiredChecks[country] {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO seller_compliance_checks (profile_id, check_code, required)
				VALUES ($1,$2,true)
				ON CONFLICT (profile_id, check_code) DO NOTHING`, profile.ID, code); err != nil {
				return err
			}
		}
		return insertProfileEvent(ctx, tx, profile.ID, "started", StatusNotStarted, StatusInProgress, "app", sellerID, nil)
	})
	if err != nil {
		return nil, wrap(err)
	}
	return profile, nil
}

func (s *Service) GetProfile(ctx context.Context, sellerID string) (*Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileCols+` FROM seller_compliance_profiles WHERE seller_id = $1`, sellerID))
}

func (s *Service) GetProfileByID(ctx context.Context, profileID string) (*Profile, error) {
	return scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileCols+` FROM seller_compliance_profiles WHERE id = $1`, profileID))
}

// UploadDocument attaches a document to an open profile.
func (s *Service) UploadDocument(ctx context.Context, sellerID, docType, fileURL string) (*Document, error) {
	profile, err := s.GetProfile(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	if profile.Status == StatusApproved || profile.Status == StatusSuspended {
		return nil, apperr.ComplianceProfileStateConflict
	}
	var d Document
	d.ProfileID, d.DocType, d.FileURL, d.Status = profile.ID, docType, fileURL, "uploaded"
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO seller_compliance_documents (profile_id, doc_type, file_url)
		VALUES ($1,$2,$3) RETURNING id, uploaded_at`,
		profile.ID, docType, fileURL).Scan(&d.ID, &d.UploadedAt)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &d, nil
}

func (s *Service) ListDocuments(ctx context.Context, profileID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, doc_type, file_url, status, note, uploaded_at
		FROM seller_compliance_documents WHERE profile_id = $1 ORDER BY uploaded_at`, profileID)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.ProfileID, &d.DocType, &d.FileURL, &d.Status, &d.Note, &d.UploadedAt); err != nil {
			return nil, apperr.Internal.WithCause(err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *Service) ListChecks(ctx context.Context, profileID string) ([]Check, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, profile_id, check_code, required, status, verified_at, verified_by
		FROM seller_compliance_checks WHERE profile_id = $1 ORDER BY check_code`, profileID)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	defer rows.Close()
	var checks []Check
	for rows.Next() {
		var c Check
		if err := rows.Scan(&c.ID, &c.ProfileID, &c.CheckCode, &c.Required, &c.Status, &c.VerifiedAt, &c.VerifiedBy); err != nil {
			return nil, apperr.Internal.WithCause(err)
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// Submit moves in_progress → submitted → under_review in one transaction.
// The submitted hop is recorded in the event trail but clients only ever
// observe under_review. All required checks must be verified.
func (s *Service) Submit(ctx context.Context, sellerID string) (*Profile, error) {
	var profile *Profile
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := scanProfile(tx.QueryRowContext(ctx,
			`SELECT `+profileCols+` FROM seller_compliance_profiles WHERE seller_id = $1 FOR UPDATE`, sellerID))
		if err != nil {
			return err
		}
		if current.Status != StatusInProgress {
			return apperr.ComplianceProfileStateConflict
		}

		var missing int
		err = tx.QueryRowContext(ctx, `
			SELECT count(*) FROM seller_compliance_checks
			WHERE profile_id = $1 AND required AND status <> 'verified'`, current.ID).Scan(&missing)
		if err != nil {
			return err
		}
		if missing > 0 {
			return apperr.ComplianceChecksMissing.WithDetails(map[string]interface{}{"missing": missing})
		}

		if err := insertProfileEvent(ctx, tx, current.ID, "submitted", StatusInProgress, StatusSubmitted, "app", sellerID, nil); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE seller_compliance_profiles
			SET status = $2, submitted_at = now(), updated_at = now()
			WHERE id = $1 RETURNING `+profileCols, current.ID, StatusUnderReview)
		if profile, err = scanProfile(row); err != nil {
			return err
		}
		if err := insertProfileEvent(ctx, tx, current.ID, "review_started", StatusSubmitted, StatusUnderReview, "system", "", nil); err != nil {
			return err
		}
		return outbox.Enqueue(ctx, tx, outbox.EventComplianceStatusChanged, "compliance_profile", current.ID,
			map[string]interface{}{"sellerId": sellerID, "status": StatusUnderReview})
	})
	if err != nil {
		return nil, wrap(err)
	}
	s.logger.Printf("📋 Compliance profile for seller %s submitted for review", sellerID)
	return profile, nil
}

// VerifyCheck is an admin action marking one check verified or failed.
func (s *Service) VerifyCheck(ctx context.Context, adminID, profileID, checkCode string, passed bool) (*Check, error) {
	status := "verified"
	if !passed {
		status = "failed"
	}
	var check Check
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE seller_compliance_checks
			SET status = $3, verified_at = now(), verified_by = $4
			WHERE profile_id = $1 AND check_code = $2
			RETURNING id, profile_id, check_code, required, status, verified_at, verified_by`,
			profileID, checkCode, status, adminID)
		err := row.Scan(&check.ID, &check.ProfileID, &check.CheckCode, &check.Required,
			&check.Status, &check.VerifiedAt, &check.VerifiedBy)
		if err == sql.ErrNoRows {
			return apperr.ComplianceProfileNotFound.WithMessage("check %s not found on profile", checkCode)
		}
		if err != nil {
			return err
		}
		return audit.Record(ctx, tx, adminID, "compliance_check_"+status, "compliance_check", &check.ID,
			nil, map[string]interface{}{"checkCode": checkCode, "status": status}, nil)
	})
	if err != nil {
		return nil, wrap(err)
	}
	return &check, nil
}

// Review is the admin decision on an under_review profile: approve, reject,
// or request_changes (back to in_progress).
func (s *Service) Review(ctx context.Context, adminID, profileID, decision string, note *string) (*Profile, error) {
	var target string
	switch decision {
	case "approve":
		target = StatusApproved
	case "reject":
		target = StatusRejected
	case "request_changes":
		target = StatusInProgress
	default:
		return nil, apperr.Validation("decision must be approve, reject, or request_changes", nil)
	}

	var profile *Profile
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := scanProfile(tx.QueryRowContext(ctx,
			`SELECT `+profileCols+` FROM seller_compliance_profiles WHERE id = $1 FOR UPDATE`, profileID))
		if err != nil {
			return err
		}
		if current.Status != StatusUnderReview {
			return apperr.ComplianceProfileStateConflict
		}

		row := tx.QueryRowContext(ctx, `
			UPDATE seller_compliance_profiles
			SET status = $2, review_note = $3, reviewed_at = now(), reviewed_by = $4, updated_at = now()
			WHERE id = $1 RETURNING `+profileCols, profileID, target, note, adminID)
		if profile, err = scanProfile(row); err != nil {
			return err
		}

		if err := insertProfileEvent(ctx, tx, profileID, "review_"+decision, StatusUnderReview, target, "admin", adminID, nil); err != nil {
			return err
		}
		if err := audit.Record(ctx, tx, adminID, "compliance_"+decision, "compliance_profile", &profileID,
			map[string]interface{}{"status": current.Status},
			map[string]interface{}{"status": target}, note); err != nil {
			return err
		}
		return outbox.Enqueue(ctx, tx, outbox.EventComplianceStatusChanged, "compliance_profile", profileID,
			map[string]interface{}{"sellerId": profile.SellerID, "status": target})
	})
	if err != nil {
		return nil, wrap(err)
	}
	s.logger.Printf("⚖️ Compliance profile %s: %s by admin %s", profileID, target, adminID)
	return profile, nil
}

// Suspend takes an approved seller off the platform pending investigation.
func (s *Service) Suspend(ctx context.Context, adminID, profileID string, note *string) (*Profile, error) {
	var profile *Profile
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := scanProfile(tx.QueryRowContext(ctx,
			`SELECT `+profileCols+` FROM seller_compliance_profiles WHERE id = $1 FOR UPDATE`, profileID))
		if err != nil {
			return err
		}
		if current.Status != StatusApproved {
			return apperr.ComplianceProfileStateConflict
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE seller_compliance_profiles
			SET status = $2, review_note = $3, reviewed_by = $4, updated_at = now()
			WHERE id = $1 RETURNING `+profileCols, profileID, StatusSuspended, note, adminID)
		if profile, err = scanProfile(row); err != nil {
			return err
		}
		if err := insertProfileEvent(ctx, tx, profileID, "suspended", StatusApproved, StatusSuspended, "admin", adminID, nil); err != nil {
			return err
		}
		if err := audit.Record(ctx, tx, adminID, "compliance_suspend", "compliance_profile", &profileID,
			map[string]interface{}{"status": StatusApproved},
			map[string]interface{}{"status": StatusSuspended}, note); err != nil {
			return err
		}
		return outbox.Enqueue(ctx, tx, outbox.EventComplianceStatusChanged, "compliance_profile", profileID,
			map[string]interface{}{"sellerId": profile.SellerID, "status": StatusSuspended})
	})
	if err != nil {
		return nil, wrap(err)
	}
	return profile, nil
}

// ListPending returns profiles awaiting admin review, oldest first.
func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]Profile, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM seller_compliance_profiles WHERE status = 'under_review'`).Scan(&total); err != nil {
		return nil, 0, apperr.Internal.WithCause(err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+profileCols+` FROM seller_compliance_profiles
		WHERE status = 'under_review'
		ORDER BY submitted_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal.WithCause(err)
	}
	defer rows.Close()
	var profiles []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, 0, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, total, rows.Err()
}

// CanListFood implements the catalog eligibility gate. UK sellers need an
// approved profile; TR sellers need the baseline required checks verified.
func (s *Service) CanListFood(ctx context.Context, sellerID string) error {
	profile, err := s.GetProfile(ctx, sellerID)
	if err != nil {
		if apperr.IsCode(err, "COMPLIANCE_PROFILE_NOT_FOUND") {
			return apperr.ComplianceProfileRequired
		}
		return err
	}
	if profile.Status == StatusSuspended {
		return apperr.ComplianceProfileRequired.WithMessage("seller is suspended")
	}
	switch profile.Country {
	case "UK":
		if profile.Status != StatusApproved {
			return apperr.ComplianceProfileRequired.WithMessage("UK sellers require an approved compliance profile")
		}
	default:
		var missing int
		err := s.db.QueryRowContext(ctx, `
			SELECT count(*) FROM seller_compliance_checks
			WHERE profile_id = $1 AND required AND status <> 'verified'`, profile.ID).Scan(&missing)
		if err != nil {
			return apperr.Internal.WithCause(err)
		}
		if missing > 0 {
			return apperr.ComplianceChecksMissing
		}
	}
	return nil
}

func insertProfileEvent(ctx context.Context, tx *sql.Tx, profileID, eventType, from, to, actorRealm, actorID string, detail map[string]interface{}) error {
	var detailJSON []byte
	if detail != nil {
		var err error
		if detailJSON, err = json.Marshal(detail); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO seller_compliance_events (profile_id, event_type, from_status, to_status, actor_realm, actor_id, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		profileID, eventType, nullIfEmpty(from), nullIfEmpty(to), nullIfEmpty(actorRealm), nullIfEmpty(actorID), detailJSON)
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func wrap(err error) error {
	if apperr.As(err) != nil {
		return err
	}
	return apperr.Internal.WithCause(err)
}
