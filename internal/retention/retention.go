// Package retention purges aged data per the configured policy. Rows under
// an active legal hold are always kept, and financial records are never
// purged here.
package retention

import (
	"context"
	"log"
	"time"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/config"
	"github.com/coziyoo/backend/internal/database"
)

// Purgeable data families. Each family maps to one delete statement that
// excludes rows under legal hold.
const (
	FamilyMessages      = "messages"
	FamilyNotifications = "notifications"
	FamilyAbuseEvents   = "abuse_events"
	FamilyOutboxDone    = "outbox_processed"
	FamilyIdempotency   = "idempotency_keys"
	FamilyMediaAssets   = "media_assets"
	FamilyCompliance    = "compliance"
	FamilyLots          = "lot"
	FamilyPayments      = "payment"
	FamilyDisclosures   = "disclosure"
	FamilyDisputes      = "dispute"
	FamilyAuthAudit     = "auth_audit"
)

type Purger struct {
	db     *database.DB
	cfg    config.RetentionConfig
	policy *config.RetentionPolicy
	logger *log.Logger
}

func NewPurger(db *database.DB, cfg config.RetentionConfig, policy *config.RetentionPolicy) *Purger {
	return &Purger{
		db:     db,
		cfg:    cfg,
		policy: policy,
		logger: log.New(log.Writer(), "[RETENTION] ", log.LstdFlags),
	}
}

// Run purges on the configured interval until ctx is cancelled.
func (p *Purger) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	p.logger.Printf("🚀 Retention purger started (interval=%s default=%dd)", p.cfg.Interval, p.policy.DefaultDays)
	for {
		select {
		case <-ctx.Done():
			p.logger.Println("Retention purger stopped")
			return
		case <-ticker.C:
			if err := p.PurgeAll(ctx); err != nil && ctx.Err() == nil {
				p.logger.Printf("⚠️ Purge failed: %v", err)
			}
		}
	}
}

// windowDays resolves the retention window for a family, preferring the
// per-family overlay over the default.
func (p *Purger) windowDays(family string) int {
	if days, ok := p.policy.Families[family]; ok && days > 0 {
		return days
	}
	return p.policy.DefaultDays
}

// PurgeAll runs every family purge. Failures in one family do not stop the
// others; the first error is returned after the sweep.
func (p *Purger) PurgeAll(ctx context.Context) error {
	var firstErr error
	for family, purge := range purges {
		n, err := purge(ctx, p.db, p.windowDays(family))
		if err != nil {
			p.logger.Printf("⚠️ Purge %s failed: %v", family, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if n > 0 {
			p.logger.Printf("🧹 Purged %d rows from %s", n, family)
		}
	}
	return firstErr
}

type purgeFunc func(ctx context.Context, db *database.DB, days int) (int64, error)

// holdGuard excludes rows whose entity is under an unreleased legal hold.
const holdGuard = `NOT EXISTS (
	SELECT 1 FROM legal_holds h
	WHERE h.entity_type = $2 AND h.entity_id = t.id AND h.released_at IS NULL
)`

var purges = map[string]purgeFunc{
	FamilyMessages: func(ctx context.Context, db *database.DB, days int) (int64, error) {
		return exec(ctx, db, `
			DELETE FROM messages t
			WHERE t.created_at < now() - $1 * interval '1 day' AND `+holdGuard, days, "message")
	},
	FamilyNotifications: func(ctx context.Context, db *database.DB, days int) (int64, error) {
		return exec(ctx, db, `
			DELETE FROM notification_events t
			WHERE t.created_at < now() - $1 * interval '1 day' AND `+holdGuard, days, "notification")
	},
	FamilyAbuseEvents: func(ctx context.Context, db *database.DB, days int) (int64, error) {
		return exec(ctx, db, `
			DELETE FROM abuse_risk_events t
			WHERE t.created_at < now() - $1 * interval '1 day' AND `+holdGuard, days, "abuse_event")
	},
	FamilyOutboxDone: func(ctx context.Context, db *database.DB, days int) (int64, error) {
		return exec(ctx, db, `
			DELETE FROM outbox_events t
			WHERE t.status = 'processed'
				AND t.processed_at < now() - $1 * interval '1 day' AND `+holdGuard, days, "outbox_event")
	},
	FamilyIdempotency: func(ctx context.Context, db *database.DB, days int) (int64, error) {
		// Idempotency rows expire on their own clock; days is unused but the
		// hold guard still applies.
		return exec(ctx, db, `
			DELETE FROM idempotency_keys t
			WHERE t.expires_at < now() AND `+holdGuard, days, "idempotency_key")
	},
	FamilyMediaAssets: func(ctx context.Context, db *database.DB, days int) (int64, error) {
		return exec(ctx, db, `
			DELETE FROM media_assets t
			WHERE t.created_at < now() - $1 * interval '1 day' AND `+holdGuard, days, "media_asset")
	},
	FamilyCompliance: func(ctx context.Context, db *database.DB, days int) (int64, error) {
		return exec(ctx, db, `
			DELETE FROM seller_compliance_documents t
			WHERE t.uploaded_at < now() - $1 * interval '1 day' AND `+holdGuard, days, "compliance_document")
	},
	FamilyLots: func(ctx context.Context, db *database.DB, days int) (int64, error) {
		// Only terminal lots with no surviving allocation rows; the RESTRICT
		// foreign key would reject anything still referenced by an order.
		return exec(ctx, db, `
			DELETE FROM production_lots t
			WHERE t.status IN ('depleted','recalled','discarded')
				AND t.updated_at < now() - $1 * interval '1 day'
				AND NOT EXISTS (
					SELECT 1 FROM order_item_lot_allocations a WHERE a.lot_id = t.id
				) AND `+holdGuard, days, "production_lot")
	},
	FamilyPayments: func(ctx context.Context, db *database.DB, days int) (int64, error) {
		// Financial rows are kept; only the provider callback bodies are
		// scrubbed once the window passes.
		return exec(ctx, db, `
			UPDATE payment_attempts t
			SET callback_payload = '[]'::jsonb
			WHERE t.created_at < now() - $1 * interval '1 day'
				AND t.callback_payload <> '[]'::jsonb AND `+holdGuard, days, "payment_attempt")
	},
	FamilyDisclosures: func(ctx context.Context, db *database.DB, days int) (int64, error) {
		return exec(ctx, db, `
			DELETE FROM allergen_disclosure_records t
			WHERE t.created_at < now() - $1 * interval '1 day' AND `+holdGuard, days, "disclosure")
	},
	FamilyDisputes: func(ctx context.Context, db *database.DB, days int) (int64, error) {
		// Resolved cases stay for the financial record; their evidence
		// attachments are scrubbed.
		return exec(ctx, db, `
			UPDATE payment_dispute_cases t
			SET evidence = '[]'::jsonb
			WHERE t.status IN ('won','lost','closed')
				AND t.resolved_at < now() - $1 * interval '1 day'
				AND t.evidence <> '[]'::jsonb AND `+holdGuard, days, "dispute_case")
	},
	FamilyAuthAudit: func(ctx context.Context, db *database.DB, days int) (int64, error) {
		// Dead sessions first, skipping any row a rotation successor still
		// points at, then the admin action log.
		sessions, err := exec(ctx, db, `
			DELETE FROM sessions t
			WHERE (t.revoked_at IS NOT NULL OR t.expires_at < now())
				AND t.created_at < now() - $1 * interval '1 day'
				AND NOT EXISTS (
					SELECT 1 FROM sessions s WHERE s.replaced_by = t.id
				) AND `+holdGuard, days, "session")
		if err != nil {
			return sessions, err
		}
		audits, err := exec(ctx, db, `
			DELETE FROM admin_audit_logs t
			WHERE t.created_at < now() - $1 * interval '1 day' AND `+holdGuard, days, "admin_audit_log")
		return sessions + audits, err
	},
}

func exec(ctx context.Context, db *database.DB, query string, days int, entityType string) (int64, error) {
	res, err := db.ExecContext(ctx, query, days, entityType)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Hold management (admin).

type Hold struct {
	ID         string     `json:"id"`
	EntityType string     `json:"entityType"`
	EntityID   string     `json:"entityId"`
	Reason     string     `json:"reason"`
	CreatedBy  *string    `json:"createdBy,omitempty"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// PlaceHold pins an entity so retention never touches it.
func (p *Purger) PlaceHold(ctx context.Context, adminID, entityType, entityID, reason string) (*Hold, error) {
	var h Hold
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO legal_holds (entity_type, entity_id, reason, created_by)
		VALUES ($1,$2,$3,$4)
		RETURNING id, entity_type, entity_id, reason, created_by, released_at, created_at`,
		entityType, entityID, reason, adminID).
		Scan(&h.ID, &h.EntityType, &h.EntityID, &h.Reason, &h.CreatedBy, &h.ReleasedAt, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.logger.Printf("📌 Legal hold placed on %s/%s by %s", entityType, entityID, adminID)
	return &h, nil
}

// ReleaseHold lifts a hold; the row stays for the record.
func (p *Purger) ReleaseHold(ctx context.Context, holdID string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE legal_holds SET released_at = now() WHERE id = $1 AND released_at IS NULL`, holdID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.LegalHoldNotFound
	}
	return nil
}
