package database

import (
	"context"
	"fmt"
)

// Migrations are applied in order inside individual transactions. The
// applied set is tracked in schema_migrations; re-running is a no-op.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrate brings the schema up to date.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    integer PRIMARY KEY,
			name       text NOT NULL,
			applied_at timestamptz NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("database: create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("database: check migration %d: %w", m.Version, err)
		}
		if exists {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("database: apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		db.logger.Printf("⬆️  Applied migration %03d_%s", m.Version, m.Name)
	}
	return nil
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "identity",
		SQL: `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE app_users (
	id                      uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	email                   text NOT NULL,
	password_hash           text NOT NULL,
	display_name            text NOT NULL,
	display_name_normalized text NOT NULL,
	user_type               text NOT NULL CHECK (user_type IN ('buyer','seller','both')),
	is_active               boolean NOT NULL DEFAULT true,
	country                 text NOT NULL DEFAULT 'TR',
	language                text NOT NULL DEFAULT 'tr',
	latitude                double precision,
	longitude               double precision,
	short_id                varchar(12) NOT NULL,
	created_at              timestamptz NOT NULL DEFAULT now(),
	updated_at              timestamptz NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX app_users_email_key ON app_users (lower(email));
CREATE UNIQUE INDEX app_users_display_name_key ON app_users (display_name_normalized);
CREATE UNIQUE INDEX app_users_short_id_key ON app_users (short_id);

CREATE TABLE admin_users (
	id            uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	email         text NOT NULL,
	password_hash text NOT NULL,
	display_name  text NOT NULL,
	role          text NOT NULL CHECK (role IN ('admin','super_admin')),
	is_active     boolean NOT NULL DEFAULT true,
	created_at    timestamptz NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX admin_users_email_key ON admin_users (lower(email));

CREATE TABLE sessions (
	id                 uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	realm              text NOT NULL CHECK (realm IN ('app','admin')),
	user_id            uuid NOT NULL,
	refresh_token_hash text NOT NULL,
	expires_at         timestamptz NOT NULL,
	revoked_at         timestamptz,
	replaced_by        uuid REFERENCES sessions (id) ON DELETE RESTRICT,
	created_at         timestamptz NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX sessions_token_hash_active_key ON sessions (refresh_token_hash) WHERE revoked_at IS NULL;
CREATE INDEX sessions_user_idx ON sessions (realm, user_id);

CREATE TABLE user_addresses (
	id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id    uuid NOT NULL REFERENCES app_users (id) ON DELETE RESTRICT,
	label      text NOT NULL,
	line1      text NOT NULL,
	line2      text,
	city       text NOT NULL,
	postcode   text,
	country    text NOT NULL,
	latitude   double precision,
	longitude  double precision,
	is_default boolean NOT NULL DEFAULT false,
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX user_addresses_default_key ON user_addresses (user_id) WHERE is_default;
`,
	},
	{
		Version: 2,
		Name:    "catalog_and_lots",
		SQL: `
CREATE TABLE categories (
	id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	name       text NOT NULL UNIQUE,
	sort_order integer NOT NULL DEFAULT 0,
	created_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE foods (
	id             uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	seller_id      uuid NOT NULL REFERENCES app_users (id) ON DELETE RESTRICT,
	category_id    uuid REFERENCES categories (id) ON DELETE RESTRICT,
	name           text NOT NULL,
	description    text,
	price          numeric(12,2) NOT NULL CHECK (price >= 0),
	currency       varchar(3) NOT NULL DEFAULT 'TRY',
	allergens      text[] NOT NULL DEFAULT '{}',
	is_active      boolean NOT NULL DEFAULT true,
	rating         numeric(3,2) NOT NULL DEFAULT 0,
	review_count   integer NOT NULL DEFAULT 0,
	favorite_count integer NOT NULL DEFAULT 0,
	current_stock  integer NOT NULL DEFAULT 0,
	created_at     timestamptz NOT NULL DEFAULT now(),
	updated_at     timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX foods_seller_idx ON foods (seller_id);
CREATE INDEX foods_category_idx ON foods (category_id);

CREATE TABLE favorites (
	id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id    uuid NOT NULL REFERENCES app_users (id) ON DELETE RESTRICT,
	food_id    uuid NOT NULL REFERENCES foods (id) ON DELETE RESTRICT,
	created_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE (user_id, food_id)
);

CREATE TABLE production_lots (
	id                 uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	seller_id          uuid NOT NULL REFERENCES app_users (id) ON DELETE RESTRICT,
	food_id            uuid NOT NULL REFERENCES foods (id) ON DELETE RESTRICT,
	lot_number         text NOT NULL UNIQUE,
	produced_at        timestamptz NOT NULL,
	use_by             timestamptz,
	best_before        timestamptz,
	quantity_produced  integer NOT NULL CHECK (quantity_produced > 0),
	quantity_available integer NOT NULL,
	status             text NOT NULL DEFAULT 'open'
		CHECK (status IN ('open','locked','depleted','recalled','discarded')),
	recall_reason      text,
	created_at         timestamptz NOT NULL DEFAULT now(),
	updated_at         timestamptz NOT NULL DEFAULT now(),
	CHECK (quantity_available >= 0 AND quantity_available <= quantity_produced)
);
CREATE INDEX production_lots_alloc_idx ON production_lots (seller_id, food_id, status) WHERE status = 'open';
`,
	},
	{
		Version: 3,
		Name:    "orders",
		SQL: `
CREATE TABLE orders (
	id                uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	buyer_id          uuid NOT NULL REFERENCES app_users (id) ON DELETE RESTRICT,
	seller_id         uuid NOT NULL REFERENCES app_users (id) ON DELETE RESTRICT,
	status            text NOT NULL DEFAULT 'pending_seller_approval',
	delivery_type     text NOT NULL CHECK (delivery_type IN ('delivery','pickup')),
	delivery_address  jsonb,
	total_price       numeric(12,2) NOT NULL CHECK (total_price >= 0),
	currency          varchar(3) NOT NULL DEFAULT 'TRY',
	payment_completed boolean NOT NULL DEFAULT false,
	order_code        varchar(10) NOT NULL UNIQUE,
	short_id          varchar(12) NOT NULL UNIQUE,
	note              text,
	created_at        timestamptz NOT NULL DEFAULT now(),
	updated_at        timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX orders_buyer_idx ON orders (buyer_id, created_at DESC);
CREATE INDEX orders_seller_idx ON orders (seller_id, created_at DESC);
CREATE INDEX orders_status_idx ON orders (status);

CREATE TABLE order_items (
	id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	order_id   uuid NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
	food_id    uuid NOT NULL REFERENCES foods (id) ON DELETE RESTRICT,
	food_name  text NOT NULL,
	unit_price numeric(12,2) NOT NULL,
	quantity   integer NOT NULL CHECK (quantity > 0),
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX order_items_order_idx ON order_items (order_id);

CREATE TABLE order_item_lot_allocations (
	id            uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	order_item_id uuid NOT NULL REFERENCES order_items (id) ON DELETE CASCADE,
	lot_id        uuid NOT NULL REFERENCES production_lots (id) ON DELETE RESTRICT,
	quantity      integer NOT NULL CHECK (quantity > 0),
	created_at    timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX lot_allocations_lot_idx ON order_item_lot_allocations (lot_id);

CREATE TABLE order_events (
	id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	order_id    uuid NOT NULL REFERENCES orders (id) ON DELETE CASCADE,
	event_type  text NOT NULL,
	from_status text,
	to_status   text,
	actor_realm text,
	actor_id    uuid,
	detail      jsonb,
	created_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX order_events_order_idx ON order_events (order_id, created_at);
`,
	},
	{
		Version: 4,
		Name:    "payments_and_finance",
		SQL: `
CREATE TABLE payment_attempts (
	id                    uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	order_id              uuid NOT NULL REFERENCES orders (id) ON DELETE RESTRICT,
	provider              text NOT NULL DEFAULT 'mockpay',
	provider_session_id   text NOT NULL UNIQUE,
	provider_reference_id text UNIQUE,
	status                text NOT NULL DEFAULT 'initiated'
		CHECK (status IN ('initiated','returned_success','returned_failed','confirmed','confirmation_failed')),
	signature_valid       boolean,
	callback_payload      jsonb NOT NULL DEFAULT '[]',
	created_at            timestamptz NOT NULL DEFAULT now(),
	updated_at            timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX payment_attempts_order_idx ON payment_attempts (order_id, created_at DESC);

CREATE TABLE commission_settings (
	id              uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	commission_rate numeric(5,4) NOT NULL CHECK (commission_rate >= 0 AND commission_rate < 1),
	is_active       boolean NOT NULL DEFAULT false,
	effective_from  timestamptz NOT NULL DEFAULT now(),
	created_by      uuid,
	created_at      timestamptz NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX commission_settings_active_key ON commission_settings (is_active) WHERE is_active;

CREATE TABLE order_finance (
	id                       uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	order_id                 uuid NOT NULL UNIQUE REFERENCES orders (id) ON DELETE RESTRICT,
	seller_id                uuid NOT NULL REFERENCES app_users (id) ON DELETE RESTRICT,
	gross_amount             numeric(12,2) NOT NULL,
	commission_rate_snapshot numeric(5,4) NOT NULL,
	commission_amount        numeric(12,2) NOT NULL,
	seller_net_amount        numeric(12,2) NOT NULL,
	created_at               timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX order_finance_seller_idx ON order_finance (seller_id);

CREATE TABLE finance_adjustments (
	id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	seller_id   uuid NOT NULL REFERENCES app_users (id) ON DELETE RESTRICT,
	order_id    uuid REFERENCES orders (id) ON DELETE RESTRICT,
	dispute_id  uuid,
	amount      numeric(12,2) NOT NULL,
	reason_code text NOT NULL,
	note        text,
	created_by  uuid,
	created_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX finance_adjustments_seller_idx ON finance_adjustments (seller_id, created_at DESC);

CREATE TABLE finance_reports (
	id           uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	report_type  text NOT NULL DEFAULT 'reconciliation',
	period_start timestamptz NOT NULL,
	period_end   timestamptz NOT NULL,
	status       text NOT NULL DEFAULT 'queued' CHECK (status IN ('queued','building','ready','failed')),
	file_url     text,
	checksum     text,
	requested_by uuid,
	created_at   timestamptz NOT NULL DEFAULT now(),
	updated_at   timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE payment_dispute_cases (
	id                 uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	order_id           uuid NOT NULL REFERENCES orders (id) ON DELETE RESTRICT,
	payment_attempt_id uuid REFERENCES payment_attempts (id) ON DELETE RESTRICT,
	case_type          text NOT NULL CHECK (case_type IN ('refund','chargeback')),
	status             text NOT NULL DEFAULT 'opened'
		CHECK (status IN ('opened','under_review','won','lost','closed')),
	reason_code        text,
	liability_party    text NOT NULL DEFAULT 'platform'
		CHECK (liability_party IN ('seller','platform','provider','shared')),
	liability_ratio    numeric(5,4) NOT NULL DEFAULT 1,
	evidence           jsonb NOT NULL DEFAULT '[]',
	opened_by          uuid,
	resolved_by        uuid,
	resolved_at        timestamptz,
	created_at         timestamptz NOT NULL DEFAULT now(),
	updated_at         timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX dispute_cases_order_idx ON payment_dispute_cases (order_id);
`,
	},
	{
		Version: 5,
		Name:    "compliance",
		SQL: `
CREATE TABLE seller_compliance_profiles (
	id           uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	seller_id    uuid NOT NULL UNIQUE REFERENCES app_users (id) ON DELETE RESTRICT,
	status       text NOT NULL DEFAULT 'not_started'
		CHECK (status IN ('not_started','in_progress','submitted','under_review','approved','rejected','suspended')),
	country      text NOT NULL DEFAULT 'TR',
	business_name text,
	review_note  text,
	submitted_at timestamptz,
	reviewed_at  timestamptz,
	reviewed_by  uuid,
	created_at   timestamptz NOT NULL DEFAULT now(),
	updated_at   timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE seller_compliance_documents (
	id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	profile_id  uuid NOT NULL REFERENCES seller_compliance_profiles (id) ON DELETE CASCADE,
	doc_type    text NOT NULL,
	file_url    text NOT NULL,
	status      text NOT NULL DEFAULT 'uploaded' CHECK (status IN ('uploaded','accepted','rejected')),
	note        text,
	uploaded_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX compliance_documents_profile_idx ON seller_compliance_documents (profile_id);

CREATE TABLE seller_compliance_checks (
	id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	profile_id  uuid NOT NULL REFERENCES seller_compliance_profiles (id) ON DELETE CASCADE,
	check_code  text NOT NULL,
	required    boolean NOT NULL DEFAULT true,
	status      text NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','verified','failed')),
	verified_at timestamptz,
	verified_by uuid,
	created_at  timestamptz NOT NULL DEFAULT now(),
	UNIQUE (profile_id, check_code)
);

CREATE TABLE seller_compliance_events (
	id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	profile_id  uuid NOT NULL REFERENCES seller_compliance_profiles (id) ON DELETE CASCADE,
	event_type  text NOT NULL,
	from_status text,
	to_status   text,
	actor_realm text,
	actor_id    uuid,
	detail      jsonb,
	created_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX compliance_events_profile_idx ON seller_compliance_events (profile_id, created_at);
`,
	},
	{
		Version: 6,
		Name:    "disclosure_proof_social",
		SQL: `
CREATE TABLE allergen_disclosure_records (
	id                  uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	order_id            uuid NOT NULL REFERENCES orders (id) ON DELETE RESTRICT,
	phase               text NOT NULL CHECK (phase IN ('pre_order','handover')),
	allergens           text[] NOT NULL DEFAULT '{}',
	confirmation_method text NOT NULL,
	recorded_by         uuid NOT NULL,
	created_at          timestamptz NOT NULL DEFAULT now(),
	updated_at          timestamptz NOT NULL DEFAULT now(),
	UNIQUE (order_id, phase)
);

CREATE TABLE delivery_proof_records (
	id                    uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	order_id              uuid NOT NULL REFERENCES orders (id) ON DELETE RESTRICT,
	pin_hash              text NOT NULL,
	sent_at               timestamptz NOT NULL DEFAULT now(),
	expires_at            timestamptz NOT NULL,
	verification_attempts integer NOT NULL DEFAULT 0,
	status                text NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending','verified','failed','expired')),
	verified_at           timestamptz,
	superseded            boolean NOT NULL DEFAULT false,
	created_at            timestamptz NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX delivery_proof_current_key ON delivery_proof_records (order_id) WHERE NOT superseded;

CREATE TABLE chats (
	id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	order_id   uuid REFERENCES orders (id) ON DELETE RESTRICT,
	buyer_id   uuid NOT NULL REFERENCES app_users (id) ON DELETE RESTRICT,
	seller_id  uuid NOT NULL REFERENCES app_users (id) ON DELETE RESTRICT,
	created_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE (buyer_id, seller_id, order_id)
);

CREATE TABLE messages (
	id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	chat_id    uuid NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
	sender_id  uuid NOT NULL REFERENCES app_users (id) ON DELETE RESTRICT,
	body       text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX messages_chat_idx ON messages (chat_id, created_at DESC, id DESC);

CREATE TABLE reviews (
	id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	buyer_id   uuid NOT NULL REFERENCES app_users (id) ON DELETE RESTRICT,
	food_id    uuid NOT NULL REFERENCES foods (id) ON DELETE RESTRICT,
	order_id   uuid NOT NULL REFERENCES orders (id) ON DELETE RESTRICT,
	rating     integer NOT NULL CHECK (rating BETWEEN 1 AND 5),
	comment    text,
	created_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE (buyer_id, food_id, order_id)
);
CREATE INDEX reviews_food_idx ON reviews (food_id);

CREATE TABLE notification_events (
	id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	user_id    uuid NOT NULL REFERENCES app_users (id) ON DELETE RESTRICT,
	event_type text NOT NULL,
	title      text NOT NULL,
	body       text NOT NULL,
	payload    jsonb,
	read_at    timestamptz,
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX notification_events_user_idx ON notification_events (user_id, created_at DESC);

CREATE TABLE media_assets (
	id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	owner_id    uuid NOT NULL,
	owner_realm text NOT NULL DEFAULT 'app',
	kind        text NOT NULL,
	file_url    text NOT NULL,
	content_type text,
	size_bytes  bigint,
	created_at  timestamptz NOT NULL DEFAULT now()
);
`,
	},
	{
		Version: 7,
		Name:    "infrastructure",
		SQL: `
CREATE TABLE idempotency_keys (
	id               uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	scope            text NOT NULL,
	key_hash         text NOT NULL,
	request_hash     text NOT NULL,
	response_status  integer,
	response_body    jsonb,
	expires_at       timestamptz NOT NULL,
	created_at       timestamptz NOT NULL DEFAULT now(),
	UNIQUE (scope, key_hash)
);

CREATE TABLE abuse_risk_events (
	id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	flow       text NOT NULL,
	subject    text,
	ip         text,
	decision   text NOT NULL CHECK (decision IN ('allowed','denied','failed_closed')),
	detail     jsonb,
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX abuse_risk_events_flow_idx ON abuse_risk_events (flow, created_at DESC);

CREATE TABLE outbox_events (
	id              uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	event_type      text NOT NULL,
	aggregate_type  text NOT NULL,
	aggregate_id    uuid NOT NULL,
	payload         jsonb NOT NULL,
	status          text NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending','processing','processed','failed')),
	attempt_count   integer NOT NULL DEFAULT 0,
	next_attempt_at timestamptz NOT NULL DEFAULT now(),
	last_error      text,
	created_at      timestamptz NOT NULL DEFAULT now(),
	processed_at    timestamptz
);
CREATE INDEX outbox_events_claim_idx ON outbox_events (next_attempt_at) WHERE status = 'pending';

CREATE TABLE outbox_dead_letters (
	id             uuid PRIMARY KEY,
	event_type     text NOT NULL,
	aggregate_type text NOT NULL,
	aggregate_id   uuid NOT NULL,
	payload        jsonb NOT NULL,
	attempt_count  integer NOT NULL,
	last_error     text,
	failed_at      timestamptz NOT NULL DEFAULT now(),
	created_at     timestamptz NOT NULL
);

CREATE TABLE legal_holds (
	id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	entity_type text NOT NULL,
	entity_id   uuid NOT NULL,
	reason      text NOT NULL,
	created_by  uuid,
	released_at timestamptz,
	created_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX legal_holds_entity_idx ON legal_holds (entity_type, entity_id) WHERE released_at IS NULL;

CREATE TABLE admin_audit_logs (
	id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	admin_id    uuid NOT NULL,
	action      text NOT NULL,
	entity_type text NOT NULL,
	entity_id   uuid,
	before_json jsonb,
	after_json  jsonb,
	reason      text,
	created_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX admin_audit_logs_entity_idx ON admin_audit_logs (entity_type, entity_id, created_at DESC);
`,
	},
	{
		Version: 9,
		Name:    "outbox_claim_lease",
		SQL: `
ALTER TABLE outbox_events ADD COLUMN claimed_at timestamptz;
CREATE INDEX outbox_events_stale_claim_idx ON outbox_events (claimed_at) WHERE status = 'processing';
`,
	},
}
