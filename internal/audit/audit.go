// Package audit records immutable before/after snapshots of admin
// mutations. Entries are written inside the same transaction as the
// mutation they describe.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coziyoo/backend/internal/database"
)

// Entry is one admin audit row.
type Entry struct {
	ID         string          `json:"id"`
	AdminID    string          `json:"adminId"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   *string         `json:"entityId,omitempty"`
	BeforeJSON json.RawMessage `json:"before,omitempty"`
	AfterJSON  json.RawMessage `json:"after,omitempty"`
	Reason     *string         `json:"reason,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Record inserts an audit row in the caller's transaction. before and after
// are marshalled as JSON; nil values are stored as NULL.
func Record(ctx context.Context, q database.Queryer, adminID, action, entityType string, entityID *string, before, after interface{}, reason *string) error {
	beforeJSON, err := marshalOrNil(before)
	if err != nil {
		return fmt.Errorf("audit: marshal before: %w", err)
	}
	afterJSON, err := marshalOrNil(after)
	if err != nil {
		return fmt.Errorf("audit: marshal after: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO admin_audit_logs (admin_id, action, entity_type, entity_id, before_json, after_json, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		adminID, action, entityType, entityID, beforeJSON, afterJSON, reason)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

func marshalOrNil(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// List returns audit entries for an entity, newest first.
func List(ctx context.Context, q database.Queryer, entityType, entityID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, admin_id, action, entity_type, entity_id, before_json, after_json, reason, created_at
		FROM admin_audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, entityType, entityID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AdminID, &e.Action, &e.EntityType, &e.EntityID,
			&e.BeforeJSON, &e.AfterJSON, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HasOverride reports whether an admin override audit row exists for the
// entity and action. Used by the order completion gate.
func HasOverride(ctx context.Context, q database.Queryer, entityType, entityID, action string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM admin_audit_logs
			WHERE entity_type = $1 AND entity_id = $2 AND action = $3
		)`, entityType, entityID, action).Scan(&exists)
	return exists, err
}
