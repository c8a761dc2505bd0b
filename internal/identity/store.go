package identity

import (
	"context"
	"database/sql"
	"time"

	"github.com/coziyoo/backend/internal/database"
)

// AppUser is a marketplace user. UserType is the capability set; the
// effective per-request role is resolved by the authz layer.
type AppUser struct {
	ID                    string
	Email                 string
	PasswordHash          string
	DisplayName           string
	DisplayNameNormalized string
	UserType              string // buyer | seller | both
	IsActive              bool
	Country               string
	Language              string
	Latitude              *float64
	Longitude             *float64
	ShortID               string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// AdminUser lives in a disjoint table with its own realm.
type AdminUser struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	Role         string // admin | super_admin
	IsActive     bool
	CreatedAt    time.Time
}

// Session stores only the hash of the refresh token. Rotation revokes the
// predecessor and creates the successor in one transaction.
type Session struct {
	ID               string
	Realm            Realm
	UserID           string
	RefreshTokenHash string
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	ReplacedBy       *string
	CreatedAt        time.Time
}

// Store groups identity queries by aggregate.
type Store struct{}

func NewStore() *Store { return &Store{} }

const appUserCols = `id, email, password_hash, display_name, display_name_normalized,
	user_type, is_active, country, language, latitude, longitude, short_id, created_at, updated_at`

func scanAppUser(row interface{ Scan(...interface{}) error }) (*AppUser, error) {
	var u AppUser
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.DisplayNameNormalized,
		&u.UserType, &u.IsActive, &u.Country, &u.Language, &u.Latitude, &u.Longitude,
		&u.ShortID, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) InsertAppUser(ctx context.Context, q database.Queryer, u *AppUser) error {
	return q.QueryRowContext(ctx, `
		INSERT INTO app_users (email, password_hash, display_name, display_name_normalized,
			user_type, country, language, latitude, longitude, short_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id, created_at, updated_at`,
		u.Email, u.PasswordHash, u.DisplayName, u.DisplayNameNormalized,
		u.UserType, u.Country, u.Language, u.Latitude, u.Longitude, u.ShortID).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
}

func (s *Store) GetAppUserByEmail(ctx context.Context, q database.Queryer, email string) (*AppUser, error) {
	return scanAppUser(q.QueryRowContext(ctx,
		`SELECT `+appUserCols+` FROM app_users WHERE lower(email) = lower($1)`, email))
}

func (s *Store) GetAppUser(ctx context.Context, q database.Queryer, id string) (*AppUser, error) {
	return scanAppUser(q.QueryRowContext(ctx,
		`SELECT `+appUserCols+` FROM app_users WHERE id = $1`, id))
}

func (s *Store) DisplayNameExists(ctx context.Context, q database.Queryer, normalized string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM app_users WHERE display_name_normalized = $1)`, normalized).Scan(&exists)
	return exists, err
}

func (s *Store) UpdateAppUserProfile(ctx context.Context, q database.Queryer, u *AppUser) error {
	_, err := q.ExecContext(ctx, `
		UPDATE app_users
		SET display_name = $2, display_name_normalized = $3, country = $4, language = $5,
			latitude = $6, longitude = $7, updated_at = now()
		WHERE id = $1`,
		u.ID, u.DisplayName, u.DisplayNameNormalized, u.Country, u.Language, u.Latitude, u.Longitude)
	return err
}

// DeactivateAppUser soft-deactivates; rows are never deleted here.
func (s *Store) DeactivateAppUser(ctx context.Context, q database.Queryer, id string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE app_users SET is_active = false, updated_at = now() WHERE id = $1`, id)
	return err
}

func (s *Store) GetAdminUserByEmail(ctx context.Context, q database.Queryer, email string) (*AdminUser, error) {
	var u AdminUser
	err := q.QueryRowContext(ctx, `
		SELECT id, email, password_hash, display_name, role, is_active, created_at
		FROM admin_users WHERE lower(email) = lower($1)`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Role, &u.IsActive, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetAdminUser(ctx context.Context, q database.Queryer, id string) (*AdminUser, error) {
	var u AdminUser
	err := q.QueryRowContext(ctx, `
		SELECT id, email, password_hash, display_name, role, is_active, created_at
		FROM admin_users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Role, &u.IsActive, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// --- Sessions ---

func (s *Store) InsertSession(ctx context.Context, q database.Queryer, sess *Session) error {
	return q.QueryRowContext(ctx, `
		INSERT INTO sessions (realm, user_id, refresh_token_hash, expires_at)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at`,
		sess.Realm, sess.UserID, sess.RefreshTokenHash, sess.ExpiresAt).
		Scan(&sess.ID, &sess.CreatedAt)
}

// GetActiveSessionByHash locks the session row so concurrent refreshes of
// the same token serialize; exactly one wins the rotation.
func (s *Store) GetActiveSessionByHash(ctx context.Context, q database.Queryer, realm Realm, hash string) (*Session, error) {
	var sess Session
	var revoked sql.NullTime
	var replacedBy sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, realm, user_id, refresh_token_hash, expires_at, revoked_at, replaced_by, created_at
		FROM sessions
		WHERE realm = $1 AND refresh_token_hash = $2
		FOR UPDATE`, realm, hash).
		Scan(&sess.ID, &sess.Realm, &sess.UserID, &sess.RefreshTokenHash,
			&sess.ExpiresAt, &revoked, &replacedBy, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if revoked.Valid {
		t := revoked.Time
		sess.RevokedAt = &t
	}
	if replacedBy.Valid {
		v := replacedBy.String
		sess.ReplacedBy = &v
	}
	return &sess, nil
}

func (s *Store) GetSession(ctx context.Context, q database.Queryer, id string) (*Session, error) {
	var sess Session
	var revoked sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT id, realm, user_id, refresh_token_hash, expires_at, revoked_at, created_at
		FROM sessions WHERE id = $1`, id).
		Scan(&sess.ID, &sess.Realm, &sess.UserID, &sess.RefreshTokenHash,
			&sess.ExpiresAt, &revoked, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if revoked.Valid {
		t := revoked.Time
		sess.RevokedAt = &t
	}
	return &sess, nil
}

func (s *Store) RevokeSession(ctx context.Context, q database.Queryer, id string, replacedBy *string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = now(), replaced_by = $2 WHERE id = $1 AND revoked_at IS NULL`,
		id, replacedBy)
	return err
}

func (s *Store) RevokeAllSessions(ctx context.Context, q database.Queryer, realm Realm, userID string) (int64, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = now() WHERE realm = $1 AND user_id = $2 AND revoked_at IS NULL`,
		realm, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
