// Package identity implements registration, login, refresh-token rotation,
// and access-token verification for the two isolated realms.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/database"
)

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type Service struct {
	db         *database.DB
	store      *Store
	signer     *TokenSigner
	refreshTTL time.Duration
	logger     *log.Logger
}

func NewService(db *database.DB, signer *TokenSigner, refreshTTL time.Duration) *Service {
	return &Service{
		db:         db,
		store:      NewStore(),
		signer:     signer,
		refreshTTL: refreshTTL,
		logger:     log.New(log.Writer(), "[IDENTITY] ", log.LstdFlags),
	}
}

func (s *Service) Signer() *TokenSigner { return s.signer }
func (s *Service) Store() *Store        { return s.store }

// RegisterInput carries validated registration fields.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
	UserType    string
	Country     string
	Language    string
}

// Register creates an AppUser. Uniqueness of email and normalized display
// name is enforced by the database; violations map to stable codes.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AppUser, error) {
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}

	user := &AppUser{
		Email:                 strings.TrimSpace(in.Email),
		PasswordHash:          hash,
		DisplayName:           strings.TrimSpace(in.DisplayName),
		DisplayNameNormalized: NormalizeDisplayName(in.DisplayName),
		UserType:              in.UserType,
		IsActive:              true,
		Country:               in.Country,
		Language:              in.Language,
		ShortID:               NewShortID(),
	}

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return s.store.InsertAppUser(ctx, tx, user)
	})
	if err != nil {
		switch {
		case database.IsUniqueViolation(err, "app_users_email_key"):
			return nil, apperr.EmailTaken
		case database.IsUniqueViolation(err, "app_users_display_name_key"):
			return nil, apperr.DisplayNameTaken
		default:
			return nil, apperr.Internal.WithCause(err)
		}
	}

	s.logger.Printf("👤 Registered user %s (%s)", user.ShortID, user.UserType)
	return user, nil
}

// Login verifies credentials for the realm and opens a session.
func (s *Service) Login(ctx context.Context, realm Realm, email, password string) (*TokenPair, string, error) {
	var userID, role string

	switch realm {
	case RealmApp:
		user, err := s.store.GetAppUserByEmail(ctx, s.db, email)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, "", apperr.Unauthorized
			}
			return nil, "", apperr.Internal.WithCause(err)
		}
		if !user.IsActive {
			return nil, "", apperr.Unauthorized
		}
		ok, err := VerifyPassword(password, user.PasswordHash)
		if err != nil || !ok {
			return nil, "", apperr.Unauthorized
		}
		userID, role = user.ID, user.UserType
	case RealmAdmin:
		admin, err := s.store.GetAdminUserByEmail(ctx, s.db, email)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, "", apperr.Unauthorized
			}
			return nil, "", apperr.Internal.WithCause(err)
		}
		if !admin.IsActive {
			return nil, "", apperr.Unauthorized
		}
		ok, err := VerifyPassword(password, admin.PasswordHash)
		if err != nil || !ok {
			return nil, "", apperr.Unauthorized
		}
		userID, role = admin.ID, admin.Role
	default:
		return nil, "", apperr.Internal.WithMessage("unknown realm %q", realm)
	}

	pair, err := s.openSession(ctx, realm, userID, role)
	if err != nil {
		return nil, "", err
	}
	return pair, userID, nil
}

func (s *Service) openSession(ctx context.Context, realm Realm, userID, role string) (*TokenPair, error) {
	refreshToken, refreshHash, err := NewRefreshToken()
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}

	sess := &Session{
		Realm:            realm,
		UserID:           userID,
		RefreshTokenHash: refreshHash,
		ExpiresAt:        time.Now().Add(s.refreshTTL),
	}
	if err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return s.store.InsertSession(ctx, tx, sess)
	}); err != nil {
		return nil, apperr.Internal.WithCause(err)
	}

	access, accessExp, err := s.signer.SignAccess(realm, userID, sess.ID, role)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: sess.ExpiresAt,
	}, nil
}

// Refresh rotates the session: the presented session is revoked and its
// successor created in the same transaction. A missing, expired, revoked,
// or already-rotated session fails TOKEN_INVALID.
func (s *Service) Refresh(ctx context.Context, realm Realm, refreshToken string) (*TokenPair, error) {
	hash := HashRefreshToken(refreshToken)

	nextToken, nextHash, err := NewRefreshToken()
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}

	var next Session
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := s.store.GetActiveSessionByHash(ctx, tx, realm, hash)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return apperr.TokenInvalid
			}
			return err
		}
		if current.RevokedAt != nil || time.Now().After(current.ExpiresAt) {
			return apperr.TokenInvalid
		}

		next = Session{
			Realm:            realm,
			UserID:           current.UserID,
			RefreshTokenHash: nextHash,
			ExpiresAt:        time.Now().Add(s.refreshTTL),
		}
		if err := s.store.InsertSession(ctx, tx, &next); err != nil {
			return err
		}
		return s.store.RevokeSession(ctx, tx, current.ID, &next.ID)
	})
	if err != nil {
		if e := apperr.As(err); e != nil {
			return nil, e
		}
		return nil, apperr.Internal.WithCause(err)
	}

	role, err := s.roleFor(ctx, realm, next.UserID)
	if err != nil {
		return nil, err
	}
	access, accessExp, err := s.signer.SignAccess(realm, next.UserID, next.ID, role)
	if err != nil {
		return nil, apperr.Internal.WithCause(err)
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     nextToken,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

func (s *Service) roleFor(ctx context.Context, realm Realm, userID string) (string, error) {
	switch realm {
	case RealmApp:
		user, err := s.store.GetAppUser(ctx, s.db, userID)
		if err != nil {
			return "", apperr.Internal.WithCause(err)
		}
		return user.UserType, nil
	default:
		admin, err := s.store.GetAdminUser(ctx, s.db, userID)
		if err != nil {
			return "", apperr.Internal.WithCause(err)
		}
		return admin.Role, nil
	}
}

// Logout revokes a single session.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		return s.store.RevokeSession(ctx, tx, sessionID, nil)
	}); err != nil {
		return apperr.Internal.WithCause(err)
	}
	return nil
}

// LogoutAll revokes every active session of the user in the realm.
func (s *Service) LogoutAll(ctx context.Context, realm Realm, userID string) (int64, error) {
	var n int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = s.store.RevokeAllSessions(ctx, tx, realm, userID)
		return err
	})
	if err != nil {
		return 0, apperr.Internal.WithCause(err)
	}
	return n, nil
}

// VerifyAccess validates an access token and confirms the backing session
// is still live. Realm mismatch is rejected before session lookup.
func (s *Service) VerifyAccess(ctx context.Context, tokenStr string, realm Realm) (*AccessClaims, error) {
	claims, err := s.signer.VerifyAccess(tokenStr, realm)
	if err != nil {
		return nil, err
	}
	sess, err := s.store.GetSession(ctx, s.db, claims.SessionID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.TokenInvalid
		}
		return nil, apperr.Internal.WithCause(err)
	}
	if sess.RevokedAt != nil || time.Now().After(sess.ExpiresAt) {
		return nil, apperr.TokenInvalid
	}
	return claims, nil
}

// CheckDisplayName reports availability of a display name.
func (s *Service) CheckDisplayName(ctx context.Context, name string) (bool, string, error) {
	normalized := NormalizeDisplayName(name)
	if normalized == "" {
		return false, normalized, apperr.Validation("display name is empty", nil)
	}
	exists, err := s.store.DisplayNameExists(ctx, s.db, normalized)
	if err != nil {
		return false, normalized, apperr.Internal.WithCause(err)
	}
	return !exists, normalized, nil
}
