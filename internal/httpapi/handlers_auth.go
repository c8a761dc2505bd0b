package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/authz"
	"github.com/coziyoo/backend/internal/database"
	"github.com/coziyoo/backend/internal/identity"
	"github.com/coziyoo/backend/internal/media"
)

// profileDTO is the client-facing view of an app user. The password hash
// and normalized name never leave the identity package boundary.
type profileDTO struct {
	ID          string    `json:"id"`
	ShortID     string    `json:"shortId"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	UserType    string    `json:"userType"`
	Country     string    `json:"country"`
	Language    string    `json:"language"`
	Latitude    *float64  `json:"latitude,omitempty"`
	Longitude   *float64  `json:"longitude,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toProfileDTO(u *identity.AppUser) profileDTO {
	return profileDTO{
		ID:          u.ID,
		ShortID:     u.ShortID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		UserType:    u.UserType,
		Country:     u.Country,
		Language:    u.Language,
		Latitude:    u.Latitude,
		Longitude:   u.Longitude,
		CreatedAt:   u.CreatedAt,
	}
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		UserType    string `json:"userType"`
		Country     string `json:"country"`
		Language    string `json:"language"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Email == "" || len(in.Password) < 8 {
		writeError(w, apperr.Validation("email and a password of at least 8 characters are required", nil))
		return
	}
	switch in.UserType {
	case authz.RoleBuyer, authz.RoleSeller, authz.RoleBoth:
	default:
		writeError(w, apperr.Validation("userType must be buyer, seller, or both", nil))
		return
	}
	if in.Country == "" {
		in.Country = "TR"
	}
	if in.Language == "" {
		in.Language = "tr"
	}

	user, err := s.identity.Register(r.Context(), identity.RegisterInput{
		Email:       in.Email,
		Password:    in.Password,
		DisplayName: in.DisplayName,
		UserType:    in.UserType,
		Country:     in.Country,
		Language:    in.Language,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, toProfileDTO(user))
}

func (s *Server) login(realm identity.Realm) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decodeBody(r, &in); err != nil {
			writeError(w, err)
			return
		}
		pair, userID, err := s.identity.Login(r.Context(), realm, in.Email, in.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]interface{}{
			"userId": userID,
			"tokens": pair,
		})
	}
}

func (s *Server) refresh(realm identity.Realm) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &in); err != nil {
			writeError(w, err)
			return
		}
		pair, err := s.identity.Refresh(r.Context(), realm, in.RefreshToken)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, http.StatusOK, pair)
	}
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	if err := s.identity.Logout(r.Context(), actor.SessionID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

func (s *Server) logoutAll(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	n, err := s.identity.LogoutAll(r.Context(), actor.Realm, actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"revokedSessions": n})
}

func (s *Server) checkDisplayName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	available, normalized, err := s.identity.CheckDisplayName(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"available":  available,
		"normalized": normalized,
	})
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	user, err := s.identity.Store().GetAppUser(r.Context(), s.db, actor.UserID)
	if err != nil {
		writeError(w, apperr.UserNotFound.WithCause(err))
		return
	}
	writeData(w, http.StatusOK, toProfileDTO(user))
}

func (s *Server) adminProfile(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	admin, err := s.identity.Store().GetAdminUser(r.Context(), s.db, actor.UserID)
	if err != nil {
		writeError(w, apperr.UserNotFound.WithCause(err))
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"id":          admin.ID,
		"email":       admin.Email,
		"displayName": admin.DisplayName,
		"role":        admin.Role,
		"isActive":    admin.IsActive,
		"createdAt":   admin.CreatedAt,
	})
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		DisplayName *string  `json:"displayName"`
		Country     *string  `json:"country"`
		Language    *string  `json:"language"`
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}

	user, err := s.identity.Store().GetAppUser(r.Context(), s.db, actor.UserID)
	if err != nil {
		writeError(w, apperr.UserNotFound.WithCause(err))
		return
	}
	if in.DisplayName != nil {
		user.DisplayName = *in.DisplayName
		user.DisplayNameNormalized = identity.NormalizeDisplayName(*in.DisplayName)
	}
	if in.Country != nil {
		user.Country = *in.Country
	}
	if in.Language != nil {
		user.Language = *in.Language
	}
	if in.Latitude != nil {
		user.Latitude = in.Latitude
	}
	if in.Longitude != nil {
		user.Longitude = in.Longitude
	}

	if err := s.identity.Store().UpdateAppUserProfile(r.Context(), s.db, user); err != nil {
		if database.IsUniqueViolation(err, "app_users_display_name_key") {
			writeError(w, apperr.DisplayNameTaken)
			return
		}
		writeError(w, apperr.Internal.WithCause(err))
		return
	}
	writeData(w, http.StatusOK, toProfileDTO(user))
}

func (s *Server) listAddresses(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	addrs, err := s.identity.ListAddresses(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, addrs)
}

func (s *Server) saveAddress(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in identity.Address
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	in.UserID = actor.UserID
	saved, err := s.identity.SaveAddress(r.Context(), &in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, saved)
}

func (s *Server) deleteAddress(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	if err := s.identity.DeleteAddress(r.Context(), actor.UserID, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) setDefaultAddress(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	addr, err := s.identity.SetDefaultAddress(r.Context(), actor.UserID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, addr)
}

func (s *Server) registerMedia(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		Kind        string  `json:"kind"`
		FileURL     string  `json:"fileUrl"`
		ContentType *string `json:"contentType"`
		SizeBytes   *int64  `json:"sizeBytes"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	asset, err := s.media.Register(r.Context(), actor.UserID, in.Kind, in.FileURL, in.ContentType, in.SizeBytes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, asset)
}

func (s *Server) listMedia(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	assets, err := s.media.ListMine(r.Context(), actor.UserID, r.URL.Query().Get("kind"))
	if err != nil {
		writeError(w, err)
		return
	}
	if assets == nil {
		assets = []media.Asset{}
	}
	writeData(w, http.StatusOK, assets)
}

func (s *Server) deleteMedia(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	if err := s.media.Delete(r.Context(), actor.UserID, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "deleted"})
}
