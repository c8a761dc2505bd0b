package httpapi

import (
	"net/http"
	"time"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/authz"
	"github.com/coziyoo/backend/internal/dispatch"
)

func (s *Server) assistantDispatch(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		Intent  string                 `json:"intent"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Intent == "" {
		writeError(w, apperr.Validation("intent is required", nil))
		return
	}
	resp, err := s.dispatcher.Dispatch(r.Context(), dispatch.AgentRequest{
		UserID:  actor.UserID,
		Intent:  in.Intent,
		Payload: in.Payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

func (s *Server) assistantRoomToken(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		Room       string `json:"room"`
		TTLSeconds int    `json:"ttlSeconds"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Room == "" {
		writeError(w, apperr.Validation("room is required", nil))
		return
	}
	token, err := s.dispatcher.MintRoomToken(actor.UserID, in.Room, time.Duration(in.TTLSeconds)*time.Second)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, token)
}
