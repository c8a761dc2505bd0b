package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/authz"
	"github.com/coziyoo/backend/internal/chat"
	"github.com/coziyoo/backend/internal/notifications"
)

func (s *Server) openChat(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		PeerID  string  `json:"peerId"`
		OrderID *string `json:"orderId"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.PeerID == "" {
		writeError(w, apperr.Validation("peerId is required", nil))
		return
	}
	if in.PeerID == actor.UserID {
		writeError(w, apperr.Validation("cannot open a chat with yourself", nil))
		return
	}

	buyerID, sellerID := actor.UserID, in.PeerID
	if actor.Role == authz.RoleSeller {
		buyerID, sellerID = in.PeerID, actor.UserID
	}
	c, err := s.chats.Open(r.Context(), buyerID, sellerID, in.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, c)
}

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	list, err := s.chats.ListForUser(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []chat.Chat{}
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	c, err := s.chats.Get(r.Context(), mux.Vars(r)["id"], actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	messages, next, err := s.chats.Messages(r.Context(), mux.Vars(r)["id"], actor.UserID,
		r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}
	writePaged(w, messages, cursorPage{Limit: limit, NextCursor: next, HasMore: next != ""})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		Body string `json:"body"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Body == "" {
		writeError(w, apperr.Validation("message body is required", nil))
		return
	}
	msg, err := s.chats.Send(r.Context(), mux.Vars(r)["id"], actor.UserID, in.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, msg)
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	page, pageSize, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	list, total, err := s.notifStore.List(r.Context(), actor.UserID,
		r.URL.Query().Get("unread") == "true", pageSize, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []notifications.Notification{}
	}
	writePaged(w, list, newOffsetPage(page, pageSize, total))
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	if err := s.notifStore.MarkRead(r.Context(), actor.UserID, mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	n, err := s.notifStore.MarkAllRead(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int{"marked": n})
}

// notificationStream upgrades to a WebSocket and joins the user's live
// notification feed.
func (s *Server) notificationStream(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	s.hub.ServeWS(w, r, actor.UserID)
}
