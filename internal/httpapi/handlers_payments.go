package httpapi

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/authz"
	"github.com/coziyoo/backend/internal/payments"
)

func (s *Server) startPayment(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		OrderID string `json:"orderId"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.OrderID == "" {
		writeError(w, apperr.Validation("orderId is required", nil))
		return
	}
	result, err := s.payments.Start(r.Context(), actor.UserID, in.OrderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, result)
}

// paymentReturn is the browser redirect landing after checkout. It only
// annotates the attempt; the webhook remains the source of truth.
func (s *Server) paymentReturn(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, apperr.Validation("sessionId is required", nil))
		return
	}
	success := r.URL.Query().Get("success") == "true"
	attempt, err := s.payments.RecordReturn(r.Context(), sessionID, success)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, attempt)
}

func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, apperr.Validation("webhook body is unreadable", nil).WithCause(err))
		return
	}
	result, err := s.payments.HandleWebhook(r.Context(), body, r.Header.Get(payments.SignatureHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (s *Server) paymentStatus(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	orderID := mux.Vars(r)["id"]
	if _, err := s.orders.GetScoped(r.Context(), orderID, actor.UserID); err != nil {
		writeError(w, err)
		return
	}
	attempt, err := s.payments.OrderStatus(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, attempt)
}
