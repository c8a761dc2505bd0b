package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/authz"
	"github.com/coziyoo/backend/internal/disclosure"
	"github.com/coziyoo/backend/internal/orders"
)

// appActor maps the authenticated app user onto the order transition actor.
func appActor(actor *authz.Actor) orders.TransitionActor {
	return orders.TransitionActor{
		Kind:   actor.Role,
		ID:     actor.UserID,
		Realm:  "app",
		UserID: actor.UserID,
	}
}

func adminActor(actor *authz.Actor) orders.TransitionActor {
	return orders.TransitionActor{
		Kind:  orders.ActorAdmin,
		ID:    actor.UserID,
		Realm: "admin",
	}
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in orders.CreateOrderInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	order, err := s.orders.Create(r.Context(), actor.UserID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, order)
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	page, pageSize, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	list, total, err := s.orders.List(r.Context(), actor.UserID, actor.Role,
		r.URL.Query().Get("status"), pageSize, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writePaged(w, list, newOffsetPage(page, pageSize, total))
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	order, err := s.orders.GetScoped(r.Context(), mux.Vars(r)["id"], actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, order)
}

func (s *Server) orderEvents(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	orderID := mux.Vars(r)["id"]
	if _, err := s.orders.GetScoped(r.Context(), orderID, actor.UserID); err != nil {
		writeError(w, err)
		return
	}
	events, err := s.orders.Events(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, events)
}

func (s *Server) transitionOrder(w http.ResponseWriter, r *http.Request, to string, detail map[string]interface{}) {
	actor := authz.ActorFrom(r.Context())
	order, err := s.orders.Transition(r.Context(), mux.Vars(r)["id"], to, appActor(actor), detail)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, order)
}

func (s *Server) approveOrder(w http.ResponseWriter, r *http.Request) {
	s.transitionOrder(w, r, orders.StatusSellerApproved, nil)
}

func (s *Server) rejectOrder(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Reason *string `json:"reason"`
	}
	_ = decodeBody(r, &in)
	var detail map[string]interface{}
	if in.Reason != nil {
		detail = map[string]interface{}{"reason": *in.Reason}
	}
	s.transitionOrder(w, r, orders.StatusRejected, detail)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	s.transitionOrder(w, r, orders.StatusCancelled, nil)
}

// sellerOrderStatus advances the fulfilment pipeline. The transition table
// rejects anything outside the seller's lane.
func (s *Server) sellerOrderStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Status == "" {
		writeError(w, apperr.Validation("status is required", nil))
		return
	}
	s.transitionOrder(w, r, in.Status, nil)
}

func (s *Server) completeOrder(w http.ResponseWriter, r *http.Request) {
	s.transitionOrder(w, r, orders.StatusCompleted, nil)
}

func (s *Server) listDisclosures(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	orderID := mux.Vars(r)["id"]
	if _, err := s.orders.GetScoped(r.Context(), orderID, actor.UserID); err != nil {
		writeError(w, err)
		return
	}
	records, err := s.disclosures.ForOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []disclosure.Record{}
	}
	writeData(w, http.StatusOK, records)
}

// disclosureWriteAllowed says who may record each phase. Buyers acknowledge
// allergens before paying; sellers confirm them at handover. Unknown phases
// fall through to the store's validation.
func disclosureWriteAllowed(phase string, order *orders.Order, userID string) error {
	switch phase {
	case disclosure.PhasePreOrder:
		if order.BuyerID != userID {
			return apperr.ForbiddenOrder.WithMessage("only the buyer acknowledges the pre-order disclosure")
		}
		if order.PaymentCompleted {
			return apperr.OrderInvalidState.WithMessage("pre-order disclosure must be recorded before payment")
		}
	case disclosure.PhaseHandover:
		if order.SellerID != userID {
			return apperr.ForbiddenOrder.WithMessage("only the seller records the handover disclosure")
		}
	}
	return nil
}

func (s *Server) saveDisclosure(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	orderID := mux.Vars(r)["id"]
	order, err := s.orders.GetScoped(r.Context(), orderID, actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	var in struct {
		Phase     string   `json:"phase"`
		Allergens []string `json:"allergens"`
		Method    string   `json:"method"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if err := disclosureWriteAllowed(in.Phase, order, actor.UserID); err != nil {
		writeError(w, err)
		return
	}
	record, err := s.disclosures.Save(r.Context(), orderID, in.Phase, in.Allergens, in.Method, actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, record)
}

func (s *Server) issueDeliveryPIN(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	record, err := s.proof.Issue(r.Context(), actor.UserID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, record)
}

func (s *Server) verifyDeliveryPIN(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		PIN string `json:"pin"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	record, err := s.proof.Verify(r.Context(), actor.UserID, mux.Vars(r)["id"], in.PIN)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, record)
}

func (s *Server) requestRefund(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		ReasonCode string  `json:"reasonCode"`
		Note       *string `json:"note"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.ReasonCode == "" {
		writeError(w, apperr.Validation("reasonCode is required", nil))
		return
	}
	c, err := s.disputes.RequestRefund(r.Context(), actor.UserID, mux.Vars(r)["id"], in.ReasonCode, in.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, c)
}
