package httpapi

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/audit"
	"github.com/coziyoo/backend/internal/authz"
	"github.com/coziyoo/backend/internal/disputes"
	"github.com/coziyoo/backend/internal/finance"
	"github.com/coziyoo/backend/internal/lots"
)

func (s *Server) listPendingCompliance(w http.ResponseWriter, r *http.Request) {
	page, pageSize, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	profiles, total, err := s.compliance.ListPending(r.Context(), pageSize, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writePaged(w, profiles, newOffsetPage(page, pageSize, total))
}

func (s *Server) adminGetCompliance(w http.ResponseWriter, r *http.Request) {
	profileID := mux.Vars(r)["profileId"]
	profile, err := s.compliance.GetProfileByID(r.Context(), profileID)
	if err != nil {
		writeError(w, err)
		return
	}
	docs, err := s.compliance.ListDocuments(r.Context(), profileID)
	if err != nil {
		writeError(w, err)
		return
	}
	checks, err := s.compliance.ListChecks(r.Context(), profileID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"profile":   profile,
		"documents": docs,
		"checks":    checks,
	})
}

func (s *Server) verifyComplianceCheck(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	vars := mux.Vars(r)
	var in struct {
		Passed bool `json:"passed"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	check, err := s.compliance.VerifyCheck(r.Context(), actor.UserID, vars["profileId"], vars["code"], in.Passed)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, check)
}

func (s *Server) reviewCompliance(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		Decision string  `json:"decision"`
		Note     *string `json:"note"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	profile, err := s.compliance.Review(r.Context(), actor.UserID, mux.Vars(r)["profileId"], in.Decision, in.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, profile)
}

func (s *Server) suspendCompliance(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		Note *string `json:"note"`
	}
	_ = decodeBody(r, &in)
	profile, err := s.compliance.Suspend(r.Context(), actor.UserID, mux.Vars(r)["profileId"], in.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, profile)
}

// adminGetOrder assembles the full investigation view of an order.
func (s *Server) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	order, err := s.orders.Get(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := s.orders.Events(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	allocations, err := s.lots.OrderAllocations(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	disclosures, err := s.disclosures.ForOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	cases, err := s.disputes.ListForOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	view := map[string]interface{}{
		"order":       order,
		"events":      events,
		"allocations": allocations,
		"disclosures": disclosures,
		"disputes":    cases,
	}
	if fin, err := s.finance.ForOrder(r.Context(), orderID); err == nil {
		view["finance"] = fin
	}
	if proof, err := s.proof.ForOrder(r.Context(), orderID); err == nil {
		view["deliveryProof"] = proof
	}
	writeData(w, http.StatusOK, view)
}

func (s *Server) adminOrderStatus(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		Status string  `json:"status"`
		Reason *string `json:"reason"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Status == "" {
		writeError(w, apperr.Validation("status is required", nil))
		return
	}
	var detail map[string]interface{}
	if in.Reason != nil {
		detail = map[string]interface{}{"reason": *in.Reason}
	}
	order, err := s.orders.Transition(r.Context(), mux.Vars(r)["id"], in.Status, adminActor(actor), detail)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, order)
}

// completionOverride records the audit row that lets an order complete
// without verified delivery proof or full disclosure.
func (s *Server) completionOverride(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	orderID := mux.Vars(r)["id"]
	var in struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Reason == "" {
		writeError(w, apperr.Validation("an override requires a reason", nil))
		return
	}
	if _, err := s.orders.Get(r.Context(), orderID); err != nil {
		writeError(w, err)
		return
	}
	if err := audit.Record(r.Context(), s.db, actor.UserID, "completion_override", "order",
		&orderID, nil, nil, &in.Reason); err != nil {
		writeError(w, apperr.Internal.WithCause(err))
		return
	}
	writeData(w, http.StatusCreated, map[string]string{"status": "override_recorded", "orderId": orderID})
}

func (s *Server) adminListLots(w http.ResponseWriter, r *http.Request) {
	page, pageSize, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	lotList, total, err := s.lots.AdminListLots(r.Context(), q.Get("sellerId"), q.Get("status"), pageSize, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if lotList == nil {
		lotList = []lots.Lot{}
	}
	writePaged(w, lotList, newOffsetPage(page, pageSize, total))
}

func (s *Server) ordersForLot(w http.ResponseWriter, r *http.Request) {
	orderIDs, err := s.lots.OrdersForLot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if orderIDs == nil {
		orderIDs = []string{}
	}
	writeData(w, http.StatusOK, map[string]interface{}{"orderIds": orderIDs})
}

func (s *Server) listOpenDisputes(w http.ResponseWriter, r *http.Request) {
	page, pageSize, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	cases, total, err := s.disputes.ListOpen(r.Context(), pageSize, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writePaged(w, cases, newOffsetPage(page, pageSize, total))
}

func (s *Server) getDispute(w http.ResponseWriter, r *http.Request) {
	c, err := s.disputes.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (s *Server) resolveDispute(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in disputes.ResolveInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.disputes.Resolve(r.Context(), actor.UserID, mux.Vars(r)["id"], in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (s *Server) addDisputeEvidence(w http.ResponseWriter, r *http.Request) {
	var in map[string]interface{}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if len(in) == 0 {
		writeError(w, apperr.Validation("evidence body is empty", nil))
		return
	}
	c, err := s.disputes.AddEvidence(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, c)
}

func (s *Server) getCommission(w http.ResponseWriter, r *http.Request) {
	rate, err := s.finance.ActiveRate(r.Context(), s.db)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{"rate": rate})
}

func (s *Server) setCommission(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	setting, err := s.finance.SetRate(r.Context(), actor.UserID, in.Rate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, setting)
}

func (s *Server) requestReport(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		PeriodStart time.Time `json:"periodStart"`
		PeriodEnd   time.Time `json:"periodEnd"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if !in.PeriodEnd.After(in.PeriodStart) {
		writeError(w, apperr.Validation("periodEnd must be after periodStart", nil))
		return
	}
	report, err := s.finance.RequestReport(r.Context(), s.reportJobs, actor.UserID, in.PeriodStart, in.PeriodEnd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusAccepted, report)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.finance.GetReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, report)
}

// tasksAuthOK checks the queue's shared secret in constant time. An empty
// configured secret means the deployment relies on network-level isolation
// and the header is not required.
func tasksAuthOK(secret, header string) bool {
	if secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(header)) == 1
}

// buildReportTask is the Cloud Tasks target; the queue retries on non-2xx.
func (s *Server) buildReportTask(w http.ResponseWriter, r *http.Request) {
	if !tasksAuthOK(s.cfg.Tasks.AuthSecret, r.Header.Get(finance.TasksAuthHeader)) {
		writeError(w, apperr.Unauthorized.WithMessage("invalid task auth"))
		return
	}
	var in struct {
		ReportID string `json:"reportId"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if err := s.finance.BuildReport(r.Context(), in.ReportID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "built"})
}

func (s *Server) placeLegalHold(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		EntityType string `json:"entityType"`
		EntityID   string `json:"entityId"`
		Reason     string `json:"reason"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.EntityType == "" || in.EntityID == "" || in.Reason == "" {
		writeError(w, apperr.Validation("entityType, entityId, and reason are required", nil))
		return
	}
	hold, err := s.retention.PlaceHold(r.Context(), actor.UserID, in.EntityType, in.EntityID, in.Reason)
	if err != nil {
		writeError(w, apperr.Internal.WithCause(err))
		return
	}
	writeData(w, http.StatusCreated, hold)
}

func (s *Server) releaseLegalHold(w http.ResponseWriter, r *http.Request) {
	if err := s.retention.ReleaseHold(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "released"})
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entityType, entityID := q.Get("entityType"), q.Get("entityId")
	if entityType == "" || entityID == "" {
		writeError(w, apperr.Validation("entityType and entityId are required", nil))
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := audit.List(r.Context(), s.db, entityType, entityID, limit)
	if err != nil {
		writeError(w, apperr.Internal.WithCause(err))
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeData(w, http.StatusOK, entries)
}
