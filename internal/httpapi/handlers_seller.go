package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/coziyoo/backend/internal/apperr"
	"github.com/coziyoo/backend/internal/authz"
	"github.com/coziyoo/backend/internal/finance"
	"github.com/coziyoo/backend/internal/lots"
)

func (s *Server) getCompliance(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	profile, err := s.compliance.GetProfile(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	docs, err := s.compliance.ListDocuments(r.Context(), profile.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	checks, err := s.compliance.ListChecks(r.Context(), profile.ID)
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

func (s *Server) startCompliance(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		Country      string  `json:"country"`
		BusinessName *string `json:"businessName"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	profile, err := s.compliance.StartProfile(r.Context(), actor.UserID, in.Country, in.BusinessName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, profile)
}

func (s *Server) listComplianceDocuments(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	profile, err := s.compliance.GetProfile(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	docs, err := s.compliance.ListDocuments(r.Context(), profile.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, docs)
}

func (s *Server) uploadComplianceDocument(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		DocType string `json:"docType"`
		FileURL string `json:"fileUrl"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.DocType == "" || in.FileURL == "" {
		writeError(w, apperr.Validation("docType and fileUrl are required", nil))
		return
	}
	doc, err := s.compliance.UploadDocument(r.Context(), actor.UserID, in.DocType, in.FileURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, doc)
}

func (s *Server) submitCompliance(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	profile, err := s.compliance.Submit(r.Context(), actor.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, profile)
}

func (s *Server) createLot(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		FoodID           string     `json:"foodId"`
		LotNumber        string     `json:"lotNumber"`
		ProducedAt       time.Time  `json:"producedAt"`
		UseBy            *time.Time `json:"useBy"`
		BestBefore       *time.Time `json:"bestBefore"`
		QuantityProduced int        `json:"quantityProduced"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	lot, err := s.lots.CreateLot(r.Context(), actor.UserID, lots.CreateLotInput{
		FoodID:           in.FoodID,
		LotNumber:        in.LotNumber,
		ProducedAt:       in.ProducedAt,
		UseBy:            in.UseBy,
		BestBefore:       in.BestBefore,
		QuantityProduced: in.QuantityProduced,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, lot)
}

func (s *Server) listLots(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	q := r.URL.Query()
	list, err := s.lots.ListLots(r.Context(), actor.UserID, q.Get("foodId"), q.Get("includeClosed") == "true")
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []lots.Lot{}
	}
	writeData(w, http.StatusOK, list)
}

func (s *Server) getLot(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	lot, err := s.lots.GetLot(r.Context(), actor.UserID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, lot)
}

func (s *Server) adjustLot(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		QuantityAvailable *int `json:"quantityAvailable"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.QuantityAvailable == nil {
		writeError(w, apperr.Validation("quantityAvailable is required", nil))
		return
	}
	lot, err := s.lots.AdjustLot(r.Context(), actor.UserID, mux.Vars(r)["id"], *in.QuantityAvailable)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, lot)
}

func (s *Server) discardLot(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	lot, err := s.lots.DiscardLot(r.Context(), actor.UserID, mux.Vars(r)["id"], in.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, lot)
}

func (s *Server) recallLot(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	var in struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	if in.Reason == "" {
		writeError(w, apperr.Validation("a recall requires a reason", nil))
		return
	}
	lot, affectedOrders, err := s.lots.RecallLot(r.Context(), actor.UserID, mux.Vars(r)["id"], in.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"lot":            lot,
		"affectedOrders": affectedOrders,
	})
}

// periodParams parses from/to bounds, defaulting to the trailing 30 days.
func periodParams(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from, to := now.AddDate(0, 0, -30), now
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.Validation("from must be RFC3339", nil)
		}
		from = parsed
	}
	if raw := q.Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.Validation("to must be RFC3339", nil)
		}
		to = parsed
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, apperr.Validation("to must be after from", nil)
	}
	return from, to, nil
}

func (s *Server) financeSummary(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	from, to, err := periodParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.finance.SellerSummary(r.Context(), actor.UserID, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, summary)
}

func (s *Server) listAdjustments(w http.ResponseWriter, r *http.Request) {
	actor := authz.ActorFrom(r.Context())
	_, pageSize, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	adjustments, err := s.finance.ListAdjustments(r.Context(), actor.UserID, pageSize, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if adjustments == nil {
		adjustments = []finance.Adjustment{}
	}
	writeData(w, http.StatusOK, adjustments)
}
