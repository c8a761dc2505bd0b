// Package httpapi is the versioned HTTP transport: routing, the response
// envelope, auth and rate-limit middleware, and the handler surface for
// both the app and admin realms.
package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/coziyoo/backend/internal/apperr"
)

// envelope is the uniform success shape. Errors use errEnvelope instead;
// the two never mix on one response.
type envelope struct {
	Data       interface{} `json:"data"`
	Pagination interface{} `json:"pagination,omitempty"`
}

type errEnvelope struct {
	Error *apperr.Error `json:"error"`
}

// offsetPage is the page/total pagination block for offset-listed
// collections.
type offsetPage struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// cursorPage is the pagination block for keyset-listed collections.
type cursorPage struct {
	Limit      int    `json:"limit"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

func newOffsetPage(page, pageSize, total int) offsetPage {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return offsetPage{Page: page, PageSize: pageSize, Total: total, TotalPages: totalPages}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[HTTP] ⚠️ Failed to encode response: %v", err)
	}
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Data: data})
}

func writePaged(w http.ResponseWriter, data interface{}, pagination interface{}) {
	writeJSON(w, http.StatusOK, envelope{Data: data, Pagination: pagination})
}

// writeError maps any error onto the envelope. Unknown errors are logged
// with their cause and surfaced as INTERNAL_ERROR without detail.
func writeError(w http.ResponseWriter, err error) {
	e := apperr.As(err)
	if e == nil {
		log.Printf("[HTTP] ❌ Unhandled error: %v", err)
		e = apperr.Internal
	}
	if e.Code == apperr.Internal.Code && e.Unwrap() != nil {
		log.Printf("[HTTP] ❌ Internal error: %v", err)
	}
	writeJSON(w, e.Status, errEnvelope{Error: e})
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("request body is not valid JSON", nil).WithCause(err)
	}
	return nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pageParams parses page/pageSize query parameters with bounds.
func pageParams(r *http.Request) (page, pageSize, offset int, err error) {
	page, pageSize = 1, defaultPageSize
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, 0, apperr.PaginationInvalid.WithMessage("page must be a positive integer")
		}
	}
	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		pageSize, err = strconv.Atoi(raw)
		if err != nil || pageSize < 1 || pageSize > maxPageSize {
			return 0, 0, 0, apperr.PaginationInvalid.WithMessage("pageSize must be between 1 and %d", maxPageSize)
		}
	}
	return page, pageSize, (page - 1) * pageSize, nil
}

// limitParam parses the limit for cursor-paginated endpoints.
func limitParam(r *http.Request) (int, error) {
	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			return 0, apperr.PaginationInvalid.WithMessage("limit must be between 1 and %d", maxPageSize)
		}
		limit = n
	}
	return limit, nil
}
