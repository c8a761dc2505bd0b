package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coziyoo/backend/internal/apperr"
)

func TestPageParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/foods?page=3&pageSize=25", nil)
	page, pageSize, offset, err := pageParams(req)
	require.NoError(t, err)
	assert.Equal(t, 3, page)
	assert.Equal(t, 25, pageSize)
	assert.Equal(t, 50, offset)
}

func TestPageParamsDefaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/foods", nil)
	page, pageSize, offset, err := pageParams(req)
	require.NoError(t, err)
	assert.Equal(t, 1, page)
	assert.Equal(t, defaultPageSize, pageSize)
	assert.Equal(t, 0, offset)
}

func TestPageParamsBounds(t *testing.T) {
	for _, query := range []string{
		"page=0", "page=-1", "page=abc",
		"pageSize=0", "pageSize=101", "pageSize=x",
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/foods?"+query, nil)
		_, _, _, err := pageParams(req)
		require.Error(t, err, query)
		assert.True(t, apperr.IsCode(err, "PAGINATION_INVALID"), query)
	}
}

func TestLimitParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/chats/x/messages?limit=50", nil)
	limit, err := limitParam(req)
	require.NoError(t, err)
	assert.Equal(t, 50, limit)

	req = httptest.NewRequest(http.MethodGet, "/v1/chats/x/messages?limit=500", nil)
	_, err = limitParam(req)
	assert.True(t, apperr.IsCode(err, "PAGINATION_INVALID"))
}

func TestNewOffsetPage(t *testing.T) {
	p := newOffsetPage(2, 20, 41)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 41, p.Total)

	p = newOffsetPage(1, 20, 0)
	assert.Equal(t, 0, p.TotalPages)

	p = newOffsetPage(1, 20, 20)
	assert.Equal(t, 1, p.TotalPages)
}

func TestWriteErrorUsesStableCodeAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, apperr.OrderNotFound)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ORDER_NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, body.Error.Message)
}

func TestWriteErrorMasksUnknownErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("pq: password authentication failed for user"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	// The raw cause never reaches the client.
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestWriteDataEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeData(rec, http.StatusCreated, map[string]string{"id": "x"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"id":"x"}}`, rec.Body.String())
}

func TestWritePagedEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writePaged(rec, []int{1, 2}, newOffsetPage(1, 2, 4))

	var body struct {
		Data       []int      `json:"data"`
		Pagination offsetPage `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []int{1, 2}, body.Data)
	assert.Equal(t, 2, body.Pagination.TotalPages)
}
