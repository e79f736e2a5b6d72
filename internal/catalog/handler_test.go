package catalog_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"libranexus/internal/catalog"
	"libranexus/internal/domain"
	"libranexus/internal/storage/memory"
	"libranexus/internal/uow"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	u := uow.New(memory.New(), nil, []uow.Codec{catalog.Codec{}},
		uow.WithClock(domain.FixedClock(time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC))),
	)
	r := chi.NewRouter()
	catalog.NewHandler(catalog.NewService(u, catalog.RentPolicyDirect, zap.NewNop())).Register(r)
	return r
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func addItem(t *testing.T, h http.Handler) catalog.ItemView {
	t.Helper()
	rec := serve(h, http.MethodPost, "/items", `{"name":"Dune","owner_id":"`+uuid.NewString()+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var item catalog.ItemView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&item))
	return item
}

func getItem(t *testing.T, h http.Handler, id uuid.UUID) catalog.ItemView {
	t.Helper()
	rec := serve(h, http.MethodGet, "/items/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var item catalog.ItemView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&item))
	return item
}

func TestRentAndReturnEndpoints(t *testing.T) {
	h := newRouter(t)
	a, b := addItem(t, h), addItem(t, h)
	renter := uuid.NewString()

	rec := serve(h, http.MethodPost, "/items/rent",
		`{"item_ids":["`+a.ID.String()+`","`+b.ID.String()+`"],"renter_id":"`+renter+`","planned_return_date":"2025-06-15"}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	got := getItem(t, h, a.ID)
	assert.Equal(t, catalog.ItemStatusRented, got.Status)
	require.NotNil(t, got.PlannedReturnDate)
	assert.Equal(t, "2025-06-15", got.PlannedReturnDate.Format(time.DateOnly))

	rec = serve(h, http.MethodPost, "/items/return", `{"item_ids":["`+a.ID.String()+`","`+b.ID.String()+`"]}`)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Equal(t, catalog.ItemStatusAvailable, getItem(t, h, b.ID).Status)
}

func TestRentEndpointErrors(t *testing.T) {
	h := newRouter(t)
	item := addItem(t, h)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad date", `{"item_ids":["` + item.ID.String() + `"],"renter_id":"` + uuid.NewString() + `","planned_return_date":"next week"}`, http.StatusBadRequest},
		{"past date", `{"item_ids":["` + item.ID.String() + `"],"renter_id":"` + uuid.NewString() + `","planned_return_date":"2025-05-01"}`, http.StatusUnprocessableEntity},
		{"missing item", `{"item_ids":["` + uuid.NewString() + `"],"renter_id":"` + uuid.NewString() + `"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, http.MethodPost, "/items/rent", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	assert.Equal(t, catalog.ItemStatusAvailable, getItem(t, h, item.ID).Status)
}

func TestReserveEndpointConflict(t *testing.T) {
	h := newRouter(t)
	item := addItem(t, h)
	path := "/items/" + item.ID.String() + "/reserve"

	rec := serve(h, http.MethodPost, path, `{"renter_id":"`+uuid.NewString()+`"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(h, http.MethodPost, path, `{"renter_id":"`+uuid.NewString()+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = serve(h, http.MethodPost, "/items/"+item.ID.String()+"/cancel-reservation", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
