// internal/catalog/handler.go
package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libranexus/internal/httpx"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the item routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/items", func(r chi.Router) {
		r.Post("/", h.handleAddItem)
		r.Post("/rent", h.handleRentItems)
		r.Post("/return", h.handleReturnItems)
		r.Get("/{id}", h.handleGetItem)
		r.Post("/{id}/reserve", h.handleReserveItem)
		r.Post("/{id}/cancel-reservation", h.handleCancelReservation)
	})
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	item, err := h.service.AddItem(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, item)
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) handleReserveItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	var req struct {
		RenterID uuid.UUID `json:"renter_id"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	if err := h.service.ReserveItem(r.Context(), id, req.RenterID); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	if err := h.service.CancelReservation(r.Context(), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRentItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemIDs           []uuid.UUID `json:"item_ids"`
		RenterID          uuid.UUID   `json:"renter_id"`
		PlannedReturnDate string      `json:"planned_return_date"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	plannedReturn, err := httpx.ParseOptionalTime("planned_return_date", req.PlannedReturnDate)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	if err := h.service.RentItems(r.Context(), req.ItemIDs, req.RenterID, plannedReturn); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleReturnItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemIDs []uuid.UUID `json:"item_ids"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	if err := h.service.ReturnItems(r.Context(), req.ItemIDs); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
