// internal/circulation/handler.go
package circulation

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libranexus/internal/domain"
	"libranexus/internal/httpx"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the order routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.handleCreateOrder)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetOrder)
			r.Post("/items", h.handleAddItems)
			r.Post("/items/remove", h.handleRemoveItems)
			r.Post("/place", h.handlePlaceOrder)
			r.Put("/pick-up-date-time", h.handleUpdatePickUpDateTime)
			r.Post("/confirm", h.transition(h.service.ConfirmOrder))
			r.Post("/await-pickup", h.transition(h.service.AwaitPickup))
			r.Post("/pick-up", h.transition(h.service.PickUp))
			r.Post("/complete", h.transition(h.service.CompleteOrder))
			r.Post("/cancel", h.transition(h.service.CancelOrder))
			r.Post("/re-create", h.transition(h.service.ReCreateOrder))
		})
	})
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RenterID uuid.UUID `json:"renter_id"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), req.RenterID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, order)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, order)
}

type itemIDsRequest struct {
	ItemIDs []uuid.UUID `json:"item_ids"`
}

func (h *Handler) handleAddItems(w http.ResponseWriter, r *http.Request) {
	h.withItemIDs(w, r, h.service.AddItems)
}

func (h *Handler) handleRemoveItems(w http.ResponseWriter, r *http.Request) {
	h.withItemIDs(w, r, h.service.RemoveItems)
}

func (h *Handler) withItemIDs(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID, []uuid.UUID) error) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	var req itemIDsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	if err := fn(r.Context(), id, req.ItemIDs); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	h.writeOrder(w, r, id)
}

func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	var req struct {
		PickUpDateTime    string `json:"pick_up_date_time"`
		PlannedReturnDate string `json:"planned_return_date"`
		Note              string `json:"note"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	pickUp, err := requiredTime("pick_up_date_time", req.PickUpDateTime)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	plannedReturn, err := httpx.ParseOptionalTime("planned_return_date", req.PlannedReturnDate)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	err = h.service.PlaceOrder(r.Context(), id, PlaceOrderRequest{
		PickUpDateTime:    *pickUp,
		PlannedReturnDate: plannedReturn,
		Note:              req.Note,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	h.writeOrder(w, r, id)
}

func (h *Handler) handleUpdatePickUpDateTime(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamUUID(r, "id")
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	var req struct {
		PickUpDateTime string `json:"pick_up_date_time"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	pickUp, err := requiredTime("pick_up_date_time", req.PickUpDateTime)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	if err := h.service.UpdatePickUpDateTime(r.Context(), id, *pickUp); err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	h.writeOrder(w, r, id)
}

// transition serves the status changes that take no request body.
func (h *Handler) transition(fn func(context.Context, uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.URLParamUUID(r, "id")
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		if err := fn(r.Context(), id); err != nil {
			httpx.WriteError(w, r, err)
			return
		}

		h.writeOrder(w, r, id)
	}
}

func (h *Handler) writeOrder(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, order)
}

func requiredTime(field, s string) (*time.Time, error) {
	t, err := httpx.ParseOptionalTime(field, s)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s is required", domain.ErrInvalidArgument, field)
	}
	return t, nil
}
