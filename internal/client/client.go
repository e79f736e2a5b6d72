// internal/client/client.go
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"libranexus/internal/catalog"
	"libranexus/internal/circulation"
	"libranexus/internal/domain"
	"libranexus/internal/httpx"
)

// APIError is a non-2xx response. It unwraps to the domain error matching
// its code, so callers can use errors.Is as they would in process.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "invalid_argument":
		return domain.ErrInvalidArgument
	case "not_found":
		return domain.ErrNotFound
	case "conflicting_reservation":
		return domain.ErrConflictingReservation
	case "concurrency_conflict":
		return domain.ErrConcurrencyConflict
	case "invalid_transition":
		return domain.ErrInvalidTransition
	default:
		return nil
	}
}

// Client talks to the rental HTTP API. Requests rejected by the rate
// limiter are retried with backoff.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxTries   uint
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithMaxTries bounds the attempts for a rate limited request. One disables
// retries.
func WithMaxTries(n uint) Option {
	return func(cl *Client) { cl.maxTries = max(n, 1) }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxTries:   5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) AddItem(ctx context.Context, req catalog.AddItemRequest) (*catalog.ItemView, error) {
	var item catalog.ItemView
	if err := c.do(ctx, http.MethodPost, "/items", req, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) GetItem(ctx context.Context, id uuid.UUID) (*catalog.ItemView, error) {
	var item catalog.ItemView
	if err := c.do(ctx, http.MethodGet, "/items/"+id.String(), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) ReserveItem(ctx context.Context, id, renterID uuid.UUID) error {
	body := map[string]uuid.UUID{"renter_id": renterID}
	return c.do(ctx, http.MethodPost, "/items/"+id.String()+"/reserve", body, nil)
}

func (c *Client) CancelReservation(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/items/"+id.String()+"/cancel-reservation", nil, nil)
}

func (c *Client) RentItems(ctx context.Context, ids []uuid.UUID, renterID uuid.UUID, plannedReturnDate *time.Time) error {
	body := struct {
		ItemIDs           []uuid.UUID `json:"item_ids"`
		RenterID          uuid.UUID   `json:"renter_id"`
		PlannedReturnDate string      `json:"planned_return_date,omitempty"`
	}{ItemIDs: ids, RenterID: renterID}
	if plannedReturnDate != nil {
		body.PlannedReturnDate = plannedReturnDate.Format(time.DateOnly)
	}
	return c.do(ctx, http.MethodPost, "/items/rent", body, nil)
}

func (c *Client) ReturnItems(ctx context.Context, ids []uuid.UUID) error {
	body := map[string][]uuid.UUID{"item_ids": ids}
	return c.do(ctx, http.MethodPost, "/items/return", body, nil)
}

func (c *Client) CreateOrder(ctx context.Context, renterID uuid.UUID) (*circulation.OrderView, error) {
	return c.order(ctx, http.MethodPost, "/orders", map[string]uuid.UUID{"renter_id": renterID})
}

func (c *Client) GetOrder(ctx context.Context, id uuid.UUID) (*circulation.OrderView, error) {
	return c.order(ctx, http.MethodGet, orderPath(id, ""), nil)
}

func (c *Client) AddItems(ctx context.Context, id uuid.UUID, itemIDs []uuid.UUID) (*circulation.OrderView, error) {
	return c.order(ctx, http.MethodPost, orderPath(id, "/items"), map[string][]uuid.UUID{"item_ids": itemIDs})
}

func (c *Client) RemoveItems(ctx context.Context, id uuid.UUID, itemIDs []uuid.UUID) (*circulation.OrderView, error) {
	return c.order(ctx, http.MethodPost, orderPath(id, "/items/remove"), map[string][]uuid.UUID{"item_ids": itemIDs})
}

func (c *Client) PlaceOrder(ctx context.Context, id uuid.UUID, req circulation.PlaceOrderRequest) (*circulation.OrderView, error) {
	body := struct {
		PickUpDateTime    string `json:"pick_up_date_time"`
		PlannedReturnDate string `json:"planned_return_date,omitempty"`
		Note              string `json:"note,omitempty"`
	}{PickUpDateTime: req.PickUpDateTime.Format(time.RFC3339), Note: req.Note}
	if req.PlannedReturnDate != nil {
		body.PlannedReturnDate = req.PlannedReturnDate.Format(time.DateOnly)
	}
	return c.order(ctx, http.MethodPost, orderPath(id, "/place"), body)
}

func (c *Client) UpdatePickUpDateTime(ctx context.Context, id uuid.UUID, pickUp time.Time) (*circulation.OrderView, error) {
	body := map[string]string{"pick_up_date_time": pickUp.Format(time.RFC3339)}
	return c.order(ctx, http.MethodPut, orderPath(id, "/pick-up-date-time"), body)
}

func (c *Client) ConfirmOrder(ctx context.Context, id uuid.UUID) (*circulation.OrderView, error) {
	return c.order(ctx, http.MethodPost, orderPath(id, "/confirm"), nil)
}

func (c *Client) AwaitPickup(ctx context.Context, id uuid.UUID) (*circulation.OrderView, error) {
	return c.order(ctx, http.MethodPost, orderPath(id, "/await-pickup"), nil)
}

func (c *Client) PickUp(ctx context.Context, id uuid.UUID) (*circulation.OrderView, error) {
	return c.order(ctx, http.MethodPost, orderPath(id, "/pick-up"), nil)
}

func (c *Client) CompleteOrder(ctx context.Context, id uuid.UUID) (*circulation.OrderView, error) {
	return c.order(ctx, http.MethodPost, orderPath(id, "/complete"), nil)
}

func (c *Client) CancelOrder(ctx context.Context, id uuid.UUID) (*circulation.OrderView, error) {
	return c.order(ctx, http.MethodPost, orderPath(id, "/cancel"), nil)
}

func (c *Client) ReCreateOrder(ctx context.Context, id uuid.UUID) (*circulation.OrderView, error) {
	return c.order(ctx, http.MethodPost, orderPath(id, "/re-create"), nil)
}

func orderPath(id uuid.UUID, suffix string) string {
	return "/orders/" + id.String() + suffix
}

func (c *Client) order(ctx context.Context, method, path string, body any) (*circulation.OrderView, error) {
	var order circulation.OrderView
	if err := c.do(ctx, method, path, body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.send(ctx, method, path, payload, out)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
	return err
}

// send performs one request. Only rate limited responses are retryable.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return backoff.Permanent(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return backoff.Permanent(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e httpx.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: e.Code, Message: e.Error}
		if resp.StatusCode == http.StatusTooManyRequests {
			return apiErr
		}
		return backoff.Permanent(apiErr)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
