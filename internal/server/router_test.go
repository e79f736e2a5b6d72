package server_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"libranexus/internal/catalog"
	"libranexus/internal/circulation"
	"libranexus/internal/client"
	"libranexus/internal/domain"
	"libranexus/internal/reaction"
	"libranexus/internal/server"
	"libranexus/internal/storage/memory"
	"libranexus/internal/uow"
)

var now = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func setupServer(t *testing.T, cfg server.Config) (*httptest.Server, *client.Client) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memory.New()
	u := uow.New(store, reaction.NewTable(catalog.RentPolicyDirect, logger),
		[]uow.Codec{catalog.Codec{}, circulation.Codec{}},
		uow.WithClock(domain.FixedClock(now)),
		uow.WithLogger(logger),
		uow.WithMaxAttempts(10),
	)
	cfg.Catalog = catalog.NewService(u, catalog.RentPolicyDirect, logger)
	cfg.Orders = circulation.NewService(u, logger)
	cfg.Logger = logger

	srv := httptest.NewServer(server.NewRouter(cfg))
	t.Cleanup(srv.Close)
	return srv, client.New(srv.URL, client.WithHTTPClient(srv.Client()))
}

func TestRentalLifecycle(t *testing.T) {
	_, c := setupServer(t, server.Config{})
	ctx := context.Background()
	owner, renter := uuid.New(), uuid.New()

	item, err := c.AddItem(ctx, catalog.AddItemRequest{
		Name:    "Pride and Prejudice",
		OwnerID: owner,
		Book:    &catalog.BookDetails{Author: "Jane Austen", Year: 1813},
	})
	require.NoError(t, err)
	assert.Equal(t, catalog.ItemStatusAvailable, item.Status)

	order, err := c.CreateOrder(ctx, renter)
	require.NoError(t, err)
	assert.Equal(t, circulation.OrderStatusCreated, order.Status)
	assert.Empty(t, order.Items)

	order, err = c.AddItems(ctx, order.ID, []uuid.UUID{item.ID})
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	require.NotNil(t, order.ItemsOwnerID)
	assert.Equal(t, owner, *order.ItemsOwnerID)

	item, err = c.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.ItemStatusReserved, item.Status)

	planned := now.AddDate(0, 0, 14)
	order, err = c.PlaceOrder(ctx, order.ID, circulation.PlaceOrderRequest{
		PickUpDateTime:    now.Add(48 * time.Hour),
		PlannedReturnDate: &planned,
		Note:              "front desk",
	})
	require.NoError(t, err)
	assert.Equal(t, circulation.OrderStatusPlaced, order.Status)

	order, err = c.ConfirmOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, circulation.OrderStatusConfirmed, order.Status)

	item, err = c.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.ItemStatusRented, item.Status)
	require.NotNil(t, item.RenterID)
	assert.Equal(t, renter, *item.RenterID)

	for _, step := range []func(context.Context, uuid.UUID) (*circulation.OrderView, error){
		c.AwaitPickup, c.PickUp, c.CompleteOrder,
	} {
		order, err = step(ctx, order.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, circulation.OrderStatusCompleted, order.Status)

	item, err = c.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.ItemStatusAvailable, item.Status)
	assert.Nil(t, item.RenterID)

	_, err = c.CancelOrder(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestConcurrentOrdersGetTheItemOnce(t *testing.T) {
	_, c := setupServer(t, server.Config{})
	ctx := context.Background()

	item, err := c.AddItem(ctx, catalog.AddItemRequest{Name: "The Great Gatsby", OwnerID: uuid.New()})
	require.NoError(t, err)

	var orders []uuid.UUID
	for range 10 {
		o, err := c.CreateOrder(ctx, uuid.New())
		require.NoError(t, err)
		orders = append(orders, o.ID)
	}

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for _, id := range orders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.AddItems(ctx, id, []uuid.UUID{item.ID}); err == nil {
				successes.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalidTransition)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, successes.Load(), "only one order may take the item")

	item, err = c.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.ItemStatusReserved, item.Status)
}

func TestErrorResponses(t *testing.T) {
	srv, c := setupServer(t, server.Config{})
	ctx := context.Background()

	_, err := c.GetItem(ctx, uuid.New())
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.AddItem(ctx, catalog.AddItemRequest{Name: " ", OwnerID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	resp, err := srv.Client().Get(srv.URL + "/orders/not-a-uuid")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = srv.Client().Post(srv.URL+"/orders", "application/json", strings.NewReader(`{"renter_id":"`+uuid.NewString()+`","extra":1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	order, err := c.CreateOrder(ctx, uuid.New())
	require.NoError(t, err)
	_, err = c.PlaceOrder(ctx, order.ID, circulation.PlaceOrderRequest{PickUpDateTime: now.Add(time.Hour)})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := setupServer(t, server.Config{})

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthReportsBackendFailure(t *testing.T) {
	srv, _ := setupServer(t, server.Config{
		Health: func(context.Context) error { return errors.New("database unreachable") },
	})

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRateLimitAppliesToAPIOnly(t *testing.T) {
	srv, _ := setupServer(t, server.Config{Limiter: rate.NewLimiter(rate.Every(time.Hour), 1)})
	c := client.New(srv.URL, client.WithHTTPClient(srv.Client()), client.WithMaxTries(1))
	ctx := context.Background()

	_, err := c.CreateOrder(ctx, uuid.New())
	require.NoError(t, err)

	_, err = c.CreateOrder(ctx, uuid.New())
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate_limited", apiErr.Code)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
