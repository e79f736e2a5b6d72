// internal/chaos/remote.go
package chaos

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"libranexus/internal/catalog"
	"libranexus/internal/circulation"
	"libranexus/internal/client"
)

// HTTPReservationRace runs the reservation race against a deployed rental
// service through its HTTP API.
func HTTPReservationRace(c *client.Client, contenders int, window time.Duration) Experiment {
	var (
		itemID uuid.UUID
		orders []uuid.UUID
		wins   atomic.Int64
	)

	return Experiment{
		Name:       "http-reservation-race",
		Hypothesis: "Only one of several renters adding the same item over HTTP gets it",
		SteadyState: []Metric{
			{
				Name: "orders_holding_item",
				Query: func(ctx context.Context) (float64, error) {
					n := 0
					for _, id := range orders {
						o, err := c.GetOrder(ctx, id)
						if err != nil {
							return 0, err
						}
						if slices.ContainsFunc(o.Items, func(it circulation.OrderItem) bool { return it.ItemID == itemID }) {
							n++
						}
					}
					return float64(n), nil
				},
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
		},
		Observe: []Metric{
			{
				Name:      "successful_requests",
				Query:     func(context.Context) (float64, error) { return float64(wins.Load()), nil },
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
		},
		Method: []Action{
			{
				Type:   "load",
				Target: "rental-api",
				Execute: func(ctx context.Context) error {
					wins.Store(0)
					item, err := c.AddItem(ctx, catalog.AddItemRequest{Name: "Contested copy", OwnerID: uuid.New()})
					if err != nil {
						return err
					}
					itemID = item.ID

					orders = orders[:0]
					for range contenders {
						o, err := c.CreateOrder(ctx, uuid.New())
						if err != nil {
							return err
						}
						orders = append(orders, o.ID)
					}

					var wg sync.WaitGroup
					start := make(chan struct{})
					for _, id := range orders {
						wg.Add(1)
						go func() {
							defer wg.Done()
							<-start
							if _, err := c.AddItems(ctx, id, []uuid.UUID{itemID}); err == nil {
								wins.Add(1)
							}
						}()
					}
					close(start)
					wg.Wait()
					return nil
				},
			},
		},
		Validation: []Assertion{
			{Metric: "orders_holding_item", Condition: equals(1), Message: "Exactly one order should hold the item"},
			{Metric: "successful_requests", Condition: equals(1), Message: "Exactly one request should succeed"},
		},
		Duration: window,
	}
}
