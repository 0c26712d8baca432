package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/cimillas/boxoffice/internal/signing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaleService_ProcessSale(t *testing.T) {
	ctx := context.Background()

	t.Run("commits sale, tickets and counters", func(t *testing.T) {
		f := newFixture(t,
			CreateZoneInput{Name: "A", Kind: domain.ZoneKindSeated, PriceCents: 5000, Capacity: 100},
			CreateZoneInput{Name: "GA", Kind: domain.ZoneKindCapacity, PriceCents: 2000, Capacity: 10},
		)

		res, err := f.sales.ProcessSale(ctx, ProcessSaleInput{
			EventID: f.event.ID,
			Cart: domain.Cart{
				Quantities: map[string]int{"A": 2, "GA": 1},
				Seats:      map[string][]string{"A": {"12", "13"}},
			},
			DeclaredTotalCents: 12000,
			Buyer:              domain.Buyer{Email: "buyer@example.com", Name: "Pat"},
			Attendees:          []string{"Sam"},
		})
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Equal(t, int64(12000), res.Sale.TotalCents)
		require.Len(t, res.Tickets, 3)

		assert.Equal(t, "A", res.Tickets[0].Zone)
		assert.Equal(t, "12", res.Tickets[0].Seat)
		assert.Equal(t, "Sam", res.Tickets[0].AttendeeName)
		assert.Equal(t, "13", res.Tickets[1].Seat)
		assert.Equal(t, "Pat", res.Tickets[1].AttendeeName)
		assert.Equal(t, "GA", res.Tickets[2].Zone)
		assert.Empty(t, res.Tickets[2].Seat)

		for _, ticket := range res.Tickets {
			assert.Equal(t, domain.StateUnredeemed, ticket.State)
			id, sig, err := signing.Split(ticket.SignedID)
			require.NoError(t, err)
			assert.Equal(t, ticket.ID, id)
			assert.True(t, f.codec.Verify(id, "buyer@example.com", f.event.ID, sig).Valid)
		}

		event := f.inventory(t)
		assert.Equal(t, map[string]int{"A": 2, "GA": 1}, event.SoldByZone())
		assert.Equal(t, int64(3), event.TicketsSold)
		assert.Equal(t, int64(12000), event.RevenueCents)

		sold, err := f.store.FindSoldSeats(ctx, f.event.ID, []string{"A:12", "A:13", "A:14"})
		require.NoError(t, err)
		assert.Equal(t, []string{"A:12", "A:13"}, sold)
	})

	t.Run("rejects invalid input before storage", func(t *testing.T) {
		f := newFixture(t, CreateZoneInput{Name: "GA", PriceCents: 100, Capacity: 10})
		buyer := domain.Buyer{Email: "b@example.com"}

		tests := []struct {
			name string
			in   ProcessSaleInput
			want error
		}{
			{"missing event", ProcessSaleInput{Cart: domain.Cart{Quantities: map[string]int{"GA": 1}}, Buyer: buyer}, domain.ErrInvalidID},
			{"missing email", ProcessSaleInput{EventID: f.event.ID, Cart: domain.Cart{Quantities: map[string]int{"GA": 1}}}, domain.ErrBuyerEmailRequired},
			{"empty cart", ProcessSaleInput{EventID: f.event.ID, Buyer: buyer}, domain.ErrInvalidCart},
			{"zero quantity", ProcessSaleInput{EventID: f.event.ID, Cart: domain.Cart{Quantities: map[string]int{"GA": 0}}, Buyer: buyer}, domain.ErrInvalidQuantity},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.sales.ProcessSale(ctx, tt.in)
				assert.ErrorIs(t, err, tt.want)
			})
		}
	})

	t.Run("rejects carts that do not fit zone definitions", func(t *testing.T) {
		f := newFixture(t,
			CreateZoneInput{Name: "A", Kind: domain.ZoneKindSeated, PriceCents: 100, Capacity: 10},
			CreateZoneInput{Name: "GA", Kind: domain.ZoneKindCapacity, PriceCents: 100, Capacity: 10},
		)
		buyer := domain.Buyer{Email: "b@example.com"}

		tests := []struct {
			name string
			cart domain.Cart
			want error
		}{
			{"unknown zone", domain.Cart{Quantities: map[string]int{"Balcony": 1}}, domain.ErrZoneNotFound},
			{"seated zone without seats", domain.Cart{Quantities: map[string]int{"A": 1}}, domain.ErrInvalidCart},
			{"seats in capacity zone", domain.Cart{Quantities: map[string]int{"GA": 1}, Seats: map[string][]string{"GA": {"1"}}}, domain.ErrInvalidCart},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.sales.ProcessSale(ctx, ProcessSaleInput{EventID: f.event.ID, Cart: tt.cart, DeclaredTotalCents: 100, Buyer: buyer})
				assert.ErrorIs(t, err, tt.want)
			})
		}
		assert.Zero(t, f.inventory(t).TicketsSold)
	})

	t.Run("unknown event", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.sales.ProcessSale(ctx, ProcessSaleInput{
			EventID: newUUID(),
			Cart:    domain.Cart{Quantities: map[string]int{"GA": 1}},
			Buyer:   domain.Buyer{Email: "b@example.com"},
		})
		assert.ErrorIs(t, err, domain.ErrEventNotFound)
	})

	t.Run("seat collision leaves no trace", func(t *testing.T) {
		f := newFixture(t, CreateZoneInput{Name: "A", Kind: domain.ZoneKindSeated, PriceCents: 100, Capacity: 10})
		f.sell(t, domain.Cart{Quantities: map[string]int{"A": 1}, Seats: map[string][]string{"A": {"12"}}}, domain.Buyer{Email: "first@example.com"})

		_, err := f.sales.ProcessSale(ctx, ProcessSaleInput{
			EventID:            f.event.ID,
			Cart:               domain.Cart{Quantities: map[string]int{"A": 2}, Seats: map[string][]string{"A": {"11", "12"}}},
			DeclaredTotalCents: 200,
			Buyer:              domain.Buyer{Email: "second@example.com"},
		})
		var conflict *domain.SeatConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, []string{"A:12"}, conflict.Seats)

		sold, err := f.store.FindSoldSeats(ctx, f.event.ID, []string{"A:11"})
		require.NoError(t, err)
		assert.Empty(t, sold)
		assert.Equal(t, 1, f.inventory(t).SoldByZone()["A"])
	})

	t.Run("capacity exceeded", func(t *testing.T) {
		f := newFixture(t, CreateZoneInput{Name: "GA", PriceCents: 100, Capacity: 2})

		_, err := f.sales.ProcessSale(ctx, ProcessSaleInput{
			EventID:            f.event.ID,
			Cart:               domain.Cart{Quantities: map[string]int{"GA": 3}},
			DeclaredTotalCents: 300,
			Buyer:              domain.Buyer{Email: "b@example.com"},
		})
		var capErr *domain.CapacityError
		require.ErrorAs(t, err, &capErr)
		assert.Equal(t, "GA", capErr.Zone)
		assert.Equal(t, 2, capErr.Available)
	})

	t.Run("idempotent replay returns the original sale", func(t *testing.T) {
		f := newFixture(t, CreateZoneInput{Name: "GA", PriceCents: 100, Capacity: 10})
		in := ProcessSaleInput{
			EventID:            f.event.ID,
			Cart:               domain.Cart{Quantities: map[string]int{"GA": 2}},
			DeclaredTotalCents: 200,
			Buyer:              domain.Buyer{Email: "b@example.com"},
			IdempotencyKey:     "checkout-1",
		}

		first, err := f.sales.ProcessSale(ctx, in)
		require.NoError(t, err)
		second, err := f.sales.ProcessSale(ctx, in)
		require.NoError(t, err)

		assert.False(t, second.Created)
		assert.Equal(t, first.Sale.ID, second.Sale.ID)
		require.Len(t, second.Tickets, 2)
		assert.Equal(t, first.Tickets[0].SignedID, second.Tickets[0].SignedID)
		assert.Equal(t, 2, f.inventory(t).SoldByZone()["GA"])

		in.Cart = domain.Cart{Quantities: map[string]int{"GA": 3}}
		_, err = f.sales.ProcessSale(ctx, in)
		assert.ErrorIs(t, err, domain.ErrIdempotencyConflict)
	})
}

func TestSaleService_OversizedCarts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		CreateZoneInput{Name: "A", Kind: domain.ZoneKindCapacity, PriceCents: 1000, Capacity: 2},
		CreateZoneInput{Name: "B", Kind: domain.ZoneKindCapacity, PriceCents: 1000, Capacity: 2},
		CreateZoneInput{Name: "C", Kind: domain.ZoneKindCapacity, PriceCents: 1000, Capacity: 10},
	)
	f.sell(t, domain.Cart{Quantities: map[string]int{"A": 1, "B": 1}}, domain.Buyer{Email: "first@example.com"})
	before := f.inventory(t)

	tests := []struct {
		name string
		cart map[string]int
		want error
	}{
		{"one huge line", map[string]int{"A": 1 << 40}, domain.ErrInvalidQuantity},
		{"lines summing past MaxInt", map[string]int{"A": math.MaxInt, "B": math.MaxInt, "C": 3}, domain.ErrInvalidQuantity},
		{"negative wrap", map[string]int{"A": math.MinInt}, domain.ErrInvalidQuantity},
		{"sale ceiling across zones", map[string]int{"A": 1, "C": domain.MaxUnitsPerSale}, domain.ErrInvalidQuantity},
		{"bounded but over remaining capacity", map[string]int{"A": 2}, domain.ErrCapacityExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sales.ProcessSale(ctx, ProcessSaleInput{
				EventID:            f.event.ID,
				Cart:               domain.Cart{Quantities: tt.cart},
				DeclaredTotalCents: 3000,
				Buyer:              domain.Buyer{Email: "big@example.com"},
			})
			assert.ErrorIs(t, err, tt.want)

			after := f.inventory(t)
			assert.Equal(t, before.SoldByZone(), after.SoldByZone())
			assert.Equal(t, before.TicketsSold, after.TicketsSold)
			assert.Equal(t, before.RevenueCents, after.RevenueCents)
		})
	}
}

func TestSaleService_PriceMismatchPolicy(t *testing.T) {
	ctx := context.Background()
	in := func(f *fixture) ProcessSaleInput {
		return ProcessSaleInput{
			EventID:            f.event.ID,
			Cart:               domain.Cart{Quantities: map[string]int{"GA": 2}},
			DeclaredTotalCents: 1,
			Buyer:              domain.Buyer{Email: "b@example.com"},
		}
	}

	t.Run("overwrite charges the server total and logs", func(t *testing.T) {
		f := newFixture(t, CreateZoneInput{Name: "GA", PriceCents: 750, Capacity: 10})
		var buf bytes.Buffer
		svc := NewSaleService(f.store, f.codec, f.clock, WithSaleLogger(zerolog.New(&buf)))

		res, err := svc.ProcessSale(ctx, in(f))
		require.NoError(t, err)
		assert.Equal(t, int64(1500), res.Sale.TotalCents)
		assert.Equal(t, int64(1), res.Sale.DeclaredTotalCents)
		assert.Equal(t, int64(1500), f.inventory(t).RevenueCents)
		assert.Contains(t, buf.String(), `"level":"warn"`)
		assert.Contains(t, buf.String(), `"declared_total_cents":1`)
	})

	t.Run("reject fails without effect", func(t *testing.T) {
		f := newFixture(t, CreateZoneInput{Name: "GA", PriceCents: 750, Capacity: 10})
		svc := NewSaleService(f.store, f.codec, f.clock, WithPriceMismatchPolicy(PriceMismatchReject))

		_, err := svc.ProcessSale(ctx, in(f))
		assert.ErrorIs(t, err, domain.ErrTotalMismatch)
		assert.Zero(t, f.inventory(t).TicketsSold)
	})
}

func TestSaleService_ObservesResults(t *testing.T) {
	f := newFixture(t, CreateZoneInput{Name: "GA", PriceCents: 100, Capacity: 1})
	obs := &recordingObserver{}
	svc := NewSaleService(f.store, f.codec, f.clock, WithSaleObserver(obs))
	in := ProcessSaleInput{
		EventID:            f.event.ID,
		Cart:               domain.Cart{Quantities: map[string]int{"GA": 1}},
		DeclaredTotalCents: 100,
		Buyer:              domain.Buyer{Email: "b@example.com"},
	}

	_, err := svc.ProcessSale(context.Background(), in)
	require.NoError(t, err)
	_, err = svc.ProcessSale(context.Background(), in)
	require.Error(t, err)

	assert.Equal(t, []string{"committed", "capacity_exceeded"}, obs.sales)
}

func TestSaleService_ConcurrentCapacity(t *testing.T) {
	t.Run("two buyers for the last VIP slot", func(t *testing.T) {
		f := newFixture(t, CreateZoneInput{Name: "VIP", PriceCents: 100, Capacity: 1})

		errs := make([]error, 2)
		var wg sync.WaitGroup
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.sales.ProcessSale(context.Background(), ProcessSaleInput{
					EventID:            f.event.ID,
					Cart:               domain.Cart{Quantities: map[string]int{"VIP": 1}},
					DeclaredTotalCents: 100,
					Buyer:              domain.Buyer{Email: fmt.Sprintf("buyer%d@example.com", i)},
				})
			}(i)
		}
		wg.Wait()

		var committed, rejected int
		for _, err := range errs {
			switch {
			case err == nil:
				committed++
			case errors.Is(err, domain.ErrCapacityExceeded):
				rejected++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, committed)
		assert.Equal(t, 1, rejected)
		assert.Equal(t, 1, f.inventory(t).SoldByZone()["VIP"])
	})

	t.Run("never oversells", func(t *testing.T) {
		const capacity = 25
		f := newFixture(t, CreateZoneInput{Name: "GA", PriceCents: 100, Capacity: capacity})

		var (
			mu        sync.Mutex
			committed int
			wg        sync.WaitGroup
		)
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				qty := i%3 + 1
				_, err := f.sales.ProcessSale(context.Background(), ProcessSaleInput{
					EventID:            f.event.ID,
					Cart:               domain.Cart{Quantities: map[string]int{"GA": qty}},
					DeclaredTotalCents: int64(qty * 100),
					Buyer:              domain.Buyer{Email: "b@example.com"},
				})
				if err == nil {
					mu.Lock()
					committed += qty
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
				}
			}(i)
		}
		wg.Wait()

		assert.LessOrEqual(t, committed, capacity)
		event := f.inventory(t)
		assert.Equal(t, committed, event.SoldByZone()["GA"])
		assert.Equal(t, int64(committed), event.TicketsSold)
	})
}

func TestSaleService_ConcurrentSeats(t *testing.T) {
	f := newFixture(t, CreateZoneInput{Name: "A", Kind: domain.ZoneKindSeated, PriceCents: 100, Capacity: 100})

	var (
		mu     sync.Mutex
		owners = make(map[string]string)
		wg     sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Neighbouring buyers overlap on one seat.
			seats := []string{fmt.Sprint(i), fmt.Sprint(i + 1)}
			res, err := f.sales.ProcessSale(context.Background(), ProcessSaleInput{
				EventID:            f.event.ID,
				Cart:               domain.Cart{Quantities: map[string]int{"A": 2}, Seats: map[string][]string{"A": seats}},
				DeclaredTotalCents: 200,
				Buyer:              domain.Buyer{Email: "b@example.com"},
			})
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrSeatAlreadySold)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, ticket := range res.Tickets {
				if prev, dup := owners[ticket.SeatKey()]; dup {
					t.Errorf("seat %s sold to %s and %s", ticket.SeatKey(), prev, res.Sale.ID)
				}
				owners[ticket.SeatKey()] = res.Sale.ID
			}
		}(i)
	}
	wg.Wait()

	assert.NotEmpty(t, owners)
	assert.Equal(t, len(owners), f.inventory(t).SoldByZone()["A"])
}
