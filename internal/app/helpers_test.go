package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cimillas/boxoffice/internal/clock"
	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/cimillas/boxoffice/internal/signing"
	"github.com/cimillas/boxoffice/internal/storage/memory"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

var testNow = time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC)

func newTestCodec(t *testing.T) *signing.Codec {
	t.Helper()
	codec, err := signing.New(testKey)
	require.NoError(t, err)
	return codec
}

type fixture struct {
	store *memory.Store
	admin *AdminService
	sales *SaleService
	codec *signing.Codec
	event domain.Event
	zones map[string]domain.Zone
	clock clock.Clock
}

// newFixture creates one event with the given zones on a fresh memory store.
func newFixture(t *testing.T, zones ...CreateZoneInput) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	clk := clock.NewFixed(testNow)
	f := &fixture{
		store: store,
		admin: NewAdminService(store, clk),
		codec: newTestCodec(t),
		zones: make(map[string]domain.Zone),
		clock: clk,
	}
	f.sales = NewSaleService(store, f.codec, clk)

	event, err := f.admin.CreateEvent(ctx, CreateEventInput{Name: "Summer Show", Location: "Main Hall"})
	require.NoError(t, err)
	f.event = event
	for _, z := range zones {
		z.EventID = event.ID
		zone, err := f.admin.CreateZone(ctx, z)
		require.NoError(t, err)
		f.zones[zone.Name] = zone
	}
	return f
}

func (f *fixture) inventory(t *testing.T) domain.Event {
	t.Helper()
	event, err := f.store.GetEvent(context.Background(), f.event.ID)
	require.NoError(t, err)
	return event
}

// sell commits a sale and returns its tickets.
func (f *fixture) sell(t *testing.T, cart domain.Cart, buyer domain.Buyer) []domain.Ticket {
	t.Helper()
	var total int64
	for name, qty := range cart.Quantities {
		total += f.zones[name].PriceCents * int64(qty)
	}
	res, err := f.sales.ProcessSale(context.Background(), ProcessSaleInput{
		EventID:            f.event.ID,
		Cart:               cart,
		DeclaredTotalCents: total,
		Buyer:              buyer,
	})
	require.NoError(t, err)
	return res.Tickets
}

type recordingObserver struct {
	mu       sync.Mutex
	sales    []string
	checkIns []domain.ScanOutcome
}

func (r *recordingObserver) ObserveSale(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sales = append(r.sales, result)
}

func (r *recordingObserver) ObserveCheckIn(outcome domain.ScanOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkIns = append(r.checkIns, outcome)
}
