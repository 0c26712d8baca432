package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/cimillas/boxoffice/internal/app"
	"github.com/cimillas/boxoffice/internal/clock"
	"github.com/cimillas/boxoffice/internal/signing"
	"github.com/cimillas/boxoffice/internal/storage/postgres"
	"github.com/cimillas/boxoffice/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPostgresHarness serves the full router over a freshly truncated
// database. Tests skip when no database is reachable.
func newPostgresHarness(t *testing.T) *apiHarness {
	t.Helper()
	ctx := context.Background()
	pool := testutil.NewTestPool(t)
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	clk := clock.NewFixed(scanTime)
	codec, err := signing.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	sales := app.NewSaleService(postgres.NewSaleRepository(pool), codec, clk)
	handler := NewRouter(Deps{
		Admin:         app.NewAdminService(postgres.NewAdminRepository(pool), clk),
		Checkout:      app.NewCheckoutService(sales, nil, nil),
		Sales:         sales,
		CheckIn:       app.NewCheckInService(postgres.NewCheckInRepository(pool), codec, clk),
		ScannerSecret: scannerSecret,
		HealthChecks:  []HealthCheck{pool.Ping},
		Logger:        zerolog.Nop(),
	})

	token, err := IssueScannerToken(scannerSecret, "gate-pg", time.Hour, time.Now())
	require.NoError(t, err)
	return &apiHarness{t: t, handler: handler, token: token}
}

func TestPostgresAPI_Admin(t *testing.T) {
	h := newPostgresHarness(t)
	eventID := h.seedEvent()

	t.Run("events list with zones", func(t *testing.T) {
		rec := h.do(http.MethodGet, "/admin/events", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		events := decode[[]eventResponse](t, rec)
		require.Len(t, events, 1)
		assert.Equal(t, "Main Hall", events[0].Location)
		assert.Len(t, events[0].Zones, 2)
	})

	t.Run("duplicate zone name conflicts", func(t *testing.T) {
		rec := h.do(http.MethodPost, "/admin/events/"+eventID+"/zones", map[string]any{"name": "GA", "price_cents": 100, "capacity": 1}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	})

	t.Run("capacity only grows", func(t *testing.T) {
		zones := decode[[]zoneResponse](t, h.do(http.MethodGet, "/admin/events/"+eventID+"/zones", nil, nil))
		require.NotEmpty(t, zones)
		path := "/admin/events/" + eventID + "/zones/" + zones[0].ID + "/capacity"

		rec := h.do(http.MethodPost, path, map[string]int{"capacity": 1}, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)

		rec = h.do(http.MethodPost, path, map[string]int{"capacity": zones[0].Capacity + 5}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, zones[0].Capacity+5, decode[zoneResponse](t, rec).Capacity)
	})

	t.Run("malformed event id is not found", func(t *testing.T) {
		rec := h.do(http.MethodGet, "/admin/events/not-a-uuid/zones", nil, nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, codeInvalidID, decode[errorResponse](t, rec).Code)
	})

	t.Run("health pings the database", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health", nil, nil).Code)
	})
}

func TestPostgresAPI_SellAndAdmit(t *testing.T) {
	h := newPostgresHarness(t)
	eventID := h.seedEvent()

	rec := h.do(http.MethodPost, "/events/"+eventID+"/sales", map[string]any{
		"cart": map[string]any{
			"quantities": map[string]int{"VIP": 1},
			"seats":      map[string][]string{"VIP": {"A12"}},
		},
		"declared_total_cents": 10000,
		"buyer":                map[string]string{"email": "lee@example.com"},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decode[saleResponse](t, rec)
	require.Len(t, sale.Tickets, 1)
	signedID := sale.Tickets[0].ID

	checkIn := func() checkInResponse {
		rec := h.do(http.MethodPost, "/events/"+eventID+"/checkins", map[string]string{"payload": signedID}, h.scanner())
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decode[checkInResponse](t, rec)
	}

	first := checkIn()
	assert.True(t, first.Admit)
	assert.Equal(t, "success", first.Outcome)

	second := checkIn()
	assert.False(t, second.Admit)
	assert.Equal(t, "duplicate_attempt", second.Outcome)
	require.NotNil(t, second.Ticket)
	assert.Equal(t, "gate-pg", second.Ticket.RedeemedBy)

	rec = h.do(http.MethodGet, "/events/"+eventID+"/scans", nil, h.scanner())
	require.Equal(t, http.StatusOK, rec.Code)
	scans := decode[[]scanResponse](t, rec)
	require.Len(t, scans, 2)
	assert.Equal(t, "success", scans[0].Outcome)
	assert.Equal(t, "duplicate_attempt", scans[1].Outcome)

	rec = h.do(http.MethodGet, "/admin/events/"+eventID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	event := decode[eventResponse](t, rec)
	assert.Equal(t, int64(1), event.TicketsSold)
	assert.Equal(t, int64(10000), event.RevenueCents)
}
