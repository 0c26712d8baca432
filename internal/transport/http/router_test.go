package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cimillas/boxoffice/internal/app"
	"github.com/cimillas/boxoffice/internal/clock"
	"github.com/cimillas/boxoffice/internal/delivery"
	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/cimillas/boxoffice/internal/payment"
	"github.com/cimillas/boxoffice/internal/signing"
	"github.com/cimillas/boxoffice/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go"
)

const webhookSecret = "whsec_test"

var scanTime = time.Date(2025, 6, 1, 19, 30, 0, 0, time.UTC)

type apiHarness struct {
	t       *testing.T
	handler http.Handler
	tracker *payment.Tracker
	token   string
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	store := memory.New()
	clk := clock.NewFixed(scanTime)
	codec, err := signing.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	tracker := payment.NewTracker(nil)
	poller := payment.NewPoller(tracker, payment.WithInterval(5*time.Millisecond), payment.WithTimeout(50*time.Millisecond))
	sales := app.NewSaleService(store, codec, clk)

	handler := NewRouter(Deps{
		Admin:               app.NewAdminService(store, clk),
		Checkout:            app.NewCheckoutService(sales, poller, nil),
		Sales:               sales,
		CheckIn:             app.NewCheckInService(store, codec, clk),
		Payments:            tracker,
		PaymentRecorder:     tracker,
		StripeWebhookSecret: webhookSecret,
		ScannerSecret:       scannerSecret,
		Logger:              zerolog.Nop(),
	})

	token, err := IssueScannerToken(scannerSecret, "gate-1", time.Hour, time.Now())
	require.NoError(t, err)
	return &apiHarness{t: t, handler: handler, tracker: tracker, token: token}
}

func (h *apiHarness) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) scanner() http.Header {
	return http.Header{"Authorization": {"Bearer " + h.token}}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

// seedEvent creates an event with GA (capacity 2, 5000) and seated VIP
// (capacity 10, 10000) zones.
func (h *apiHarness) seedEvent() string {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/admin/events", map[string]any{"name": "Summer Show", "location": "Main Hall"}, nil)
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	event := decode[eventResponse](h.t, rec)

	for _, z := range []map[string]any{
		{"name": "GA", "price_cents": 5000, "capacity": 2},
		{"name": "VIP", "kind": "seat-addressed", "price_cents": 10000, "capacity": 10},
	} {
		rec := h.do(http.MethodPost, "/admin/events/"+event.ID+"/zones", z, nil)
		require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	return event.ID
}

func TestRouter_SaleAndCheckInFlow(t *testing.T) {
	h := newAPIHarness(t)
	eventID := h.seedEvent()

	saleBody := map[string]any{
		"cart": map[string]any{
			"quantities": map[string]int{"GA": 1, "VIP": 1},
			"seats":      map[string][]string{"VIP": {"A1"}},
		},
		"declared_total_cents": 15000,
		"buyer":                map[string]string{"email": "ana@example.com", "name": "Ana"},
	}
	idem := http.Header{"Idempotency-Key": {"order-1"}}

	rec := h.do(http.MethodPost, "/events/"+eventID+"/sales", saleBody, idem)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sale := decode[saleResponse](t, rec)
	require.Len(t, sale.Tickets, 2)
	assert.True(t, sale.Created)
	assert.Equal(t, int64(15000), sale.TotalCents)

	t.Run("replay returns the original sale", func(t *testing.T) {
		rec := h.do(http.MethodPost, "/events/"+eventID+"/sales", saleBody, idem)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, sale.ID, decode[saleResponse](t, rec).ID)
	})

	t.Run("sold seat is refused", func(t *testing.T) {
		rec := h.do(http.MethodPost, "/events/"+eventID+"/sales", saleBody, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		resp := decode[errorResponse](t, rec)
		assert.Equal(t, codeSeatAlreadySold, resp.Code)
		assert.Equal(t, []string{"VIP:A1"}, resp.Seats)
	})

	t.Run("capacity is enforced", func(t *testing.T) {
		rec := h.do(http.MethodPost, "/events/"+eventID+"/sales", map[string]any{
			"cart":                 map[string]any{"quantities": map[string]int{"GA": 2}},
			"declared_total_cents": 10000,
			"buyer":                map[string]string{"email": "bo@example.com"},
		}, nil)
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, codeInsufficientCapacity, decode[errorResponse](t, rec).Code)
	})

	t.Run("sale can be read back", func(t *testing.T) {
		rec := h.do(http.MethodGet, "/sales/"+sale.ID, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[saleResponse](t, rec)
		assert.Len(t, got.Tickets, 2)
		assert.Equal(t, "ana@example.com", got.BuyerEmail)
	})

	t.Run("check-in requires a scanner token", func(t *testing.T) {
		rec := h.do(http.MethodPost, "/events/"+eventID+"/checkins", map[string]string{"payload": sale.Tickets[0].ID}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("first scan admits, second reports the first", func(t *testing.T) {
		rec := h.do(http.MethodPost, "/events/"+eventID+"/checkins", map[string]string{"payload": sale.Tickets[0].ID}, h.scanner())
		require.Equal(t, http.StatusOK, rec.Code)
		first := decode[checkInResponse](t, rec)
		assert.Equal(t, string(domain.OutcomeSuccess), first.Outcome)
		assert.True(t, first.Admit)
		assert.Equal(t, "Admit", first.Message)
		require.NotNil(t, first.Ticket)
		assert.Equal(t, "gate-1", first.Ticket.RedeemedBy)

		rec = h.do(http.MethodPost, "/events/"+eventID+"/checkins", map[string]string{"payload": sale.Tickets[0].ID}, h.scanner())
		require.Equal(t, http.StatusOK, rec.Code)
		second := decode[checkInResponse](t, rec)
		assert.Equal(t, string(domain.OutcomeDuplicateAttempt), second.Outcome)
		assert.False(t, second.Admit)
		assert.Equal(t, "Ticket already used at 2025-06-01T19:30:00Z by gate-1", second.Message)
	})

	t.Run("ticket for another event", func(t *testing.T) {
		other := h.seedEvent()
		rec := h.do(http.MethodPost, "/events/"+other+"/checkins", map[string]string{"payload": sale.Tickets[1].ID}, h.scanner())
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[checkInResponse](t, rec)
		assert.Equal(t, string(domain.OutcomeWrongEvent), resp.Outcome)
		assert.Equal(t, "Ticket is for a different event", resp.Message)
		assert.Nil(t, resp.Ticket)
	})

	t.Run("tampered signature", func(t *testing.T) {
		id, _, err := signing.Split(sale.Tickets[1].ID)
		require.NoError(t, err)
		rec := h.do(http.MethodPost, "/events/"+eventID+"/checkins", map[string]string{"payload": id + ".AAAA"}, h.scanner())
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[checkInResponse](t, rec)
		assert.Equal(t, string(domain.OutcomeInvalidSignature), resp.Outcome)
		assert.Equal(t, "Ticket could not be verified", resp.Message)
	})

	t.Run("scan log lists every attempt at the event", func(t *testing.T) {
		rec := h.do(http.MethodGet, "/events/"+eventID+"/scans", nil, h.scanner())
		require.Equal(t, http.StatusOK, rec.Code)
		scans := decode[[]scanResponse](t, rec)
		require.Len(t, scans, 3)
		assert.Equal(t, string(domain.OutcomeSuccess), scans[0].Outcome)
		assert.Equal(t, string(domain.OutcomeDuplicateAttempt), scans[1].Outcome)
		assert.Equal(t, string(domain.OutcomeInvalidSignature), scans[2].Outcome)
		for _, s := range scans {
			assert.Equal(t, "gate-1", s.Redeemer)
		}
	})
}

func TestRouter_UnknownTicket(t *testing.T) {
	h := newAPIHarness(t)
	eventID := h.seedEvent()

	rec := h.do(http.MethodPost, "/events/"+eventID+"/checkins", map[string]string{"payload": "00000000-0000-0000-0000-000000000001.AAAA"}, h.scanner())
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[checkInResponse](t, rec)
	assert.Equal(t, string(domain.OutcomeTicketNotFound), resp.Outcome)
	assert.Equal(t, "Ticket not found", resp.Message)
}

func TestRouter_MethodsAndUnknownRoutes(t *testing.T) {
	h := newAPIHarness(t)

	assert.Equal(t, http.StatusMethodNotAllowed, h.do(http.MethodDelete, "/admin/events", nil, nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, h.do(http.MethodPost, "/sales/abc", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/nowhere", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/metrics", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/sales/abc/deliveries", nil, nil).Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health", nil, nil).Code)

	rec := h.do(http.MethodPost, "/admin/events", map[string]any{"name": "x", "unknown": true}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, codeInvalidRequestBody, decode[errorResponse](t, rec).Code)
}

func signStripe(payload []byte, secret string) string {
	ts := fmt.Sprint(time.Now().Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(payload)))
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestRouter_PaymentGate(t *testing.T) {
	h := newAPIHarness(t)
	eventID := h.seedEvent()

	succeeded := func(paymentID string, amount int64) []byte {
		return []byte(fmt.Sprintf(`{"id":"evt_%s","object":"event","api_version":%q,"type":"payment_intent.succeeded","data":{"object":{"id":%q,"object":"payment_intent","amount":%d,"currency":"eur"}}}`,
			paymentID, stripe.APIVersion, paymentID, amount))
	}
	deliver := func(t *testing.T, payload []byte) {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, "/payments/stripe/webhook", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", signStripe(payload, webhookSecret))
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	payload := succeeded("pi_ok", 5000)

	t.Run("webhook with a bad signature is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/payments/stripe/webhook", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", signStripe(payload, "whsec_other"))
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	deliver(t, payload)

	rec := h.do(http.MethodGet, "/payments/pi_ok", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[paymentStatusResponse](t, rec)
	assert.Equal(t, string(domain.PaymentCompleted), status.Status)
	assert.Equal(t, int64(5000), status.AmountCents)
	assert.Equal(t, "eur", status.Currency)

	body := func(paymentID string) map[string]any {
		return map[string]any{
			"cart":                 map[string]any{"quantities": map[string]int{"GA": 1}},
			"declared_total_cents": 5000,
			"buyer":                map[string]string{"email": "ana@example.com"},
			"payment_id":           paymentID,
		}
	}

	t.Run("completed payment lets the sale through", func(t *testing.T) {
		rec := h.do(http.MethodPost, "/events/"+eventID+"/sales", body("pi_ok"), nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		sale := decode[saleResponse](t, rec)
		require.NotNil(t, sale.Payment)
		assert.Equal(t, "pi_ok", sale.Payment.Reference)
		assert.Equal(t, string(domain.PaymentCompleted), sale.Payment.Status)
	})

	t.Run("a paid payment cannot buy a second order", func(t *testing.T) {
		rec := h.do(http.MethodPost, "/events/"+eventID+"/sales", body("pi_ok"), nil)
		require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
		assert.Equal(t, codePaymentAlreadyUsed, decode[errorResponse](t, rec).Code)

		event := decode[eventResponse](t, h.do(http.MethodGet, "/admin/events/"+eventID, nil, nil))
		assert.Equal(t, int64(1), event.TicketsSold)
	})

	t.Run("underpaid payment is refused", func(t *testing.T) {
		deliver(t, succeeded("pi_cheap", 1))

		rec := h.do(http.MethodPost, "/events/"+eventID+"/sales", body("pi_cheap"), nil)
		require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())
		assert.Equal(t, codePaymentAmountMismatch, decode[errorResponse](t, rec).Code)

		event := decode[eventResponse](t, h.do(http.MethodGet, "/admin/events/"+eventID, nil, nil))
		assert.Equal(t, int64(1), event.TicketsSold)
	})

	t.Run("unconfirmed payment expires with no sale", func(t *testing.T) {
		rec := h.do(http.MethodPost, "/events/"+eventID+"/sales", body("pi_never"), nil)
		require.Equal(t, http.StatusPaymentRequired, rec.Code)
		resp := decode[errorResponse](t, rec)
		assert.Equal(t, codePaymentNotCompleted, resp.Code)
		assert.Equal(t, string(domain.PaymentExpired), resp.Status)

		event := decode[eventResponse](t, h.do(http.MethodGet, "/admin/events/"+eventID, nil, nil))
		assert.Equal(t, int64(1), event.TicketsSold)
	})
}

type fakeRedeliverer struct{ saleID string }

func (f *fakeRedeliverer) Redeliver(_ context.Context, saleID string) (delivery.Batch, error) {
	f.saleID = saleID
	return delivery.Batch{SaleID: saleID, Tickets: make([]delivery.Record, 2)}, nil
}

func TestRouter_Redeliver(t *testing.T) {
	fake := &fakeRedeliverer{}
	handler := NewRouter(Deps{Delivery: fake})

	req := httptest.NewRequest(http.MethodPost, "/sales/sale-9/deliveries", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "sale-9", fake.saleID)
	assert.Equal(t, redeliverResponse{SaleID: "sale-9", Tickets: 2}, decode[redeliverResponse](t, rec))
}

func TestHandleCheckIn_UsesTokenSubject(t *testing.T) {
	var got app.CheckInInput
	svc := checkInFunc(func(_ context.Context, in app.CheckInInput) (app.CheckInResult, error) {
		got = in
		return app.CheckInResult{Outcome: domain.OutcomeTicketNotFound}, nil
	})
	handler := NewRouter(Deps{CheckIn: svc, ScannerSecret: scannerSecret})
	token, err := IssueScannerToken(scannerSecret, "door-7", time.Hour, time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/events/ev-1/checkins", strings.NewReader(`{"payload":"x.y"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, app.CheckInInput{Payload: "x.y", EventID: "ev-1", Redeemer: "door-7"}, got)
}

type checkInFunc func(ctx context.Context, in app.CheckInInput) (app.CheckInResult, error)

func (f checkInFunc) CheckIn(ctx context.Context, in app.CheckInInput) (app.CheckInResult, error) {
	return f(ctx, in)
}

func (f checkInFunc) ListScans(context.Context, string) ([]domain.ScanLogEntry, error) {
	return nil, nil
}
