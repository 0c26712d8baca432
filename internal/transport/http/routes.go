package http

import (
	"net/http"

	"github.com/rs/zerolog"
)

// AdminService covers every admin endpoint.
type AdminService interface {
	AdminEventService
	AdminZoneService
}

// Deps are the services behind the API. Optional ones leave their routes
// unregistered when nil or empty.
type Deps struct {
	Admin    AdminService
	Checkout Checkouter
	Sales    SaleGetter
	CheckIn  CheckInService
	Delivery Redeliverer
	Payments PaymentStatusReader

	// PaymentRecorder and StripeWebhookSecret enable the Stripe webhook.
	PaymentRecorder     PaymentRecorder
	StripeWebhookSecret string

	ScannerSecret []byte
	Metrics       http.Handler
	HealthChecks  []HealthCheck
	Logger        zerolog.Logger
}

// NewRouter registers every route. Scanner routes require a bearer token.
func NewRouter(d Deps) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/health", HealthHandler(d.HealthChecks...))
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	mux.Handle("/admin/events", HandleAdminEvents(d.Admin))
	mux.Handle("/admin/events/{eventID}", HandleAdminEvent(d.Admin))
	mux.Handle("/admin/events/{eventID}/zones", HandleAdminZones(d.Admin))
	mux.Handle("/admin/events/{eventID}/zones/{zoneID}/capacity", HandleIncreaseCapacity(d.Admin))

	mux.Handle("/events/{eventID}/sales", HandleCreateSale(d.Checkout))
	mux.Handle("/sales/{saleID}", HandleGetSale(d.Sales))
	if d.Delivery != nil {
		mux.Handle("/sales/{saleID}/deliveries", HandleRedeliver(d.Delivery))
	}
	if d.Payments != nil {
		mux.Handle("/payments/{paymentID}", HandlePaymentStatus(d.Payments))
	}
	if d.PaymentRecorder != nil && d.StripeWebhookSecret != "" {
		mux.Handle("/payments/stripe/webhook", HandleStripeWebhook(d.StripeWebhookSecret, d.PaymentRecorder, d.Logger))
	}

	mux.Handle("/events/{eventID}/checkins", ScannerAuth(d.ScannerSecret, HandleCheckIn(d.CheckIn)))
	mux.Handle("/events/{eventID}/scans", ScannerAuth(d.ScannerSecret, HandleListScans(d.CheckIn)))

	mux.Handle("/", NotFoundHandler())
	return mux
}
