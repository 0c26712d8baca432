package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cimillas/boxoffice/internal/app"
	"github.com/cimillas/boxoffice/internal/delivery"
	"github.com/cimillas/boxoffice/internal/domain"
)

type Checkouter interface {
	Checkout(ctx context.Context, in app.CheckoutInput) (app.CheckoutResult, error)
}

type SaleGetter interface {
	GetSale(ctx context.Context, saleID string) (domain.Sale, []domain.Ticket, error)
}

type Redeliverer interface {
	Redeliver(ctx context.Context, saleID string) (delivery.Batch, error)
}

const idempotencyHeader = "Idempotency-Key"

// HandleCreateSale runs a checkout for one event. A replay of an earlier
// Idempotency-Key answers 200 with the original sale instead of 201.
func HandleCreateSale(svc Checkouter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req createSaleRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := svc.Checkout(r.Context(), app.CheckoutInput{
			PaymentID: strings.TrimSpace(req.PaymentID),
			Sale: app.ProcessSaleInput{
				EventID:            r.PathValue("eventID"),
				Cart:               domain.Cart{Quantities: req.Cart.Quantities, Seats: req.Cart.Seats},
				DeclaredTotalCents: req.DeclaredTotalCents,
				Buyer:              domain.Buyer{Email: strings.TrimSpace(req.Buyer.Email), Name: req.Buyer.Name},
				Attendees:          req.Attendees,
				IdempotencyKey:     strings.TrimSpace(r.Header.Get(idempotencyHeader)),
			},
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		status := http.StatusCreated
		if !res.Created {
			status = http.StatusOK
		}
		resp := toSaleResponse(res.Sale, res.Tickets)
		resp.Created = res.Created
		resp.DeliveryQueued = res.DeliveryQueued
		writeJSON(w, status, resp)
	}
}

func HandleGetSale(svc SaleGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		sale, tickets, err := svc.GetSale(r.Context(), r.PathValue("saleID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSaleResponse(sale, tickets))
	}
}

// HandleRedeliver queues the delivery batch of an existing sale again.
func HandleRedeliver(svc Redeliverer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		batch, err := svc.Redeliver(r.Context(), r.PathValue("saleID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, redeliverResponse{SaleID: batch.SaleID, Tickets: len(batch.Tickets)})
	}
}

type cartRequest struct {
	Quantities map[string]int      `json:"quantities"`
	Seats      map[string][]string `json:"seats,omitempty"`
}

type buyerRequest struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type createSaleRequest struct {
	Cart               cartRequest  `json:"cart"`
	DeclaredTotalCents int64        `json:"declared_total_cents"`
	Buyer              buyerRequest `json:"buyer"`
	Attendees          []string     `json:"attendees,omitempty"`
	PaymentID          string       `json:"payment_id,omitempty"`
}

type ticketResponse struct {
	ID           string     `json:"id"`
	Zone         string     `json:"zone"`
	Seat         string     `json:"seat,omitempty"`
	AttendeeName string     `json:"attendee_name"`
	State        string     `json:"state"`
	RedeemedAt   *time.Time `json:"redeemed_at,omitempty"`
	RedeemedBy   string     `json:"redeemed_by,omitempty"`
}

// toTicketResponse exposes the signed ticket id only.
func toTicketResponse(t domain.Ticket) ticketResponse {
	return ticketResponse{
		ID:           t.SignedID,
		Zone:         t.Zone,
		Seat:         t.Seat,
		AttendeeName: t.AttendeeName,
		State:        string(t.State),
		RedeemedAt:   t.RedeemedAt,
		RedeemedBy:   t.RedeemedBy,
	}
}

type saleResponse struct {
	ID                 string              `json:"id"`
	EventID            string              `json:"event_id"`
	Quantities         map[string]int      `json:"quantities"`
	Seats              map[string][]string `json:"seats,omitempty"`
	BuyerEmail         string              `json:"buyer_email"`
	BuyerName          string              `json:"buyer_name,omitempty"`
	TotalCents         int64               `json:"total_cents"`
	DeclaredTotalCents int64               `json:"declared_total_cents"`
	Payment            *domain.PaymentInfo `json:"payment,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	Tickets            []ticketResponse    `json:"tickets"`
	Created            bool                `json:"created,omitempty"`
	DeliveryQueued     bool                `json:"delivery_queued,omitempty"`
}

func toSaleResponse(sale domain.Sale, tickets []domain.Ticket) saleResponse {
	resp := saleResponse{
		ID:                 sale.ID,
		EventID:            sale.EventID,
		Quantities:         sale.Cart.Quantities,
		Seats:              sale.Cart.Seats,
		BuyerEmail:         sale.Buyer.Email,
		BuyerName:          sale.Buyer.Name,
		TotalCents:         sale.TotalCents,
		DeclaredTotalCents: sale.DeclaredTotalCents,
		CreatedAt:          sale.CreatedAt,
		Tickets:            make([]ticketResponse, 0, len(tickets)),
	}
	if sale.Payment != (domain.PaymentInfo{}) {
		payment := sale.Payment
		resp.Payment = &payment
	}
	for _, t := range tickets {
		resp.Tickets = append(resp.Tickets, toTicketResponse(t))
	}
	return resp
}

type redeliverResponse struct {
	SaleID  string `json:"sale_id"`
	Tickets int    `json:"tickets"`
}
