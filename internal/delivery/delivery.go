// Package delivery hands completed sales to the email collaborator. Delivery
// never affects inventory: a batch can be rebuilt and republished from the
// stored sale at any time.
package delivery

import (
	"context"
	"fmt"

	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/cimillas/boxoffice/internal/scanpayload"
	"github.com/rs/zerolog"
)

// Record is one ticket as the buyer receives it.
type Record struct {
	TicketID       string `json:"ticket_id"`
	SignedTicketID string `json:"signed_ticket_id"`
	Zone           string `json:"zone"`
	Seat           string `json:"seat,omitempty"`
	AttendeeName   string `json:"attendee_name"`
	EventName      string `json:"event_name"`
	EventDate      string `json:"event_date"`
	EventTime      string `json:"event_time"`
	Location       string `json:"location"`
	// QRPayload is the compact scan payload to render as a QR code.
	QRPayload string `json:"qr_payload"`
}

// Batch is everything delivered for one sale.
type Batch struct {
	SaleID     string   `json:"sale_id"`
	BuyerEmail string   `json:"buyer_email"`
	BuyerName  string   `json:"buyer_name"`
	Tickets    []Record `json:"tickets"`
}

type Publisher interface {
	Publish(ctx context.Context, batch Batch) error
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// BuildBatch renders the delivery batch of a sale. Tickets must carry their
// SignedID.
func BuildBatch(event domain.Event, sale domain.Sale, tickets []domain.Ticket) (Batch, error) {
	batch := Batch{
		SaleID:     sale.ID,
		BuyerEmail: sale.Buyer.Email,
		BuyerName:  sale.Buyer.Name,
		Tickets:    make([]Record, 0, len(tickets)),
	}
	for _, t := range tickets {
		qr, err := scanpayload.EncodeCompact(scanpayload.Payload{
			SignedTicketID: t.SignedID,
			EventID:        t.EventID,
			Email:          t.BuyerEmail,
		})
		if err != nil {
			return Batch{}, fmt.Errorf("ticket %s: %w", t.ID, err)
		}
		batch.Tickets = append(batch.Tickets, Record{
			TicketID:       t.ID,
			SignedTicketID: t.SignedID,
			Zone:           t.Zone,
			Seat:           t.Seat,
			AttendeeName:   t.AttendeeName,
			EventName:      event.Name,
			EventDate:      event.StartsAt.Format(dateLayout),
			EventTime:      event.StartsAt.Format(timeLayout),
			Location:       event.Location,
			QRPayload:      qr,
		})
	}
	return batch, nil
}

// LogPublisher only logs batches. It stands in when no broker is configured.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, batch Batch) error {
	p.Logger.Info().
		Str("sale_id", batch.SaleID).
		Str("buyer_email", batch.BuyerEmail).
		Int("tickets", len(batch.Tickets)).
		Msg("delivery batch (no broker configured)")
	return nil
}
