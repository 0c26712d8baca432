package app

import (
	"context"
	"fmt"

	"github.com/cimillas/boxoffice/internal/delivery"
	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/rs/zerolog"
)

type EventReader interface {
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
}

type SaleReader interface {
	GetSale(ctx context.Context, saleID string) (domain.Sale, []domain.Ticket, error)
}

// DeliveryService hands sales to the delivery collaborator. It reads
// inventory state but never changes it.
type DeliveryService struct {
	events    EventReader
	sales     SaleReader
	publisher delivery.Publisher
	logger    zerolog.Logger
}

func NewDeliveryService(events EventReader, sales SaleReader, publisher delivery.Publisher, logger zerolog.Logger) *DeliveryService {
	return &DeliveryService{
		events:    events,
		sales:     sales,
		publisher: publisher,
		logger:    logger,
	}
}

// Deliver publishes the batch of a committed sale. Tickets must carry their
// SignedID.
func (s *DeliveryService) Deliver(ctx context.Context, sale domain.Sale, tickets []domain.Ticket) (delivery.Batch, error) {
	if s.publisher == nil {
		return delivery.Batch{}, domain.ErrDeliveryNotConfigured
	}
	event, err := s.events.GetEvent(ctx, sale.EventID)
	if err != nil {
		return delivery.Batch{}, err
	}
	batch, err := delivery.BuildBatch(event, sale, tickets)
	if err != nil {
		return delivery.Batch{}, fmt.Errorf("build delivery: %w", err)
	}
	if err := s.publisher.Publish(ctx, batch); err != nil {
		return delivery.Batch{}, fmt.Errorf("publish delivery: %w", err)
	}
	s.logger.Info().Str("sale_id", sale.ID).Int("tickets", len(tickets)).Msg("delivery queued")
	return batch, nil
}

// Redeliver rebuilds and republishes the batch of an existing sale.
func (s *DeliveryService) Redeliver(ctx context.Context, saleID string) (delivery.Batch, error) {
	sale, tickets, err := s.sales.GetSale(ctx, saleID)
	if err != nil {
		return delivery.Batch{}, err
	}
	return s.Deliver(ctx, sale, tickets)
}
