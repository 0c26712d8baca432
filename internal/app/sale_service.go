package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cimillas/boxoffice/internal/clock"
	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/cimillas/boxoffice/internal/signing"
	"github.com/rs/zerolog"
)

// SaleRepository is the storage the sale transaction needs. WithTx runs fn
// as one atomic, serializable unit and re-runs it on conflicting concurrent
// writes; every other method joins the transaction carried by ctx.
type SaleRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetEventInventory(ctx context.Context, eventID string) (domain.Event, error)
	FindSaleByIdempotencyKey(ctx context.Context, eventID, key string) (*domain.Sale, error)
	FindSaleByPayment(ctx context.Context, provider, reference string) (*domain.Sale, error)
	GetSale(ctx context.Context, saleID string) (domain.Sale, error)
	ListTicketsBySale(ctx context.Context, saleID string) ([]domain.Ticket, error)
	FindSoldSeats(ctx context.Context, eventID string, seatKeys []string) ([]string, error)
	CreateSale(ctx context.Context, sale domain.Sale) error
	CreateTickets(ctx context.Context, tickets []domain.Ticket) error
	ApplyInventoryDelta(ctx context.Context, delta domain.InventoryDelta) error
}

// Signer signs ticket identifiers.
type Signer interface {
	Sign(ticketID, buyerEmail, eventID string) string
}

// PriceMismatchPolicy decides what happens when the caller-declared total
// differs from the server-side total. The discrepancy is logged either way.
type PriceMismatchPolicy string

const (
	// PriceMismatchOverwrite charges the server-side total.
	PriceMismatchOverwrite PriceMismatchPolicy = "overwrite"
	// PriceMismatchReject fails the sale with ErrTotalMismatch.
	PriceMismatchReject PriceMismatchPolicy = "reject"
)

func (p PriceMismatchPolicy) Valid() bool {
	return p == PriceMismatchOverwrite || p == PriceMismatchReject
}

type SaleService struct {
	repo     SaleRepository
	signer   Signer
	clock    clock.Clock
	policy   PriceMismatchPolicy
	currency string
	logger   zerolog.Logger
	observer Observer
}

type SaleServiceOption func(*SaleService)

func WithPriceMismatchPolicy(p PriceMismatchPolicy) SaleServiceOption {
	return func(s *SaleService) {
		if p.Valid() {
			s.policy = p
		}
	}
}

// DefaultCurrency is the currency zone prices are quoted in.
const DefaultCurrency = "eur"

// WithCurrency sets the currency zone prices are quoted in. A paid sale
// must be paid in it.
func WithCurrency(code string) SaleServiceOption {
	return func(s *SaleService) {
		if code != "" {
			s.currency = strings.ToLower(code)
		}
	}
}

func WithSaleLogger(l zerolog.Logger) SaleServiceOption {
	return func(s *SaleService) { s.logger = l }
}

func WithSaleObserver(o Observer) SaleServiceOption {
	return func(s *SaleService) {
		if o != nil {
			s.observer = o
		}
	}
}

func NewSaleService(repo SaleRepository, signer Signer, clk clock.Clock, opts ...SaleServiceOption) *SaleService {
	svc := &SaleService{
		repo:     repo,
		signer:   signer,
		clock:    clk,
		policy:   PriceMismatchOverwrite,
		currency: DefaultCurrency,
		logger:   zerolog.Nop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type ProcessSaleInput struct {
	EventID            string
	Cart               domain.Cart
	DeclaredTotalCents int64
	Buyer              domain.Buyer
	// Attendees names tickets in issue order; missing names fall back to the buyer.
	Attendees []string
	// Payment, when it carries a Reference, must cover the computed total
	// and must not have paid for any other sale.
	Payment        domain.PaymentInfo
	IdempotencyKey string
}

type ProcessSaleResult struct {
	Sale    domain.Sale
	Tickets []domain.Ticket
	Created bool
}

// ProcessSale reserves the cart against the event and records the sale and
// its tickets in one transaction. It either commits everything or nothing.
func (s *SaleService) ProcessSale(ctx context.Context, in ProcessSaleInput) (res ProcessSaleResult, err error) {
	defer func() { s.observer.ObserveSale(saleResult(err)) }()

	if in.EventID == "" {
		return ProcessSaleResult{}, domain.ErrInvalidID
	}
	if strings.TrimSpace(in.Buyer.Email) == "" {
		return ProcessSaleResult{}, domain.ErrBuyerEmailRequired
	}
	if err := in.Cart.Validate(); err != nil {
		return ProcessSaleResult{}, err
	}

	// Identifiers are minted once so a re-executed transaction writes the
	// same keys. Validate bounded Units above.
	saleID := newUUID()
	ticketIDs := make([]string, in.Cart.Units())
	for i := range ticketIDs {
		ticketIDs[i] = newUUID()
	}
	now := s.clock.Now()

	var result ProcessSaleResult
	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if in.IdempotencyKey != "" {
			existing, err := s.repo.FindSaleByIdempotencyKey(txCtx, in.EventID, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				if !existing.Cart.Equal(in.Cart) {
					return domain.ErrIdempotencyConflict
				}
				tickets, err := s.repo.ListTicketsBySale(txCtx, existing.ID)
				if err != nil {
					return err
				}
				result = ProcessSaleResult{Sale: *existing, Tickets: tickets, Created: false}
				return nil
			}
		}

		if ref := in.Payment.Reference; ref != "" {
			used, err := s.repo.FindSaleByPayment(txCtx, in.Payment.Provider, ref)
			if err != nil {
				return err
			}
			if used != nil {
				return fmt.Errorf("%w: %s", domain.ErrPaymentAlreadyUsed, ref)
			}
		}

		event, err := s.repo.GetEventInventory(txCtx, in.EventID)
		if err != nil {
			return err
		}

		zones, err := resolveZones(event, in.Cart)
		if err != nil {
			return err
		}

		seatKeys := in.Cart.SeatKeys()
		if len(seatKeys) > 0 {
			sold, err := s.repo.FindSoldSeats(txCtx, in.EventID, seatKeys)
			if err != nil {
				return err
			}
			if len(sold) > 0 {
				sort.Strings(sold)
				return &domain.SeatConflictError{Seats: sold}
			}
		}

		var total int64
		delta := domain.InventoryDelta{
			EventID:      in.EventID,
			SaleID:       saleID,
			SoldByZoneID: make(map[string]int, len(zones)),
			SeatKeys:     seatKeys,
		}
		for _, zone := range zones {
			qty := in.Cart.Quantities[zone.Name]
			if !zone.Fits(qty) {
				return &domain.CapacityError{Zone: zone.Name, Requested: qty, Available: zone.Available()}
			}
			total += zone.PriceCents * int64(qty)
			delta.SoldByZoneID[zone.ID] = qty
			delta.Tickets += int64(qty)
		}
		delta.RevenueCents = total

		if total != in.DeclaredTotalCents {
			s.logger.Warn().
				Str("event_id", in.EventID).
				Int64("declared_total_cents", in.DeclaredTotalCents).
				Int64("total_cents", total).
				Str("policy", string(s.policy)).
				Msg("declared total does not match zone prices")
			if s.policy == PriceMismatchReject {
				return fmt.Errorf("%w: declared %d, computed %d", domain.ErrTotalMismatch, in.DeclaredTotalCents, total)
			}
		}

		if err := s.checkPaidAmount(in.Payment, total); err != nil {
			s.logger.Warn().
				Str("event_id", in.EventID).
				Str("payment_id", in.Payment.Reference).
				Int64("paid_cents", in.Payment.AmountCents).
				Str("paid_currency", in.Payment.Currency).
				Int64("total_cents", total).
				Msg("payment does not cover the sale")
			return err
		}

		sale := domain.Sale{
			ID:                 saleID,
			EventID:            in.EventID,
			IdempotencyKey:     in.IdempotencyKey,
			Cart:               in.Cart,
			Buyer:              in.Buyer,
			TotalCents:         total,
			DeclaredTotalCents: in.DeclaredTotalCents,
			Payment:            in.Payment,
			CreatedAt:          now,
		}
		tickets := s.mintTickets(sale, zones, ticketIDs, in.Attendees)

		if err := s.repo.CreateSale(txCtx, sale); err != nil {
			return err
		}
		if err := s.repo.CreateTickets(txCtx, tickets); err != nil {
			return err
		}
		if err := s.repo.ApplyInventoryDelta(txCtx, delta); err != nil {
			return err
		}

		result = ProcessSaleResult{Sale: sale, Tickets: tickets, Created: true}
		return nil
	})
	if err != nil {
		return ProcessSaleResult{}, err
	}

	if err := s.attachSignedIDs(result.Tickets); err != nil {
		return ProcessSaleResult{}, err
	}
	if result.Created {
		s.logger.Info().
			Str("event_id", in.EventID).
			Str("sale_id", result.Sale.ID).
			Int("tickets", len(result.Tickets)).
			Int64("total_cents", result.Sale.TotalCents).
			Msg("sale committed")
	}
	return result, nil
}

// checkPaidAmount requires a referenced payment to match the server-side
// total exactly, in the sale currency.
func (s *SaleService) checkPaidAmount(p domain.PaymentInfo, total int64) error {
	if p.Reference == "" {
		return nil
	}
	if p.AmountCents != total || !strings.EqualFold(p.Currency, s.currency) {
		return fmt.Errorf("%w: paid %d %s, total %d %s",
			domain.ErrPaymentAmountMismatch, p.AmountCents, p.Currency, total, s.currency)
	}
	return nil
}

// GetSale returns a committed sale with its tickets.
func (s *SaleService) GetSale(ctx context.Context, saleID string) (domain.Sale, []domain.Ticket, error) {
	if saleID == "" {
		return domain.Sale{}, nil, domain.ErrInvalidID
	}
	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, nil, err
	}
	tickets, err := s.repo.ListTicketsBySale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, nil, err
	}
	if err := s.attachSignedIDs(tickets); err != nil {
		return domain.Sale{}, nil, err
	}
	return sale, tickets, nil
}

func resolveZones(event domain.Event, cart domain.Cart) ([]domain.Zone, error) {
	names := cart.ZoneNames()
	zones := make([]domain.Zone, 0, len(names))
	for _, name := range names {
		zone, ok := event.Zone(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrZoneNotFound, name)
		}
		seats := len(cart.Seats[name])
		switch zone.Kind {
		case domain.ZoneKindSeated:
			if seats == 0 {
				return nil, fmt.Errorf("%w: zone %q requires seat selection", domain.ErrInvalidCart, name)
			}
		case domain.ZoneKindCapacity:
			if seats > 0 {
				return nil, fmt.Errorf("%w: zone %q is not seat-addressed", domain.ErrInvalidCart, name)
			}
		}
		zones = append(zones, zone)
	}
	return zones, nil
}

func (s *SaleService) mintTickets(sale domain.Sale, zones []domain.Zone, ids []string, attendees []string) []domain.Ticket {
	tickets := make([]domain.Ticket, 0, len(ids))
	next := 0
	issue := func(zone, seat string) {
		name := sale.Buyer.Name
		if next < len(attendees) && strings.TrimSpace(attendees[next]) != "" {
			name = attendees[next]
		}
		id := ids[next]
		next++
		tickets = append(tickets, domain.Ticket{
			ID:           id,
			EventID:      sale.EventID,
			SaleID:       sale.ID,
			Zone:         zone,
			Seat:         seat,
			AttendeeName: name,
			BuyerEmail:   sale.Buyer.Email,
			Signature:    s.signer.Sign(id, sale.Buyer.Email, sale.EventID),
			State:        domain.StateUnredeemed,
			CreatedAt:    sale.CreatedAt,
		})
	}
	for _, zone := range zones {
		if seats := sale.Cart.Seats[zone.Name]; len(seats) > 0 {
			for _, seat := range seats {
				issue(zone.Name, seat)
			}
			continue
		}
		for i := 0; i < sale.Cart.Quantities[zone.Name]; i++ {
			issue(zone.Name, "")
		}
	}
	return tickets
}

func (s *SaleService) attachSignedIDs(tickets []domain.Ticket) error {
	for i := range tickets {
		signed, err := signing.Compose(tickets[i].ID, tickets[i].Signature)
		if err != nil {
			return fmt.Errorf("compose ticket id %s: %w", tickets[i].ID, err)
		}
		tickets[i].SignedID = signed
	}
	return nil
}
