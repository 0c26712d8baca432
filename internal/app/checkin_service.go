package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cimillas/boxoffice/internal/clock"
	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/cimillas/boxoffice/internal/scanpayload"
	"github.com/cimillas/boxoffice/internal/signing"
	"github.com/rs/zerolog"
)

// auditTimeout bounds a scan log append made after the request context is
// gone.
const auditTimeout = 5 * time.Second

type CheckInRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetTicket(ctx context.Context, ticketID string) (domain.Ticket, error)
	// RedeemTicket moves an unredeemed ticket to redeemed and reports whether
	// this call made the transition.
	RedeemTicket(ctx context.Context, ticketID string, at time.Time, redeemer string) (bool, error)
	AppendScan(ctx context.Context, entry domain.ScanLogEntry) error
	ListScans(ctx context.Context, eventID string) ([]domain.ScanLogEntry, error)
}

// Verifier checks ticket signatures.
type Verifier interface {
	Verify(ticketID, buyerEmail, eventID, signature string) signing.Verification
}

type CheckInService struct {
	repo     CheckInRepository
	verifier Verifier
	clock    clock.Clock
	logger   zerolog.Logger
	observer Observer
}

type CheckInServiceOption func(*CheckInService)

func WithCheckInLogger(l zerolog.Logger) CheckInServiceOption {
	return func(s *CheckInService) { s.logger = l }
}

func WithCheckInObserver(o Observer) CheckInServiceOption {
	return func(s *CheckInService) {
		if o != nil {
			s.observer = o
		}
	}
}

func NewCheckInService(repo CheckInRepository, verifier Verifier, clk clock.Clock, opts ...CheckInServiceOption) *CheckInService {
	svc := &CheckInService{
		repo:     repo,
		verifier: verifier,
		clock:    clk,
		logger:   zerolog.Nop(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type CheckInInput struct {
	Payload  string
	EventID  string
	Redeemer string
}

type CheckInResult struct {
	Outcome domain.ScanOutcome
	// Ticket is set whenever the ticket was read. On duplicate_attempt it
	// carries the original redemption.
	Ticket          *domain.Ticket
	LegacySignature bool
	Entry           domain.ScanLogEntry
}

// CheckIn runs one redemption attempt. Every attempt with a redeemer and a
// target event leaves exactly one scan log entry, including attempts whose
// storage transaction fails.
func (s *CheckInService) CheckIn(ctx context.Context, in CheckInInput) (CheckInResult, error) {
	if strings.TrimSpace(in.Redeemer) == "" {
		return CheckInResult{}, domain.ErrRedeemerRequired
	}
	if in.EventID == "" {
		return CheckInResult{}, domain.ErrInvalidID
	}

	entry := domain.ScanLogEntry{
		ID:        newUUID(),
		EventID:   in.EventID,
		Redeemer:  in.Redeemer,
		ScannedAt: s.clock.Now(),
	}

	payload, err := scanpayload.Parse(in.Payload)
	if err != nil {
		if id, _, splitErr := signing.Split(in.Payload); splitErr == nil {
			entry.TicketID = id
		}
		return s.finish(ctx, entry, nil)
	}
	ticketID, signature, _ := payload.TicketID()
	entry.TicketID = ticketID

	if payload.Structured() {
		if payload.EventID != in.EventID {
			entry.Outcome = domain.OutcomeWrongEvent
			return s.finish(ctx, entry, nil)
		}
		v := s.verifier.Verify(ticketID, payload.Email, payload.EventID, signature)
		if !v.Valid {
			entry.Outcome = domain.OutcomeInvalidSignature
			return s.finish(ctx, entry, nil)
		}
		entry.LegacySignature = v.Legacy
	}

	var ticket *domain.Ticket
	txErr := s.repo.WithTx(ctx, func(txCtx context.Context) error {
		ticket = nil
		attempt := entry

		t, err := s.repo.GetTicket(txCtx, ticketID)
		switch {
		case errors.Is(err, domain.ErrTicketNotFound):
			attempt.Outcome = domain.OutcomeTicketNotFound
		case err != nil:
			return err
		default:
			attempt.Outcome, err = s.redeem(txCtx, &t, &attempt, payload.Structured(), signature)
			if err != nil {
				return err
			}
			ticket = &t
		}

		if err := s.repo.AppendScan(txCtx, attempt); err != nil {
			return err
		}
		entry = attempt
		return nil
	})
	if txErr != nil {
		entry.Outcome = domain.OutcomeError
		if _, err := s.finish(ctx, entry, nil); err != nil {
			return CheckInResult{}, errors.Join(txErr, err)
		}
		return CheckInResult{}, txErr
	}

	s.record(entry)
	if ticket != nil {
		if signed, err := signing.Compose(ticket.ID, ticket.Signature); err == nil {
			ticket.SignedID = signed
		}
	}
	return CheckInResult{Outcome: entry.Outcome, Ticket: ticket, LegacySignature: entry.LegacySignature, Entry: entry}, nil
}

// redeem decides the outcome for a ticket that exists and, when admissible,
// performs the check-and-set.
func (s *CheckInService) redeem(ctx context.Context, t *domain.Ticket, entry *domain.ScanLogEntry, verified bool, signature string) (domain.ScanOutcome, error) {
	if t.EventID != entry.EventID {
		return domain.OutcomeWrongEvent, nil
	}
	if !verified {
		v := s.verifier.Verify(t.ID, t.BuyerEmail, t.EventID, signature)
		if !v.Valid {
			return domain.OutcomeInvalidSignature, nil
		}
		entry.LegacySignature = v.Legacy
	}
	if t.Redeemed() {
		return domain.OutcomeDuplicateAttempt, nil
	}

	ok, err := s.repo.RedeemTicket(ctx, t.ID, entry.ScannedAt, entry.Redeemer)
	if err != nil {
		return "", err
	}
	if !ok {
		// Another scanner redeemed it between the read and the write.
		current, err := s.repo.GetTicket(ctx, t.ID)
		if err != nil {
			return "", err
		}
		*t = current
		return domain.OutcomeDuplicateAttempt, nil
	}
	at := entry.ScannedAt
	t.State = domain.StateRedeemed
	t.RedeemedAt = &at
	t.RedeemedBy = entry.Redeemer
	return domain.OutcomeSuccess, nil
}

// finish records an attempt decided without a storage transaction. The
// append outlives cancellation of ctx so an abandoned scan is still audited.
func (s *CheckInService) finish(ctx context.Context, entry domain.ScanLogEntry, ticket *domain.Ticket) (CheckInResult, error) {
	if entry.Outcome == "" {
		entry.Outcome = domain.OutcomeWrongEvent
	}
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := s.repo.AppendScan(auditCtx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("event_id", entry.EventID).
			Str("ticket_id", entry.TicketID).
			Str("outcome", string(entry.Outcome)).
			Msg("scan log append failed")
		return CheckInResult{}, fmt.Errorf("append scan: %w", err)
	}
	s.record(entry)
	return CheckInResult{Outcome: entry.Outcome, Ticket: ticket, LegacySignature: entry.LegacySignature, Entry: entry}, nil
}

func (s *CheckInService) record(entry domain.ScanLogEntry) {
	s.observer.ObserveCheckIn(entry.Outcome)
	ev := s.logger.Warn()
	if entry.Outcome.Admit() {
		ev = s.logger.Info()
	}
	ev.Str("event_id", entry.EventID).
		Str("ticket_id", entry.TicketID).
		Str("redeemer", entry.Redeemer).
		Str("outcome", string(entry.Outcome)).
		Bool("legacy_signature", entry.LegacySignature).
		Msg("check-in")
}

// ListScans returns the audit trail of an event in scan order.
func (s *CheckInService) ListScans(ctx context.Context, eventID string) ([]domain.ScanLogEntry, error) {
	if eventID == "" {
		return nil, domain.ErrInvalidID
	}
	return s.repo.ListScans(ctx, eventID)
}
