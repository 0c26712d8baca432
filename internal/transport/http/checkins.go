package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cimillas/boxoffice/internal/app"
	"github.com/cimillas/boxoffice/internal/domain"
)

type CheckInService interface {
	CheckIn(ctx context.Context, in app.CheckInInput) (app.CheckInResult, error)
	ListScans(ctx context.Context, eventID string) ([]domain.ScanLogEntry, error)
}

// HandleCheckIn redeems a scanned payload at an event. Every decided
// outcome, admitted or not, is a 200; only failures to decide are errors.
// Must run behind ScannerAuth.
func HandleCheckIn(svc CheckInService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req checkInRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := svc.CheckIn(r.Context(), app.CheckInInput{
			Payload:  req.Payload,
			EventID:  r.PathValue("eventID"),
			Redeemer: Redeemer(r.Context()),
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		resp := checkInResponse{
			Outcome: string(res.Outcome),
			Admit:   res.Outcome.Admit(),
			Message: admissionMessage(res),
		}
		if res.Ticket != nil && res.Outcome != domain.OutcomeWrongEvent {
			t := toTicketResponse(*res.Ticket)
			resp.Ticket = &t
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleListScans returns the audit trail of an event.
func HandleListScans(svc CheckInService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		entries, err := svc.ListScans(r.Context(), r.PathValue("eventID"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp := make([]scanResponse, 0, len(entries))
		for _, e := range entries {
			resp = append(resp, scanResponse{
				ID:              e.ID,
				TicketID:        e.TicketID,
				EventID:         e.EventID,
				Outcome:         string(e.Outcome),
				Redeemer:        e.Redeemer,
				LegacySignature: e.LegacySignature,
				ScannedAt:       e.ScannedAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func admissionMessage(res app.CheckInResult) string {
	switch res.Outcome {
	case domain.OutcomeSuccess:
		return "Admit"
	case domain.OutcomeWrongEvent:
		return "Ticket is for a different event"
	case domain.OutcomeInvalidSignature:
		return "Ticket could not be verified"
	case domain.OutcomeTicketNotFound:
		return "Ticket not found"
	case domain.OutcomeDuplicateAttempt:
		if res.Ticket != nil && res.Ticket.RedeemedAt != nil {
			return fmt.Sprintf("Ticket already used at %s by %s",
				res.Ticket.RedeemedAt.UTC().Format(time.RFC3339), res.Ticket.RedeemedBy)
		}
		return "Ticket already used"
	default:
		return "Check-in failed, scan again"
	}
}

type checkInRequest struct {
	Payload string `json:"payload"`
}

type checkInResponse struct {
	Outcome string          `json:"outcome"`
	Admit   bool            `json:"admit"`
	Message string          `json:"message"`
	Ticket  *ticketResponse `json:"ticket,omitempty"`
}

type scanResponse struct {
	ID              string    `json:"id"`
	TicketID        string    `json:"ticket_id"`
	EventID         string    `json:"event_id"`
	Outcome         string    `json:"outcome"`
	Redeemer        string    `json:"redeemer"`
	LegacySignature bool      `json:"legacy_signature"`
	ScannedAt       time.Time `json:"scanned_at"`
}
