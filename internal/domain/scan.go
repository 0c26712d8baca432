package domain

import "time"

type ScanOutcome string

const (
	OutcomeSuccess          ScanOutcome = "success"
	OutcomeWrongEvent       ScanOutcome = "wrong_event"
	OutcomeInvalidSignature ScanOutcome = "invalid_signature"
	OutcomeTicketNotFound   ScanOutcome = "ticket_not_found"
	OutcomeDuplicateAttempt ScanOutcome = "duplicate_attempt"
	// OutcomeError records an attempt whose storage transaction failed.
	OutcomeError ScanOutcome = "error"
)

// Admit reports whether the outcome lets the holder in.
func (o ScanOutcome) Admit() bool {
	return o == OutcomeSuccess
}

// ScanLogEntry is one append-only audit record of a check-in attempt. The
// ticket ID may reference a ticket that does not exist.
type ScanLogEntry struct {
	ID              string
	TicketID        string
	EventID         string
	Outcome         ScanOutcome
	Redeemer        string
	LegacySignature bool
	ScannedAt       time.Time
}
