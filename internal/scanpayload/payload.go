// Package scanpayload decodes what a scanner reads off a ticket.
//
// Three forms are accepted:
//
//	<ticketID>.<signature>                      plain signed ticket id
//	{"ticket":"...","event":"...","email":"..."} JSON
//	adm1:<base64url CBOR>                       compact form printed in QR codes
//
// The structured forms carry the event and buyer email, so a scan can be
// checked against the target event and verified without a storage read.
package scanpayload

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cimillas/boxoffice/internal/domain"
	"github.com/cimillas/boxoffice/internal/signing"
	"github.com/fxamacker/cbor/v2"
)

// CompactPrefix marks the CBOR form.
const CompactPrefix = "adm1:"

// maxPayloadLen bounds what a scanner may submit.
const maxPayloadLen = 4096

type Payload struct {
	SignedTicketID string `json:"ticket" cbor:"1,keyasint"`
	EventID        string `json:"event,omitempty" cbor:"2,keyasint,omitempty"`
	Email          string `json:"email,omitempty" cbor:"3,keyasint,omitempty"`
}

// Structured reports whether the payload carries its own event and email.
func (p Payload) Structured() bool {
	return p.EventID != "" && p.Email != ""
}

// TicketID returns the base ticket id and signature.
func (p Payload) TicketID() (string, string, error) {
	return signing.Split(p.SignedTicketID)
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("scanpayload: CBOR encoder initialization failed: " + err.Error())
	}
}

// Parse decodes any accepted form. Errors wrap domain.ErrMalformedPayload.
func Parse(raw string) (Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Payload{}, fmt.Errorf("%w: empty", domain.ErrMalformedPayload)
	}
	if len(raw) > maxPayloadLen {
		return Payload{}, fmt.Errorf("%w: too long", domain.ErrMalformedPayload)
	}

	var p Payload
	switch {
	case strings.HasPrefix(raw, "{"):
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Payload{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
	case strings.HasPrefix(raw, CompactPrefix):
		data, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(raw, CompactPrefix))
		if err != nil {
			return Payload{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
		if err := cbor.Unmarshal(data, &p); err != nil {
			return Payload{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
	default:
		p.SignedTicketID = raw
	}

	if _, _, err := p.TicketID(); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if (p.EventID == "") != (p.Email == "") {
		return Payload{}, fmt.Errorf("%w: event and email must be given together", domain.ErrMalformedPayload)
	}
	return p, nil
}

// EncodeCompact renders the QR form of a payload.
func EncodeCompact(p Payload) (string, error) {
	if p.SignedTicketID == "" {
		return "", errors.New("scanpayload: signed ticket id required")
	}
	data, err := encMode.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return CompactPrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// EncodeJSON renders the JSON form of a payload.
func EncodeJSON(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(data), nil
}
