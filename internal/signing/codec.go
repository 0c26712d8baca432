// Package signing signs and verifies ticket identifiers with a keyed
// HMAC-SHA256 digest over "ticketID:buyerEmail:eventID".
//
// Tickets issued before buyer emails were normalized carry a signature over
// the raw email. Verification therefore tries an ordered list of email
// canonicalizations and reports which one matched.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// Delimiter separates the base ticket identifier from its signature in the
// exposed form. It never occurs in a UUID or in a hex digest.
const Delimiter = "."

// MinKeyLength is the shortest accepted signing key, in bytes.
const MinKeyLength = 32

var (
	ErrKeyTooShort    = errors.New("signing: key shorter than 32 bytes")
	ErrNoStrategies   = errors.New("signing: at least one canonicalization is required")
	ErrMalformedID    = errors.New("signing: malformed signed ticket id")
	ErrDelimiterInID  = errors.New("signing: ticket id contains the delimiter")
	errEmptyComponent = errors.New("signing: empty component")
)

// Canonicalization maps a buyer email to the form that goes into the digest.
type Canonicalization struct {
	Name  string
	Email func(string) string
}

var (
	// Normalized lowercases and trims the email. Current tickets use it.
	Normalized = Canonicalization{
		Name: "normalized",
		Email: func(email string) string {
			return strings.ToLower(strings.TrimSpace(email))
		},
	}
	// Raw signs the email exactly as entered. Legacy tickets use it.
	Raw = Canonicalization{
		Name:  "raw",
		Email: func(email string) string { return email },
	}
)

// Verification is the result of checking one signature.
type Verification struct {
	Valid bool
	// Strategy is the canonicalization that matched, or "".
	Strategy string
	// Legacy is set when a strategy other than the primary one matched.
	Legacy bool
}

// Codec is stateless apart from its key and is safe for concurrent use.
type Codec struct {
	key        []byte
	strategies []Canonicalization
}

type Option func(*Codec)

// WithStrategies replaces the default [Normalized, Raw] verification order.
// The first strategy is the one Sign uses.
func WithStrategies(strategies ...Canonicalization) Option {
	return func(c *Codec) {
		c.strategies = append([]Canonicalization(nil), strategies...)
	}
}

func New(key []byte, opts ...Option) (*Codec, error) {
	if len(key) < MinKeyLength {
		return nil, ErrKeyTooShort
	}
	c := &Codec{
		key:        append([]byte(nil), key...),
		strategies: []Canonicalization{Normalized, Raw},
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.strategies) == 0 {
		return nil, ErrNoStrategies
	}
	return c, nil
}

// Sign returns the hex signature of a ticket using the primary strategy.
func (c *Codec) Sign(ticketID, buyerEmail, eventID string) string {
	return c.SignWith(c.strategies[0], ticketID, buyerEmail, eventID)
}

// SignWith signs using an explicit canonicalization.
func (c *Codec) SignWith(canon Canonicalization, ticketID, buyerEmail, eventID string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(ticketID + ":" + canon.Email(buyerEmail) + ":" + eventID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify tries each canonicalization in order and stops at the first match.
// Signatures are compared as exact strings, so a case change in the hex
// digest does not verify.
func (c *Codec) Verify(ticketID, buyerEmail, eventID, signature string) Verification {
	for i, canon := range c.strategies {
		expected := c.SignWith(canon, ticketID, buyerEmail, eventID)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1 {
			return Verification{Valid: true, Strategy: canon.Name, Legacy: i > 0}
		}
	}
	return Verification{}
}

// Compose joins a base ticket id and its signature into the exposed form.
func Compose(ticketID, signature string) (string, error) {
	if ticketID == "" || signature == "" {
		return "", errEmptyComponent
	}
	if strings.Contains(ticketID, Delimiter) || strings.Contains(signature, Delimiter) {
		return "", ErrDelimiterInID
	}
	return ticketID + Delimiter + signature, nil
}

// Split is the inverse of Compose.
func Split(signedID string) (ticketID, signature string, err error) {
	id, sig, ok := strings.Cut(strings.TrimSpace(signedID), Delimiter)
	if !ok || id == "" || sig == "" || strings.Contains(sig, Delimiter) {
		return "", "", ErrMalformedID
	}
	return id, sig, nil
}
