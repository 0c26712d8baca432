package domain

// PaymentStatus is the state of an out-of-band push payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentRejected  PaymentStatus = "REJECTED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentExpired   PaymentStatus = "EXPIRED"
)

// Terminal reports whether no further transition is expected.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending && s != ""
}

// Payment is what a provider reports about one payment. AmountCents is in
// the minor unit of Currency, which is lower case ISO 4217.
type Payment struct {
	ID          string
	Status      PaymentStatus
	AmountCents int64
	Currency    string
}
