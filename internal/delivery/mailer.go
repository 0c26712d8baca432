package delivery

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/mailersend/mailersend-go"
	"github.com/rs/zerolog"
)

type emailSender interface {
	Send(ctx context.Context, message *mailersend.Message) (*mailersend.Response, error)
}

// Mailer sends a batch to its buyer through MailerSend.
type Mailer struct {
	sender    emailSender
	fromEmail string
	fromName  string
	logger    zerolog.Logger
}

func NewMailer(apiKey, fromEmail, fromName string, logger zerolog.Logger) *Mailer {
	client := mailersend.NewMailersend(apiKey)
	return &Mailer{
		sender:    client.Email,
		fromEmail: fromEmail,
		fromName:  fromName,
		logger:    logger,
	}
}

// Send implements Handler.
func (m *Mailer) Send(ctx context.Context, batch Batch) error {
	if batch.BuyerEmail == "" || len(batch.Tickets) == 0 {
		return fmt.Errorf("%w: batch %s has no recipient or tickets", ErrPermanentFailure, batch.SaleID)
	}

	msg := new(mailersend.Message)
	msg.SetFrom(mailersend.From{Name: m.fromName, Email: m.fromEmail})
	msg.SetRecipients([]mailersend.Recipient{{Name: batch.BuyerName, Email: batch.BuyerEmail}})
	msg.SetSubject(subject(batch))
	msg.SetText(renderText(batch))
	msg.SetHTML(renderHTML(batch))
	msg.SetTags([]string{"tickets"})

	res, err := m.sender.Send(ctx, msg)
	if err != nil {
		if code := responseStatus(res, err); permanentStatus(code) {
			return fmt.Errorf("%w: send tickets for sale %s: %v", ErrPermanentFailure, batch.SaleID, err)
		}
		return fmt.Errorf("send tickets for sale %s: %w", batch.SaleID, err)
	}
	ev := m.logger.Info().Str("sale_id", batch.SaleID).Int("tickets", len(batch.Tickets))
	if res != nil && res.Response != nil {
		ev = ev.Str("message_id", res.Header.Get("X-Message-Id"))
	}
	ev.Msg("tickets emailed")
	return nil
}

func responseStatus(res *mailersend.Response, err error) int {
	var errRes *mailersend.ErrorResponse
	if errors.As(err, &errRes) && errRes.Response != nil {
		return errRes.Response.StatusCode
	}
	var authErr *mailersend.AuthError
	if errors.As(err, &authErr) && authErr.Response != nil {
		return authErr.Response.StatusCode
	}
	if res != nil && res.Response != nil {
		return res.StatusCode
	}
	return 0
}

// permanentStatus reports client errors that resending the same message
// cannot fix. Bad credentials, timeouts and rate limits clear on their own
// or after an operator fix, so those stay retryable.
func permanentStatus(code int) bool {
	switch code {
	case http.StatusUnauthorized, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return code >= 400 && code < 500
}

func subject(batch Batch) string {
	event := batch.Tickets[0].EventName
	if len(batch.Tickets) == 1 {
		return "Your ticket for " + event
	}
	return fmt.Sprintf("Your %d tickets for %s", len(batch.Tickets), event)
}

func seatLabel(r Record) string {
	if r.Seat == "" {
		return r.Zone
	}
	return r.Zone + ", seat " + r.Seat
}

func renderText(batch Batch) string {
	var b strings.Builder
	first := batch.Tickets[0]
	fmt.Fprintf(&b, "%s\n%s %s, %s\n\n", first.EventName, first.EventDate, first.EventTime, first.Location)
	for _, r := range batch.Tickets {
		fmt.Fprintf(&b, "%s: %s\n  %s\n", r.AttendeeName, seatLabel(r), r.SignedTicketID)
	}
	return b.String()
}

func renderHTML(batch Batch) string {
	var b strings.Builder
	first := batch.Tickets[0]
	fmt.Fprintf(&b, "<h1>%s</h1><p>%s %s, %s</p><ul>",
		html.EscapeString(first.EventName), first.EventDate, first.EventTime, html.EscapeString(first.Location))
	for _, r := range batch.Tickets {
		fmt.Fprintf(&b, "<li><strong>%s</strong> %s<br><code>%s</code></li>",
			html.EscapeString(r.AttendeeName), html.EscapeString(seatLabel(r)), html.EscapeString(r.QRPayload))
	}
	b.WriteString("</ul>")
	return b.String()
}
