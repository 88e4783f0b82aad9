package email

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/example/checkout-fulfillment/internal/fulfillment"
)

// Service sends operational alerts via SMTP.
type Service struct {
	host string
	port string
	from string
}

func NewService(host, port, from string) *Service {
	return &Service{
		host: host,
		port: port,
		from: from,
	}
}

// SendFulfillmentAlert notifies operators that a succeeded payment could not
// be fulfilled and needs a refund or manual review.
func (s *Service) SendFulfillmentAlert(to string, failure fulfillment.FulfillmentFailed) error {
	shortRef := failure.PaymentReference
	if len(shortRef) > 12 {
		shortRef = shortRef[:12]
	}
	subject := fmt.Sprintf("[ACTION REQUIRED] Fulfillment failed for payment %s", shortRef)
	body := buildAlertBody(failure)
	return s.send(to, subject, body)
}

func buildAlertBody(f fulfillment.FulfillmentFailed) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A payment succeeded but fulfillment failed.\r\n\r\n")
	fmt.Fprintf(&b, "Payment reference: %s\r\n", f.PaymentReference)
	fmt.Fprintf(&b, "User:              %s\r\n", f.UserID)
	fmt.Fprintf(&b, "Reason:            %s\r\n", f.Reason)
	if f.ProductID != "" {
		fmt.Fprintf(&b, "Product:           %s\r\n", f.ProductID)
	}
	if len(f.UnrevertedLines) > 0 {
		fmt.Fprintf(&b, "\r\nStock is off by the following unreverted lines:\r\n")
		for _, line := range f.UnrevertedLines {
			fmt.Fprintf(&b, "  - product %s, quantity %d\r\n", line.ProductID, line.Quantity)
		}
	}
	fmt.Fprintf(&b, "\r\nFailed at: %s\r\n", f.FailedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "\r\nTrigger a refund or reconcile stock manually.\r\n")
	return b.String()
}

func (s *Service) send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		s.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{to}, []byte(msg))
}
