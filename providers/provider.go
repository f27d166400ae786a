package providers

import (
	"context"
	"strings"
)

// Gateway payment statuses as reported by Mercado Pago.
const (
	GatewayStatusApproved  = "approved"
	GatewayStatusRejected  = "rejected"
	GatewayStatusCancelled = "cancelled"
)

// ExternalReferencePrefix marks payments that belong to this shop.
const ExternalReferencePrefix = "fotofacil_"

// PixPaymentRequest describes a PIX charge for one order.
type PixPaymentRequest struct {
	OrderID        string
	AmountCents    int
	Description    string
	PayerEmail     string
	PayerName      string
	PayerCPF       string
	IdempotencyKey string
}

// PixPayment is the gateway's answer to a PIX charge.
type PixPayment struct {
	ID           string
	Status       string
	QRCode       string
	QRCodeBase64 string
	TicketURL    string
}

// PaymentDetail is the current gateway view of a payment.
type PaymentDetail struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	AmountCents       int
}

// PaymentGateway defines the interface a payment provider must implement.
type PaymentGateway interface {
	// CreatePixPayment charges the order through PIX.
	CreatePixPayment(ctx context.Context, req PixPaymentRequest) (*PixPayment, error)

	// GetPayment fetches the current state of a payment by gateway id.
	GetPayment(ctx context.Context, paymentID string) (*PaymentDetail, error)
}

// ExternalReference formats the reference attached to an order's payment.
func ExternalReference(orderID string) string {
	return ExternalReferencePrefix + orderID
}

// OrderIDFromReference extracts the order id from an external reference.
// ok is false for references that do not belong to this shop.
func OrderIDFromReference(ref string) (string, bool) {
	if !strings.HasPrefix(ref, ExternalReferencePrefix) {
		return "", false
	}
	id := strings.TrimPrefix(ref, ExternalReferencePrefix)
	return id, id != ""
}
