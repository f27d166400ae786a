package providers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const mercadoPagoBaseURL = "https://api.mercadopago.com"

var (
	// ErrInvalidSignature is returned when a webhook x-signature does not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidPaymentID is returned for payment ids that are not numeric.
	ErrInvalidPaymentID = errors.New("invalid payment id")
)

// MercadoPagoProvider implements PaymentGateway using the Mercado Pago API.
type MercadoPagoProvider struct {
	accessToken     string
	notificationURL string
	baseURL         string
	httpClient      *http.Client
}

// NewMercadoPagoProvider creates a new MercadoPagoProvider.
func NewMercadoPagoProvider(accessToken, notificationURL string) *MercadoPagoProvider {
	return &MercadoPagoProvider{
		accessToken:     accessToken,
		notificationURL: notificationURL,
		baseURL:         mercadoPagoBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WithBaseURL points the provider at another API host.
func (m *MercadoPagoProvider) WithBaseURL(baseURL string) *MercadoPagoProvider {
	m.baseURL = strings.TrimRight(baseURL, "/")
	return m
}

// ---- Mercado Pago API request/response structs ----

type mpIdentification struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type mpPayer struct {
	Email          string            `json:"email"`
	FirstName      string            `json:"first_name,omitempty"`
	LastName       string            `json:"last_name,omitempty"`
	Identification *mpIdentification `json:"identification,omitempty"`
}

type mpPaymentRequest struct {
	TransactionAmount float64 `json:"transaction_amount"`
	Description       string  `json:"description"`
	PaymentMethodID   string  `json:"payment_method_id"`
	ExternalReference string  `json:"external_reference"`
	NotificationURL   string  `json:"notification_url,omitempty"`
	Payer             mpPayer `json:"payer"`
}

type mpPaymentResponse struct {
	ID                 int64   `json:"id"`
	Status             string  `json:"status"`
	StatusDetail       string  `json:"status_detail"`
	ExternalReference  string  `json:"external_reference"`
	TransactionAmount  float64 `json:"transaction_amount"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// ---- PaymentGateway implementation ----

// CreatePixPayment creates a PIX payment tagged with the order's external
// reference. The idempotency key is forwarded so retries never double charge.
func (m *MercadoPagoProvider) CreatePixPayment(ctx context.Context, req PixPaymentRequest) (*PixPayment, error) {
	first, last := splitName(req.PayerName)
	body := mpPaymentRequest{
		TransactionAmount: float64(req.AmountCents) / 100,
		Description:       req.Description,
		PaymentMethodID:   "pix",
		ExternalReference: ExternalReference(req.OrderID),
		NotificationURL:   m.notificationURL,
		Payer: mpPayer{
			Email:     req.PayerEmail,
			FirstName: first,
			LastName:  last,
		},
	}
	if req.PayerCPF != "" {
		body.Payer.Identification = &mpIdentification{Type: "CPF", Number: req.PayerCPF}
	}

	headers := map[string]string{"X-Idempotency-Key": req.IdempotencyKey}
	var resp mpPaymentResponse
	if err := m.doRequest(ctx, http.MethodPost, "/v1/payments", headers, body, &resp); err != nil {
		return nil, fmt.Errorf("mercadopago CreatePixPayment: %w", err)
	}
	if resp.ID == 0 {
		return nil, fmt.Errorf("mercadopago CreatePixPayment: response carried no payment id")
	}

	td := resp.PointOfInteraction.TransactionData
	return &PixPayment{
		ID:           strconv.FormatInt(resp.ID, 10),
		Status:       resp.Status,
		QRCode:       td.QRCode,
		QRCodeBase64: td.QRCodeBase64,
		TicketURL:    td.TicketURL,
	}, nil
}

// GetPayment retrieves a payment by id.
func (m *MercadoPagoProvider) GetPayment(ctx context.Context, paymentID string) (*PaymentDetail, error) {
	if !isNumericID(paymentID) {
		return nil, fmt.Errorf("mercadopago GetPayment: %w: %q", ErrInvalidPaymentID, paymentID)
	}
	var resp mpPaymentResponse
	if err := m.doRequest(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("mercadopago GetPayment: %w", err)
	}
	return &PaymentDetail{
		ID:                strconv.FormatInt(resp.ID, 10),
		Status:            resp.Status,
		StatusDetail:      resp.StatusDetail,
		ExternalReference: resp.ExternalReference,
		AmountCents:       int(math.Round(resp.TransactionAmount * 100)),
	}, nil
}

// Mercado Pago payment ids are decimal integers.
func isNumericID(id string) bool {
	if id == "" || len(id) > 20 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// ---- Webhook signature ----

// VerifyWebhookSignature checks the x-signature header ("ts=...,v1=...")
// against the HMAC-SHA256 of the manifest Mercado Pago signs.
func VerifyWebhookSignature(secret, signatureHeader, requestID, dataID string) error {
	var ts, v1 string
	for _, part := range strings.Split(signatureHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if ts == "" || v1 == "" {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(SignatureManifest(dataID, requestID, ts)))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(v1))) {
		return ErrInvalidSignature
	}
	return nil
}

// SignatureManifest builds the string covered by the webhook signature.
// Parts whose value is empty are left out.
func SignatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}

// ---- HTTP helper ----

func (m *MercadoPagoProvider) doRequest(ctx context.Context, method, path string, headers map[string]string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.accessToken)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mercadopago API error (status %d): %s", resp.StatusCode, string(respBytes))
	}

	if out != nil {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
