package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashrajoria/fotofacil-backend/models"
)

const validToken = "Qm9hIHRhcmRlLCBlc3RhIGUgdW1hIGNoYXZlIGRlIHRlc3Rl"

type deliveryFixture struct {
	svc    *DeliveryService
	orders *memOrders
	photos *memPhotos
	store  *memStore
}

func newDeliveryFixture(allowUnsigned bool) *deliveryFixture {
	photos := newMemPhotos()
	f := &deliveryFixture{orders: newMemOrders(photos), photos: photos, store: newMemStore()}
	logger := zap.NewNop()
	signer := NewSigningService(f.store, allowUnsigned, &recordingMetrics{}, logger)
	f.svc = NewDeliveryService(f.orders, signer, &recordingMetrics{}, logger)
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func (f *deliveryFixture) paidOrder(expires time.Time) *models.Order {
	eventID := uuid.New()
	p1 := f.photos.add(&models.Photo{
		EventID:         eventID,
		OriginalPath:    "originals/fotofacil/" + eventID.String() + "/1-aaaaaaaa-noivos.jpg",
		WatermarkedPath: "watermarked/fotofacil/" + eventID.String() + "/1-aaaaaaaa-noivos.jpg",
		Filename:        "1-aaaaaaaa-noivos.jpg",
		Active:          true,
	})
	p2 := f.photos.add(&models.Photo{
		EventID:         eventID,
		WatermarkedPath: "watermarked/fotofacil/" + eventID.String() + "/2-bbbbbbbb-festa.jpg",
		Filename:        "2-bbbbbbbb-festa.jpg",
		Active:          false,
	})
	token := validToken
	return f.orders.put(&models.Order{
		CustomerID:        uuid.New(),
		IdempotencyKey:    uuid.NewString(),
		TotalCents:        3000,
		Status:            models.OrderStatusPaid,
		DeliveryToken:     &token,
		DeliveryExpiresAt: &expires,
		Items: []models.OrderItem{
			{ID: uuid.New(), PhotoID: p1.ID, PriceCents: 1500},
			{ID: uuid.New(), PhotoID: p2.ID, PriceCents: 1500},
		},
	})
}

func TestValidateDelivery_ServesSignedOriginals(t *testing.T) {
	f := newDeliveryFixture(false)
	order := f.paidOrder(fixedNow.Add(2 * time.Hour))

	d, serr := f.svc.ValidateDelivery(context.Background(), order.ID.String(), validToken)
	require.Nil(t, serr)
	require.Len(t, d.Files, 2)
	for _, file := range d.Files {
		assert.Contains(t, file.URL, "/originals/")
		assert.NotContains(t, file.URL, "/watermarked/")
		assert.Equal(t, fixedNow.Add(60*time.Minute), file.URLExpiresAt)
	}
	for _, c := range f.store.signCalls {
		assert.Equal(t, DeliveryURLMinutes, c.minutes)
	}
	require.NotNil(t, d.DeliveredAt)
	assert.Equal(t, fixedNow, *d.DeliveredAt)
}

func TestValidateDelivery_IsIdempotent(t *testing.T) {
	f := newDeliveryFixture(false)
	order := f.paidOrder(fixedNow.Add(2 * time.Hour))

	first, serr := f.svc.ValidateDelivery(context.Background(), order.ID.String(), validToken)
	require.Nil(t, serr)

	f.svc.now = func() time.Time { return fixedNow.Add(10 * time.Minute) }
	second, serr := f.svc.ValidateDelivery(context.Background(), order.ID.String(), validToken)
	require.Nil(t, serr)

	require.Len(t, second.Files, len(first.Files))
	for i := range first.Files {
		assert.Equal(t, first.Files[i].PhotoID, second.Files[i].PhotoID)
		assert.Equal(t, first.Files[i].Filename, second.Files[i].Filename)
	}
	assert.Equal(t, *first.DeliveredAt, *second.DeliveredAt)
	assert.Equal(t, fixedNow, *f.orders.get(order.ID).DeliveredAt)
}

func TestValidateDelivery_Rejections(t *testing.T) {
	f := newDeliveryFixture(false)
	live := f.paidOrder(fixedNow.Add(time.Hour))
	expired := f.paidOrder(fixedNow.Add(-time.Minute))
	pending := f.paidOrder(fixedNow.Add(time.Hour))
	f.orders.byID[pending.ID].Status = models.OrderStatusPending
	noExpiry := f.paidOrder(fixedNow.Add(time.Hour))
	f.orders.byID[noExpiry.ID].DeliveryExpiresAt = nil

	cases := []struct {
		name    string
		orderID string
		token   string
		status  int
		code    string
	}{
		{"malformed id", "not-a-uuid", validToken, http.StatusNotFound, CodeOrderNotFound},
		{"unknown order", uuid.NewString(), validToken, http.StatusNotFound, CodeOrderNotFound},
		{"wrong token", live.ID.String(), "guess", http.StatusForbidden, CodeInvalidToken},
		{"empty token", live.ID.String(), "", http.StatusForbidden, CodeInvalidToken},
		{"not paid", pending.ID.String(), validToken, http.StatusForbidden, CodePaymentNotConfirmed},
		{"expired", expired.ID.String(), validToken, http.StatusForbidden, CodeLinkExpired},
		{"no expiry", noExpiry.ID.String(), validToken, http.StatusForbidden, CodeLinkExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, serr := f.svc.ValidateDelivery(context.Background(), tc.orderID, tc.token)
			assert.Nil(t, d)
			require.NotNil(t, serr)
			assert.Equal(t, tc.status, serr.StatusCode)
			assert.Equal(t, tc.code, serr.Code)
		})
	}
	assert.Empty(t, f.store.signCalls, "no url is signed for a rejected request")
	assert.Equal(t, 0, f.orders.deliveredCalls)
}

func TestValidateDelivery_ExpiredMentionsSupport(t *testing.T) {
	f := newDeliveryFixture(false)
	order := f.paidOrder(fixedNow.Add(-time.Second))

	_, serr := f.svc.ValidateDelivery(context.Background(), order.ID.String(), validToken)
	require.NotNil(t, serr)
	assert.True(t, strings.Contains(strings.ToLower(serr.Message), "contact support"))
}

func TestValidateDelivery_SigningFailure(t *testing.T) {
	f := newDeliveryFixture(false)
	order := f.paidOrder(fixedNow.Add(time.Hour))
	f.store.signErr = errors.New("credentials missing")

	_, serr := f.svc.ValidateDelivery(context.Background(), order.ID.String(), validToken)
	require.NotNil(t, serr)
	assert.Equal(t, http.StatusBadGateway, serr.StatusCode)
	assert.Equal(t, CodeSigning, serr.Code)
	assert.Nil(t, f.orders.get(order.ID).DeliveredAt)
}

func TestValidateDelivery_UnsignedFallback(t *testing.T) {
	f := newDeliveryFixture(true)
	order := f.paidOrder(fixedNow.Add(time.Hour))
	f.store.signErr = errors.New("credentials missing")

	d, serr := f.svc.ValidateDelivery(context.Background(), order.ID.String(), validToken)
	require.Nil(t, serr)
	for _, file := range d.Files {
		assert.True(t, strings.HasPrefix(file.URL, "https://storage.example.com/media/originals/"))
	}
}

func TestOriginalPathFor(t *testing.T) {
	assert.Equal(t, "originals/fotofacil/e/a.jpg", OriginalPathFor(&models.Photo{OriginalPath: "originals/fotofacil/e/a.jpg", WatermarkedPath: "watermarked/x.jpg"}))
	assert.Equal(t, "originals/fotofacil/e/b.jpg", OriginalPathFor(&models.Photo{WatermarkedPath: "watermarked/fotofacil/e/b.jpg"}))
	assert.Equal(t, "originals/fotofacil/e/c.jpg", OriginalPathFor(&models.Photo{WatermarkedURL: "https://storage.googleapis.com/bucket/watermarked/fotofacil/e/c.jpg"}))
	assert.Equal(t, "", OriginalPathFor(&models.Photo{WatermarkedURL: "https://cdn.example.com/c.jpg"}))
}

func TestOriginalPathFor_FallbackKeepsOriginalExtension(t *testing.T) {
	png := &models.Photo{WatermarkedPath: "watermarked/fotofacil/e/1-abc-foto.jpg", Filename: "1-abc-foto.png"}
	assert.Equal(t, "originals/fotofacil/e/1-abc-foto.png", OriginalPathFor(png))

	webp := &models.Photo{WatermarkedURL: "https://storage.googleapis.com/bucket/watermarked/portfolio/2-def-retrato.jpg", Filename: "2-def-retrato.webp"}
	assert.Equal(t, "originals/portfolio/2-def-retrato.webp", OriginalPathFor(webp))

	video := &models.Photo{WatermarkedPath: "watermarked/fotofacil/e/3-ghi-clip.mp4", Filename: "3-ghi-clip.mp4"}
	assert.Equal(t, "originals/fotofacil/e/3-ghi-clip.mp4", OriginalPathFor(video))
}

func TestSigningService_Sign(t *testing.T) {
	store := newMemStore()
	signer := NewSigningService(store, false, nil, zap.NewNop())

	link, serr := signer.Sign(context.Background(), "originals/portfolio/a.jpg", 0)
	require.Nil(t, serr)
	assert.True(t, link.Signed)
	assert.Equal(t, DeliveryURLMinutes, store.signCalls[0].minutes)

	for _, bad := range []string{"", "/originals/a.jpg", "originals/../secrets.json"} {
		_, serr := signer.Sign(context.Background(), bad, 10)
		require.NotNil(t, serr, bad)
		assert.Equal(t, CodeValidation, serr.Code)
	}
}
