package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yashrajoria/fotofacil-backend/models"
	"github.com/yashrajoria/fotofacil-backend/providers"
	"github.com/yashrajoria/fotofacil-backend/repository"
)

// ---- object store ----

type signCall struct {
	path    string
	minutes int
}

type memStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	types     map[string]string
	failPaths map[string]error
	signErr   error
	signCalls []signCall
	deleted   []string
	now       time.Time
	signSeq   int
}

func newMemStore() *memStore {
	return &memStore{
		objects:   map[string][]byte{},
		types:     map[string]string{},
		failPaths: map[string]error{},
		now:       time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) Upload(_ context.Context, path, contentType string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for prefix, err := range m.failPaths {
		if strings.HasPrefix(path, prefix) {
			return err
		}
	}
	m.objects[path] = append([]byte(nil), data...)
	m.types[path] = contentType
	return nil
}

func (m *memStore) Download(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, errors.New("object not found")
	}
	return append([]byte(nil), data...), nil
}

func (m *memStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	m.deleted = append(m.deleted, path)
	return nil
}

func (m *memStore) PublicURL(path string) string {
	return "https://storage.example.com/media/" + path
}

func (m *memStore) SignedURL(_ context.Context, path string, minutes int) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signErr != nil {
		return "", time.Time{}, m.signErr
	}
	m.signCalls = append(m.signCalls, signCall{path: path, minutes: minutes})
	m.signSeq++
	url := fmt.Sprintf("https://signed.example.com/media/%s?X-Goog-Expires=%d&X-Goog-Signature=%04d", path, minutes*60, m.signSeq)
	return url, m.now.Add(time.Duration(minutes) * time.Minute), nil
}

func (m *memStore) keysWithPrefix(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ---- photos ----

type memPhotos struct {
	mu          sync.Mutex
	byID        map[uuid.UUID]*models.Photo
	referenced  map[uuid.UUID]bool
	deactivated []uuid.UUID
}

func newMemPhotos() *memPhotos {
	return &memPhotos{byID: map[uuid.UUID]*models.Photo{}, referenced: map[uuid.UUID]bool{}}
}

func (m *memPhotos) add(p *models.Photo) *models.Photo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.byID[p.ID] = p
	return p
}

func (m *memPhotos) Create(_ context.Context, p *models.Photo) error {
	m.add(p)
	return nil
}

func (m *memPhotos) FindByID(_ context.Context, id uuid.UUID) (*models.Photo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPhotos) FindActiveByIDs(_ context.Context, ids []uuid.UUID) ([]models.Photo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Photo
	for _, id := range ids {
		if p, ok := m.byID[id]; ok && p.Active {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memPhotos) NextDisplayOrder(_ context.Context, eventID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := 0
	for _, p := range m.byID {
		if p.EventID == eventID && p.DisplayOrder >= next {
			next = p.DisplayOrder + 1
		}
	}
	return next, nil
}

func (m *memPhotos) IsReferenced(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.referenced[id], nil
}

func (m *memPhotos) Deactivate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Active = false
	m.deactivated = append(m.deactivated, id)
	return nil
}

func (m *memPhotos) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

// ---- orders ----

type memOrders struct {
	mu             sync.Mutex
	byID           map[uuid.UUID]*models.Order
	photos         *memPhotos
	conflictsLeft  int
	updateCalls    int
	deliveredCalls int
	now            func() time.Time
}

func newMemOrders(photos *memPhotos) *memOrders {
	return &memOrders{
		byID:   map[uuid.UUID]*models.Order{},
		photos: photos,
		now:    func() time.Time { return time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC) },
	}
}

func (m *memOrders) put(o *models.Order) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Version == 0 {
		o.Version = 1
	}
	for i := range o.Items {
		o.Items[i].OrderID = o.ID
	}
	m.byID[o.ID] = o
	return o
}

func (m *memOrders) clone(o *models.Order) *models.Order {
	cp := *o
	cp.Items = make([]models.OrderItem, len(o.Items))
	copy(cp.Items, o.Items)
	if m.photos != nil {
		for i := range cp.Items {
			if p, err := m.photos.FindByID(context.Background(), cp.Items[i].PhotoID); err == nil {
				cp.Items[i].Photo = p
			}
		}
	}
	return &cp
}

func (m *memOrders) get(id uuid.UUID) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clone(m.byID[id])
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *memOrders) Create(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	for _, existing := range m.byID {
		if existing.IdempotencyKey == o.IdempotencyKey {
			m.mu.Unlock()
			return errors.New(`duplicate key value violates unique constraint "idx_orders_idempotency_key"`)
		}
	}
	o.CreatedAt = m.now()
	m.mu.Unlock()
	stored := *o
	stored.Items = append([]models.OrderItem(nil), o.Items...)
	m.put(&stored)
	return nil
}

func (m *memOrders) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m.clone(o), nil
}

func (m *memOrders) FindByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.IdempotencyKey == key {
			return m.clone(o), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memOrders) FindByCustomerIDs(_ context.Context, ids []uuid.UUID) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[uuid.UUID]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Order
	for _, o := range m.byID {
		if want[o.CustomerID] {
			out = append(out, *m.clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memOrders) UpdateWithVersion(_ context.Context, id uuid.UUID, version int, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++
	o, ok := m.byID[id]
	if !ok {
		return repository.ErrConflict
	}
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		o.Version++
		return repository.ErrConflict
	}
	if o.Version != version {
		return repository.ErrConflict
	}
	for k, v := range updates {
		switch k {
		case "status":
			o.Status = v.(string)
		case "payment_id":
			s := v.(string)
			o.PaymentID = &s
		case "pix_qr_code":
			o.PixQRCode = v.(string)
		case "pix_qr_code_base64":
			o.PixQRCodeBase64 = v.(string)
		case "pix_ticket_url":
			o.PixTicketURL = v.(string)
		case "delivery_token":
			s := v.(string)
			o.DeliveryToken = &s
		case "delivery_expires_at":
			t := v.(time.Time)
			o.DeliveryExpiresAt = &t
		case "paid_at":
			t := v.(time.Time)
			o.PaidAt = &t
		case "failed_at":
			t := v.(time.Time)
			o.FailedAt = &t
		}
	}
	o.Version++
	return nil
}

func (m *memOrders) MarkDelivered(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveredCalls++
	o, ok := m.byID[id]
	if !ok || o.Status != models.OrderStatusPaid || o.DeliveredAt != nil {
		return false, nil
	}
	o.DeliveredAt = &at
	return true, nil
}

// ---- customers ----

type memCustomers struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*models.Customer
	creates int
}

func newMemCustomers() *memCustomers {
	return &memCustomers{byID: map[uuid.UUID]*models.Customer{}}
}

func (m *memCustomers) FindByCPFHash(_ context.Context, hash string) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byID {
		if c.CPFHash == hash {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memCustomers) FindByEmail(_ context.Context, email string) ([]models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Customer
	for _, c := range m.byID {
		if c.Email == email {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memCustomers) Create(_ context.Context, c *models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.CPFHash == c.CPFHash {
			return errors.New("duplicate cpf_hash")
		}
	}
	m.creates++
	cp := *c
	m.byID[c.ID] = &cp
	return nil
}

// ---- watermark + settings ----

type memWatermarks struct {
	asset *models.WatermarkAsset
}

func (m *memWatermarks) Get(context.Context) (*models.WatermarkAsset, error) {
	if m.asset == nil {
		return nil, repository.ErrNotFound
	}
	cp := *m.asset
	return &cp, nil
}

func (m *memWatermarks) Replace(_ context.Context, a *models.WatermarkAsset) error {
	a.ID = models.WatermarkAssetID
	if m.asset == nil {
		a.Version = 1
	} else {
		a.Version = m.asset.Version + 1
	}
	cp := *a
	m.asset = &cp
	return nil
}

type memSettings struct {
	rows []models.SiteSetting
	err  error
}

func (m *memSettings) All(context.Context) ([]models.SiteSetting, error) {
	return m.rows, m.err
}

// ---- payment gateway ----

type fakeGateway struct {
	mu          sync.Mutex
	createErr   error
	getErr      error
	payments    map[string]*providers.PaymentDetail
	creates     []providers.PixPaymentRequest
	gets        int
	nextPayment int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: map[string]*providers.PaymentDetail{}, nextPayment: 1000}
}

func (g *fakeGateway) CreatePixPayment(_ context.Context, req providers.PixPaymentRequest) (*providers.PixPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates = append(g.creates, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextPayment++
	id := fmt.Sprintf("%d", g.nextPayment)
	g.payments[id] = &providers.PaymentDetail{
		ID:                id,
		Status:            "pending",
		ExternalReference: providers.ExternalReference(req.OrderID),
		AmountCents:       req.AmountCents,
	}
	return &providers.PixPayment{ID: id, Status: "pending", QRCode: "000201-" + id, TicketURL: "https://mp.example.com/" + id}, nil
}

func (g *fakeGateway) GetPayment(_ context.Context, id string) (*providers.PaymentDetail, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gets++
	if g.getErr != nil {
		return nil, g.getErr
	}
	p, ok := g.payments[id]
	if !ok {
		return nil, errors.New("payment not found")
	}
	cp := *p
	return &cp, nil
}

func (g *fakeGateway) setPayment(id, status, orderRef string, amount int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[id] = &providers.PaymentDetail{ID: id, Status: status, ExternalReference: orderRef, AmountCents: amount}
}

// ---- metrics + events ----

type recordingMetrics struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingMetrics) RecordCount(_ context.Context, name string, _ map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	return nil
}

func (r *recordingMetrics) has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.names {
		if n == name {
			return true
		}
	}
	return false
}

type mockSNS struct {
	mu       sync.Mutex
	messages [][]byte
}

func (m *mockSNS) Publish(_ context.Context, _ string, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, append([]byte(nil), message...))
	return nil
}

type mockProducer struct {
	mu     sync.Mutex
	events []models.OrderStatusEvent
}

func (m *mockProducer) PublishOrderStatus(_ context.Context, evt models.OrderStatusEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockProducer) Close() error { return nil }
