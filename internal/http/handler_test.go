package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"flowdelivery/internal/delivery"
	"flowdelivery/internal/models"
	"flowdelivery/internal/pricing"
	"flowdelivery/internal/services"
	"flowdelivery/internal/store"
	"flowdelivery/internal/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memRepo is an in-memory stand-in for the Postgres store, mirroring its
// transactional semantics closely enough for handler-level tests.
type memRepo struct {
	mu          sync.Mutex
	stores      map[string]*models.Store
	drivers     map[string]*models.Driver
	orders      map[string]*models.Order
	assignments map[string]*models.Assignment // keyed by order id
	collections []*models.CODCollection
}

func newMemRepo() *memRepo {
	return &memRepo{
		stores:      make(map[string]*models.Store),
		drivers:     make(map[string]*models.Driver),
		orders:      make(map[string]*models.Order),
		assignments: make(map[string]*models.Assignment),
	}
}

func (m *memRepo) CreateStore(ctx context.Context, st *models.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.stores {
		if existing.Email == st.Email {
			return store.ErrDuplicate
		}
	}
	m.stores[st.StoreID] = st
	return nil
}

func (m *memRepo) StoreByEmail(ctx context.Context, email string) (*models.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.stores {
		if st.Email == email {
			return st, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memRepo) CreateDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.DriverID] = d
	return nil
}

func (m *memRepo) DriverByID(ctx context.Context, storeID, driverID string) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok || d.StoreID != storeID {
		return nil, store.ErrNotFound
	}
	out := *d
	return &out, nil
}

func (m *memRepo) DriverByToken(ctx context.Context, token string) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drivers {
		if d.AccessToken == token {
			out := *d
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memRepo) ListDrivers(ctx context.Context, storeID string) ([]*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Driver
	for _, d := range m.drivers {
		if d.StoreID == storeID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRepo) SetDriverActive(ctx context.Context, storeID, driverID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok || d.StoreID != storeID {
		return store.ErrNotFound
	}
	d.IsActive = active
	return nil
}

func (m *memRepo) CreateOrder(ctx context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.OrderID] = o
	return nil
}

func (m *memRepo) OrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *o
	return &out, nil
}

func (m *memRepo) ListOrders(ctx context.Context, storeID string) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Order
	for _, o := range m.orders {
		if o.StoreID == storeID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRepo) AssignmentByOrder(ctx context.Context, orderID string) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *a
	return &out, nil
}

func (m *memRepo) CreateAssignment(ctx context.Context, a *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[a.OrderID]; ok {
		return store.ErrAlreadyAssigned
	}
	m.assignments[a.OrderID] = a
	if d, ok := m.drivers[a.DriverID]; ok {
		d.Status = models.DriverBusy
	}
	return nil
}

func (m *memRepo) ApplyTransition(ctx context.Context, mut models.AssignmentMutation) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[mut.OrderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if a.Status != mut.ExpectedStatus {
		return nil, store.ErrStatusConflict
	}
	a.Status = mut.NewStatus
	if mut.Notes != nil {
		a.Notes = mut.Notes
	}
	if mut.ProofOfDelivery != nil {
		a.ProofOfDelivery = mut.ProofOfDelivery
	}
	if mut.CODCollected != nil {
		a.CODCollected = *mut.CODCollected
	}
	if mut.ActualDeliveryTime != nil {
		a.ActualDeliveryTime = mut.ActualDeliveryTime
	}
	if mut.OrderDelivered {
		o := m.orders[mut.OrderID]
		o.Status = models.OrderDelivered
		if mut.MarkOrderPaid {
			o.PaymentStatus = models.PaymentPaid
		}
	}
	if mut.Collection != nil {
		m.collections = append(m.collections, mut.Collection)
	}
	if mut.ReleaseDriver {
		if d, ok := m.drivers[a.DriverID]; ok {
			d.Status = models.DriverAvailable
		}
	}
	out := *a
	return &out, nil
}

var testSecret = []byte("test-secret")

func newTestServer(t *testing.T, repo *memRepo) *httptest.Server {
	t.Helper()
	log := zap.NewNop()
	hub := tracking.NewHub(log)
	h := NewHandler(
		services.NewStoreService(repo, testSecret, time.Hour),
		services.NewDriverService(repo),
		services.NewOrderService(repo),
		services.NewDeliveryService(repo, delivery.Policy{}, pricing.Policy{FlatFeeCents: 500}, hub, log),
		hub,
	)
	srv := NewServer(h, testSecret, repo, log)
	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func doJSONList(t *testing.T, method, url, token string) (int, []map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out []map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

type fixture struct {
	ts          *httptest.Server
	repo        *memRepo
	ownerToken  string
	driverID    string
	driverToken string
	orderID     string
}

// setupStoreWithOrder registers a store, creates a driver and a COD order.
func setupStoreWithOrder(t *testing.T, totalCents int64, method string) *fixture {
	t.Helper()
	repo := newMemRepo()
	ts := newTestServer(t, repo)
	f := &fixture{ts: ts, repo: repo}

	code, _ := doJSON(t, http.MethodPost, ts.URL+"/api/auth/register", "", map[string]any{
		"storeName": "Test Shop", "email": "owner@shop.test", "password": "password1",
	})
	require.Equal(t, http.StatusCreated, code)

	code, body := doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]any{
		"email": "owner@shop.test", "password": "password1",
	})
	require.Equal(t, http.StatusOK, code)
	f.ownerToken = body["token"].(string)

	code, body = doJSON(t, http.MethodPost, ts.URL+"/api/drivers", f.ownerToken, map[string]any{
		"name": "D1", "phone": "+100000001",
	})
	require.Equal(t, http.StatusCreated, code)
	f.driverID = body["driverId"].(string)
	f.driverToken = body["accessToken"].(string)

	code, body = doJSON(t, http.MethodPost, ts.URL+"/api/orders", f.ownerToken, map[string]any{
		"customerName":    "Alice",
		"deliveryAddress": "1 Main St",
		"totalCents":      totalCents,
		"paymentMethod":   method,
	})
	require.Equal(t, http.StatusCreated, code)
	f.orderID = body["orderId"].(string)
	return f
}

func (f *fixture) driverStatus(t *testing.T) string {
	t.Helper()
	code, drivers := doJSONList(t, http.MethodGet, f.ts.URL+"/api/drivers", f.ownerToken)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, drivers, 1)
	return drivers[0]["status"].(string)
}

func TestDeliveryFlowEndToEnd(t *testing.T) {
	f := setupStoreWithOrder(t, 2500, "cod")

	code, body := doJSON(t, http.MethodPost, f.ts.URL+"/delivery/"+f.orderID, f.ownerToken,
		map[string]any{"driverId": f.driverID})
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, float64(2500), body["codAmountCents"])
	assert.Equal(t, "busy", f.driverStatus(t))

	code, body = doJSON(t, http.MethodPatch, f.ts.URL+"/delivery/"+f.orderID+"/status", f.ownerToken,
		map[string]any{"status": "picked_up"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "picked_up", body["status"])

	code, body = doJSON(t, http.MethodPatch, f.ts.URL+"/delivery/"+f.orderID+"/status", f.driverToken,
		map[string]any{"status": "in_transit"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "in_transit", body["status"])

	code, body = doJSON(t, http.MethodPatch, f.ts.URL+"/delivery/"+f.orderID+"/status", f.driverToken,
		map[string]any{"status": "delivered", "codCollected": true})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "delivered", body["status"])
	assert.NotEmpty(t, body["actualDeliveryTime"])

	// Public tracking view, no credential.
	code, body = doJSON(t, http.MethodGet, f.ts.URL+"/delivery/"+f.orderID, "", nil)
	require.Equal(t, http.StatusOK, code)
	order := body["order"].(map[string]any)
	assert.Equal(t, "DELIVERED", order["status"])
	assert.Equal(t, "paid", order["paymentStatus"])
	assignment := body["assignment"].(map[string]any)
	assert.Equal(t, "delivered", assignment["status"])
	assert.Equal(t, "D1", assignment["driverName"])

	timeline := body["timeline"].([]any)
	require.Len(t, timeline, 5)
	last := timeline[len(timeline)-1].(map[string]any)
	assert.Equal(t, "DELIVERED", last["status"])
	assert.Equal(t, true, last["completed"])
	assert.Equal(t, true, last["current"])

	assert.Equal(t, "available", f.driverStatus(t))
	require.Len(t, f.repo.collections, 1)
	assert.Equal(t, int64(2500), f.repo.collections[0].AmountCents)
}

func TestAssignTwiceReturnsConflict(t *testing.T) {
	f := setupStoreWithOrder(t, 2500, "cod")

	code, _ := doJSON(t, http.MethodPost, f.ts.URL+"/delivery/"+f.orderID, f.ownerToken,
		map[string]any{"driverId": f.driverID})
	require.Equal(t, http.StatusCreated, code)

	code, body := doJSON(t, http.MethodPost, f.ts.URL+"/delivery/"+f.orderID, f.ownerToken,
		map[string]any{"driverId": f.driverID})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_ASSIGNED", errorCode(body))
}

func TestSkippingStatesIsRejectedWithoutSideEffects(t *testing.T) {
	f := setupStoreWithOrder(t, 2500, "cod")

	code, _ := doJSON(t, http.MethodPost, f.ts.URL+"/delivery/"+f.orderID, f.ownerToken,
		map[string]any{"driverId": f.driverID})
	require.Equal(t, http.StatusCreated, code)

	code, body := doJSON(t, http.MethodPatch, f.ts.URL+"/delivery/"+f.orderID+"/status", f.driverToken,
		map[string]any{"status": "delivered", "codCollected": true})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_TRANSITION", errorCode(body))

	// Nothing moved: assignment still pending, driver still busy, order unpaid.
	code, body = doJSON(t, http.MethodGet, f.ts.URL+"/delivery/"+f.orderID, "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pending", body["assignment"].(map[string]any)["status"])
	assert.Equal(t, "pending", body["order"].(map[string]any)["paymentStatus"])
	assert.Equal(t, "busy", f.driverStatus(t))
	assert.Empty(t, f.repo.collections)
}

func TestForeignDriverTokenIsUnauthorized(t *testing.T) {
	f := setupStoreWithOrder(t, 2500, "cod")

	code, body := doJSON(t, http.MethodPost, f.ts.URL+"/api/drivers", f.ownerToken,
		map[string]any{"name": "D2"})
	require.Equal(t, http.StatusCreated, code)
	foreignToken := body["accessToken"].(string)

	code, _ = doJSON(t, http.MethodPost, f.ts.URL+"/delivery/"+f.orderID, f.ownerToken,
		map[string]any{"driverId": f.driverID})
	require.Equal(t, http.StatusCreated, code)

	code, body = doJSON(t, http.MethodPatch, f.ts.URL+"/delivery/"+f.orderID+"/status", foreignToken,
		map[string]any{"status": "picked_up"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestFailedDeliveryFreesDriverAndKeepsOrder(t *testing.T) {
	f := setupStoreWithOrder(t, 2500, "cod")

	code, _ := doJSON(t, http.MethodPost, f.ts.URL+"/delivery/"+f.orderID, f.ownerToken,
		map[string]any{"driverId": f.driverID})
	require.Equal(t, http.StatusCreated, code)

	code, body := doJSON(t, http.MethodPatch, f.ts.URL+"/delivery/"+f.orderID+"/status", f.driverToken,
		map[string]any{"status": "failed", "notes": "customer unreachable"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "failed", body["status"])

	assert.Equal(t, "available", f.driverStatus(t))
	code, body = doJSON(t, http.MethodGet, f.ts.URL+"/delivery/"+f.orderID, "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "PENDING", body["order"].(map[string]any)["status"])
}

func TestDeliveryStatusWithoutAssignment(t *testing.T) {
	f := setupStoreWithOrder(t, 2500, "cod")

	code, body := doJSON(t, http.MethodPatch, f.ts.URL+"/delivery/"+f.orderID+"/status", f.ownerToken,
		map[string]any{"status": "picked_up"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NO_ASSIGNMENT", errorCode(body))
}

func TestAssignUnknownDriver(t *testing.T) {
	f := setupStoreWithOrder(t, 2500, "cod")

	code, body := doJSON(t, http.MethodPost, f.ts.URL+"/delivery/"+f.orderID, f.ownerToken,
		map[string]any{"driverId": "nope"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "DRIVER_NOT_FOUND", errorCode(body))
}

func TestTrackingUnknownOrder(t *testing.T) {
	f := setupStoreWithOrder(t, 2500, "cod")

	code, body := doJSON(t, http.MethodGet, f.ts.URL+"/delivery/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", errorCode(body))
}

func TestOwnerRoutesRequireSession(t *testing.T) {
	repo := newMemRepo()
	ts := newTestServer(t, repo)

	code, body := doJSON(t, http.MethodGet, ts.URL+"/api/drivers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	code, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/drivers", ts.URL), "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}

func TestDriverTokenCannotUseOwnerRoutes(t *testing.T) {
	f := setupStoreWithOrder(t, 2500, "cod")

	code, body := doJSON(t, http.MethodGet, f.ts.URL+"/api/drivers", f.driverToken, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))
}
