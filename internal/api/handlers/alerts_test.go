package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitaqr/go-eds/internal/dispatch"
	"github.com/vitaqr/go-eds/internal/domain/alert"
	"github.com/vitaqr/go-eds/internal/domain/profile"
	"github.com/vitaqr/go-eds/internal/geo"
	"github.com/vitaqr/go-eds/internal/hospital"
	"github.com/vitaqr/go-eds/internal/notify"
	"github.com/vitaqr/go-eds/internal/realtime"
)

type fakeAlertStore struct {
	mu     sync.Mutex
	alerts map[uuid.UUID]*alert.PanicAlert
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{alerts: make(map[uuid.UUID]*alert.PanicAlert)}
}

func (s *fakeAlertStore) Create(_ context.Context, a *alert.PanicAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[a.ID] = a
	return nil
}

func (s *fakeAlertStore) AttachDeliveries(_ context.Context, id uuid.UUID, deliveries []alert.DeliveryOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.alerts[id]; ok {
		a.Deliveries = deliveries
	}
	return nil
}

func (s *fakeAlertStore) Cancel(_ context.Context, id, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.UserID != userID || a.Status != alert.StatusActive {
		return alert.ErrNotFoundOrInactive
	}
	return a.Cancel()
}

func (s *fakeAlertStore) GetByID(_ context.Context, id, userID uuid.UUID) (*alert.PanicAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.UserID != userID {
		return nil, alert.ErrNotFoundOrInactive
	}
	return a, nil
}

func (s *fakeAlertStore) ListActive(_ context.Context, userID uuid.UUID) ([]*alert.PanicAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*alert.PanicAlert
	for _, a := range s.alerts {
		if a.UserID == userID && a.Status == alert.StatusActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeAlertStore) ListHistory(_ context.Context, userID uuid.UUID, _ int) ([]*alert.PanicAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*alert.PanicAlert
	for _, a := range s.alerts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeProfileStore struct {
	users map[uuid.UUID]*profile.User
}

func (s *fakeProfileStore) GetUserWithRepresentatives(_ context.Context, userID uuid.UUID) (*profile.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return nil, profile.ErrUserNotFound
	}
	return u, nil
}

func (s *fakeProfileStore) GetConditions(_ context.Context, _ uuid.UUID) ([]string, error) {
	return []string{"asthma"}, nil
}

type fakeFinder struct{}

func (fakeFinder) FindNearby(_ context.Context, _ geo.Point, _ []string) ([]*hospital.Candidate, error) {
	return nil, nil
}

type fakeNotifier struct{}

func (fakeNotifier) NotifyAll(_ context.Context, reps []*profile.Representative, _ notify.Event) []*notify.RecipientResult {
	results := make([]*notify.RecipientResult, 0, len(reps))
	for _, rep := range reps {
		results = append(results, &notify.RecipientResult{
			Representative: rep,
			SMS:            notify.StatusSent,
			WhatsApp:       notify.StatusSent,
			Email:          notify.StatusSkipped,
		})
	}
	return results
}

func newTestHandler(t *testing.T) (*AlertHandler, uuid.UUID, *fakeAlertStore) {
	t.Helper()

	userID := uuid.New()
	profiles := &fakeProfileStore{users: map[uuid.UUID]*profile.User{
		userID: {
			ID:     userID,
			Name:   "María García",
			Locale: "es-MX",
			Representatives: []*profile.Representative{
				{ID: uuid.New(), Name: "Ana", Phone: "+5215512345678", Priority: 1, NotifyEmergency: true},
			},
		},
	}}

	store := newFakeAlertStore()
	orch := dispatch.New(store, profiles, fakeFinder{}, fakeNotifier{}, realtime.NewHub(), zap.NewNop())
	return NewAlertHandler(orch, zap.NewNop()), userID, store
}

func doRequest(t *testing.T, h *AlertHandler, method, path string, userID uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if userID != uuid.Nil {
		req.Header.Set("X-User-ID", userID.String())
	}

	rec := httptest.NewRecorder()
	router := chi.NewRouter()
	router.Mount("/alerts", h.Routes())
	router.ServeHTTP(rec, req)
	return rec
}

func TestTriggerCreatesAlert(t *testing.T) {
	h, userID, store := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/alerts", userID, TriggerRequest{Lat: 19.4326, Lng: -99.1332})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var res dispatch.ActivateResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if res.Alert == nil || res.Alert.Status != alert.StatusActive {
		t.Fatalf("unexpected alert in response: %+v", res.Alert)
	}
	if len(res.Notified) != 1 {
		t.Fatalf("notified = %d, want 1", len(res.Notified))
	}
	if _, err := store.GetByID(context.Background(), res.Alert.ID, userID); err != nil {
		t.Errorf("alert not persisted: %v", err)
	}
}

func TestTriggerInvalidLocation(t *testing.T) {
	h, userID, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/alerts", userID, TriggerRequest{Lat: 91, Lng: 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestTriggerUnknownUser(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/alerts", uuid.New(), TriggerRequest{Lat: 19.4, Lng: -99.1})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestTriggerRequiresIdentity(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/alerts", uuid.Nil, TriggerRequest{Lat: 19.4, Lng: -99.1})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestCancelLifecycle(t *testing.T) {
	h, userID, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/alerts", userID, TriggerRequest{Lat: 19.4326, Lng: -99.1332})
	var res dispatch.ActivateResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	rec = doRequest(t, h, http.MethodPost, "/alerts/"+res.Alert.ID.String()+"/cancel", userID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Second cancel sees an inactive alert.
	rec = doRequest(t, h, http.MethodPost, "/alerts/"+res.Alert.ID.String()+"/cancel", userID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("double cancel status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCancelForeignAlertNotFound(t *testing.T) {
	h, userID, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/alerts", userID, TriggerRequest{Lat: 19.4326, Lng: -99.1332})
	var res dispatch.ActivateResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	// A different caller gets the same 404 as for a missing alert.
	rec = doRequest(t, h, http.MethodPost, "/alerts/"+res.Alert.ID.String()+"/cancel", uuid.New(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign cancel status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestListActiveEmpty(t *testing.T) {
	h, userID, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/alerts/active", userID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Alerts []*alert.PanicAlert `json:"alerts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Alerts == nil || len(body.Alerts) != 0 {
		t.Fatalf("alerts = %v, want empty array", body.Alerts)
	}
}

func TestGetInvalidID(t *testing.T) {
	h, userID, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/alerts/not-a-uuid", userID, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
