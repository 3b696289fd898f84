package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/rzpsub/pkg/billing"
	"github.com/mihaimyh/rzpsub/storage/memory"
)

const testSecret = "whsec_test"

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

var testPlans = billing.Plans{
	{Name: "Starter", PlanID: "plan_S", Group: "main"},
	{Name: "Pro", PlanID: "plan_X", AnnualPlanID: "plan_XA", Group: "main"},
	{Name: "Team", PlanID: "plan_T", SeatBased: true},
	{Name: "Trial", PlanID: "plan_TR", FreeTrialDays: 14},
}

// fakeService is an in-memory stand-in for the provider REST API.
type fakeService struct {
	mu        sync.Mutex
	seq       int
	subs      map[string]*SubscriptionEntity
	calls     map[string]int
	created   []CreateSubscriptionParams
	updates   []UpdateSubscriptionParams
	customers []CreateCustomerParams
	err       error
}

func newFakeService() *fakeService {
	return &fakeService{subs: map[string]*SubscriptionEntity{}, calls: map[string]int{}}
}

func (f *fakeService) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeService) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeService) failWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeService) begin(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.err
}

func (f *fakeService) mutate(id string, fn func(*SubscriptionEntity)) (*SubscriptionEntity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s does not exist", id)
	}
	fn(s)
	c := *s
	return &c, nil
}

func (f *fakeService) CreateSubscription(_ context.Context, params CreateSubscriptionParams) (*SubscriptionEntity, error) {
	if err := f.begin("create"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	s := &SubscriptionEntity{
		ID:         fmt.Sprintf("sub_%d", f.seq),
		PlanID:     params.PlanID,
		CustomerID: params.CustomerID,
		Status:     "created",
		Quantity:   params.Quantity,
		TotalCount: params.TotalCount,
		StartAt:    params.StartAt,
		ShortURL:   fmt.Sprintf("https://rzp.io/i/%d", f.seq),
		Notes:      Notes(params.Notes),
	}
	f.subs[s.ID] = s
	f.created = append(f.created, params)
	c := *s
	return &c, nil
}

func (f *fakeService) UpdateSubscription(_ context.Context, id string, params UpdateSubscriptionParams) (*SubscriptionEntity, error) {
	if err := f.begin("update"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.updates = append(f.updates, params)
	f.mu.Unlock()
	return f.mutate(id, func(s *SubscriptionEntity) {
		if params.ScheduleChangeAt == ScheduleCycleEnd {
			s.HasScheduledChanges = true
			return
		}
		if params.PlanID != "" {
			s.PlanID = params.PlanID
		}
		if params.Quantity != nil {
			s.Quantity = *params.Quantity
		}
		if params.RemainingCount != nil {
			s.RemainingCount = *params.RemainingCount
		}
	})
}

func (f *fakeService) CancelSubscription(_ context.Context, id string, atCycleEnd bool) (*SubscriptionEntity, error) {
	if err := f.begin("cancel"); err != nil {
		return nil, err
	}
	return f.mutate(id, func(s *SubscriptionEntity) {
		if atCycleEnd {
			v := true
			s.CancelAtCycleEnd = &v
			return
		}
		s.Status = "cancelled"
		s.EndedAt = testNow.Unix()
	})
}

func (f *fakeService) PauseSubscription(_ context.Context, id string) (*SubscriptionEntity, error) {
	if err := f.begin("pause"); err != nil {
		return nil, err
	}
	return f.mutate(id, func(s *SubscriptionEntity) {
		s.Status = "paused"
		s.PausedAt = testNow.Unix()
	})
}

func (f *fakeService) ResumeSubscription(_ context.Context, id string) (*SubscriptionEntity, error) {
	if err := f.begin("resume"); err != nil {
		return nil, err
	}
	return f.mutate(id, func(s *SubscriptionEntity) {
		s.Status = "active"
		s.PausedAt = 0
	})
}

func (f *fakeService) CancelScheduledChanges(_ context.Context, id string) (*SubscriptionEntity, error) {
	if err := f.begin("cancel_scheduled_changes"); err != nil {
		return nil, err
	}
	return f.mutate(id, func(s *SubscriptionEntity) {
		s.HasScheduledChanges = false
		s.CancelAtCycleEnd = nil
	})
}

func (f *fakeService) CreateCustomer(_ context.Context, params CreateCustomerParams) (*CustomerEntity, error) {
	if err := f.begin("customer"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers = append(f.customers, params)
	return &CustomerEntity{
		ID:    fmt.Sprintf("cust_%d", len(f.customers)),
		Name:  params.Name,
		Email: params.Email,
		Notes: Notes(params.Notes),
	}, nil
}

// recordingCallbacks counts lifecycle notifications.
type recordingCallbacks struct {
	NoopCallbacks

	mu        sync.Mutex
	calls     []string
	last      map[string]SubscriptionEvent
	events    []string
	customers []CustomerEvent
	fail      error
	panicOn   string
}

func newRecordingCallbacks() *recordingCallbacks {
	return &recordingCallbacks{last: map[string]SubscriptionEvent{}}
}

func (r *recordingCallbacks) record(name string, ev SubscriptionEvent) error {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.last[name] = ev
	fail, panicOn := r.fail, r.panicOn
	r.mu.Unlock()
	if panicOn == name {
		panic("callback exploded")
	}
	return fail
}

func (r *recordingCallbacks) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (r *recordingCallbacks) OnSubscriptionAuthenticated(_ context.Context, ev SubscriptionEvent) error {
	return r.record("authenticated", ev)
}

func (r *recordingCallbacks) OnSubscriptionActivated(_ context.Context, ev SubscriptionEvent) error {
	return r.record("activated", ev)
}

func (r *recordingCallbacks) OnSubscriptionCharged(_ context.Context, ev SubscriptionEvent) error {
	return r.record("charged", ev)
}

func (r *recordingCallbacks) OnSubscriptionCompleted(_ context.Context, ev SubscriptionEvent) error {
	return r.record("completed", ev)
}

func (r *recordingCallbacks) OnSubscriptionUpdated(_ context.Context, ev SubscriptionEvent) error {
	return r.record("updated", ev)
}

func (r *recordingCallbacks) OnSubscriptionPaused(_ context.Context, ev SubscriptionEvent) error {
	return r.record("paused", ev)
}

func (r *recordingCallbacks) OnSubscriptionResumed(_ context.Context, ev SubscriptionEvent) error {
	return r.record("resumed", ev)
}

func (r *recordingCallbacks) OnSubscriptionCancelled(_ context.Context, ev SubscriptionEvent) error {
	return r.record("cancelled", ev)
}

func (r *recordingCallbacks) OnEvent(_ context.Context, ev *Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev.Type)
	fail := r.fail
	r.mu.Unlock()
	return fail
}

func (r *recordingCallbacks) OnCustomerCreated(_ context.Context, ev CustomerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customers = append(r.customers, ev)
	return nil
}

// recordingMetrics keeps the labels the provider reports.
type recordingMetrics struct {
	billing.NoopMetrics

	mu        sync.Mutex
	webhooks  []string
	errors    []string
	seatSyncs []string
	callbacks []string
}

func (m *recordingMetrics) RecordWebhookEvent(_, eventType, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks = append(m.webhooks, eventType+":"+status)
}

func (m *recordingMetrics) RecordWebhookError(_, errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, errorType)
}

func (m *recordingMetrics) RecordSeatSync(_, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seatSyncs = append(m.seatSyncs, status)
}

func (m *recordingMetrics) RecordCallbackError(_, callback string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// recordingLogger keeps info-level entries with their fields.
type recordingLogger struct {
	billing.NoopLogger

	mu      sync.Mutex
	entries map[string]map[string]interface{}
}

func (l *recordingLogger) Info(msg string, fields ...billing.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries == nil {
		l.entries = map[string]map[string]interface{}{}
	}
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	l.entries[msg] = m
}

func (l *recordingLogger) entry(msg string) (map[string]interface{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.entries[msg]
	return m, ok
}

type harness struct {
	provider  *Provider
	store     *memory.Storage
	service   *fakeService
	callbacks *recordingCallbacks
	metrics   *recordingMetrics
	ids       atomic.Int64
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		store:     memory.New(),
		service:   newFakeService(),
		callbacks: newRecordingCallbacks(),
		metrics:   &recordingMetrics{},
	}
	cfg := Config{
		Config: billing.Config{
			Storage:       h.store,
			Plans:         testPlans,
			WebhookSecret: testSecret,
			Metrics:       h.metrics,
			Clock:         func() time.Time { return testNow },
		},
		Service:   h.service,
		Callbacks: h.callbacks,
		NewID: func() string {
			return fmt.Sprintf("local_%d", h.ids.Add(1))
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	p, err := NewProvider(cfg)
	require.NoError(t, err)
	h.provider = p
	return h
}

func withOrganizations(members int) func(*Config) {
	return func(c *Config) {
		c.Organization = OrganizationConfig{
			Enabled: true,
			Members: MemberCounterFunc(func(context.Context, string) (int, error) { return members, nil }),
		}
		c.AuthorizeReference = func(_ context.Context, req AuthorizeRequest) (bool, error) {
			return req.ReferenceID == "org1", nil
		}
	}
}

func actor(userID string) *billing.Actor {
	return &billing.Actor{
		User:    billing.User{ID: userID, Email: userID + "@example.com", Name: userID, EmailVerified: true},
		Session: billing.Session{ID: "sess_" + userID, UserID: userID},
	}
}

// seed stores a subscription row directly.
func (h *harness) seed(t *testing.T, fn func(*billing.Subscription)) *billing.Subscription {
	t.Helper()
	sub := billing.NewSubscription(fmt.Sprintf("seed_%d", h.ids.Add(1)), "user1", "pro")
	sub.CustomerType = billing.CustomerTypeUser
	sub.GroupID = "main"
	sub.CreatedAt = testNow.Add(-time.Hour)
	sub.UpdatedAt = sub.CreatedAt
	if fn != nil {
		fn(sub)
	}
	require.NoError(t, h.store.CreateSubscription(context.Background(), sub))
	return sub
}

// seedRemote registers a provider-side subscription the fake can act on.
func (h *harness) seedRemote(entity SubscriptionEntity) {
	h.service.mu.Lock()
	defer h.service.mu.Unlock()
	c := entity
	h.service.subs[entity.ID] = &c
}

func eventBody(t *testing.T, name string, entity *SubscriptionEntity) []byte {
	t.Helper()
	ev := map[string]interface{}{
		"entity":     "event",
		"account_id": "acc_test",
		"event":      name,
		"contains":   []string{"subscription"},
		"payload":    map[string]interface{}{},
		"created_at": testNow.Unix(),
	}
	if entity != nil {
		ev["payload"] = map[string]interface{}{
			"subscription": map[string]interface{}{"entity": entity},
		}
	}
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return body
}

func (h *harness) post(body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	h.provider.WebhookHandler().ServeHTTP(w, req)
	return w
}

// deliver sends a correctly signed event and requires a 200.
func (h *harness) deliver(t *testing.T, name string, entity SubscriptionEntity) {
	t.Helper()
	body := eventBody(t, name, &entity)
	w := h.post(body, SignHex(body, testSecret))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func (h *harness) get(t *testing.T, id string) *billing.Subscription {
	t.Helper()
	sub, err := h.store.GetSubscription(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func (h *harness) byProvider(t *testing.T, providerID string) *billing.Subscription {
	t.Helper()
	sub, err := h.store.FindByProviderSubscriptionID(context.Background(), providerID)
	require.NoError(t, err)
	return sub
}

var errRemote = errors.New("razorpay: BAD_REQUEST_ERROR")
