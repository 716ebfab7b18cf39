package service

import (
	"context"
	"sync"
	"time"

	"github.com/khemia0101-del/openclaw-concierge/internal/client"
	"github.com/khemia0101-del/openclaw-concierge/internal/models"
	"github.com/khemia0101-del/openclaw-concierge/internal/repository"
)

// stubGateway is an in-memory PaymentGateway.
type stubGateway struct {
	mu            sync.Mutex
	sessions      map[string]*client.PaymentSession
	createdParams []client.CheckoutParams
	createResult  *client.CheckoutSession
	renewal       time.Time
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		sessions:     make(map[string]*client.PaymentSession),
		createResult: &client.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"},
		renewal:      time.Now().Add(30 * 24 * time.Hour),
	}
}

func (s *stubGateway) CreateCheckoutSession(_ context.Context, p client.CheckoutParams) (*client.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createdParams = append(s.createdParams, p)
	return s.createResult, nil
}

func (s *stubGateway) GetCheckoutSession(_ context.Context, sessionID string) (*client.PaymentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubGateway) RenewalDate(_ context.Context, _ string) time.Time {
	return s.renewal
}

// memSubs is an in-memory subscription store.
type memSubs struct {
	mu     sync.Mutex
	byUser map[int64]*models.Subscription
}

func newMemSubs() *memSubs {
	return &memSubs{byUser: make(map[int64]*models.Subscription)}
}

func (m *memSubs) CreateIfAbsent(_ context.Context, sub *models.Subscription) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byUser[sub.UserID]; exists {
		return false, nil
	}
	cp := *sub
	m.byUser[sub.UserID] = &cp
	return true, nil
}

func (m *memSubs) GetByUserID(_ context.Context, userID int64) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.byUser[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *memSubs) ReassignUser(_ context.Context, fromUserID, toUserID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.byUser[fromUserID]; ok {
		delete(m.byUser, fromUserID)
		sub.UserID = toUserID
		m.byUser[toUserID] = sub
	}
	return nil
}

// memBilling is an in-memory billing ledger.
type memBilling struct {
	mu      sync.Mutex
	records []*models.BillingRecord
}

func (m *memBilling) Create(_ context.Context, rec *models.BillingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records = append(m.records, &cp)
	return nil
}

func (m *memBilling) GetByUserID(_ context.Context, userID int64) ([]*models.BillingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BillingRecord
	for _, rec := range m.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memBilling) ReassignUser(_ context.Context, fromUserID, toUserID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.UserID == fromUserID {
			rec.UserID = toUserID
		}
	}
	return nil
}

// memLeads records lead calls without real storage semantics.
type memLeads struct {
	mu       sync.Mutex
	upserts  []*models.Lead
	paid     []string
	assigned []string
}

func (m *memLeads) UpsertCheckoutStarted(_ context.Context, lead *models.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, lead)
	return nil
}

func (m *memLeads) MarkPaid(_ context.Context, email string, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paid = append(m.paid, email)
	return nil
}

func (m *memLeads) AssignUser(_ context.Context, email string, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assigned = append(m.assigned, email)
	return nil
}

// recConversions records affiliate conversion hook invocations.
type recConversions struct {
	mu      sync.Mutex
	calls   int
	records []*models.BillingRecord
}

func (r *recConversions) RecordConversion(_ context.Context, _ int64, _ string, records []*models.BillingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.records = append(r.records, records...)
	return nil
}

// memInstances is an in-memory single-user instance store. The done channel
// receives the terminal status once a background provision writes back.
type memInstances struct {
	mu            sync.Mutex
	inst          *models.Instance
	upserts       int
	timedOutCalls int
	resetCalls    int
	done          chan string
}

func newMemInstances() *memInstances {
	return &memInstances{done: make(chan string, 4)}
}

func (m *memInstances) UpsertForDeploy(_ context.Context, inst *models.Instance) (*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inst != nil && m.inst.Status != models.StatusProvisioning && m.inst.Status != models.StatusError {
		return nil, repository.ErrInstanceActive
	}
	m.upserts++
	if m.inst == nil {
		cp := *inst
		cp.Status = models.StatusProvisioning
		cp.CreatedAt = time.Now()
		cp.UpdatedAt = cp.CreatedAt
		m.inst = &cp
	} else {
		m.inst.SubscriptionID = inst.SubscriptionID
		m.inst.Status = models.StatusProvisioning
		m.inst.AIRole = inst.AIRole
		m.inst.TelegramBotToken = inst.TelegramBotToken
		m.inst.Config = inst.Config
		m.inst.DOAppID = nil
		m.inst.ErrorMessage = nil
		m.inst.CreatedAt = time.Now()
	}
	cp := *m.inst
	return &cp, nil
}

func (m *memInstances) GetByUserID(_ context.Context, userID int64) (*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inst == nil || m.inst.UserID != userID || m.inst.Status == models.StatusDeleted {
		return nil, repository.ErrNotFound
	}
	cp := *m.inst
	return &cp, nil
}

func (m *memInstances) GetByID(_ context.Context, id string) (*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inst == nil || m.inst.ID != id {
		return nil, repository.ErrNotFound
	}
	cp := *m.inst
	return &cp, nil
}

func (m *memInstances) MarkRunning(_ context.Context, id, doAppID string, config models.InstanceConfig) error {
	m.mu.Lock()
	m.inst.Status = models.StatusRunning
	m.inst.DOAppID = &doAppID
	m.inst.Config = config
	m.inst.ErrorMessage = nil
	m.mu.Unlock()
	m.done <- models.StatusRunning
	return nil
}

func (m *memInstances) MarkError(_ context.Context, id, message string) error {
	m.mu.Lock()
	m.inst.Status = models.StatusError
	m.inst.ErrorMessage = &message
	m.mu.Unlock()
	m.done <- models.StatusError
	return nil
}

func (m *memInstances) MarkTimedOut(_ context.Context, id string, cutoff time.Time, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timedOutCalls++
	if m.inst.Status == models.StatusProvisioning && m.inst.CreatedAt.Before(cutoff) {
		m.inst.Status = models.StatusError
		m.inst.ErrorMessage = &message
		return true, nil
	}
	return false, nil
}

func (m *memInstances) ResetForRetry(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetCalls++
	if m.inst.Status != models.StatusError {
		return false, nil
	}
	m.inst.Status = models.StatusProvisioning
	m.inst.ErrorMessage = nil
	m.inst.DOAppID = nil
	m.inst.CreatedAt = time.Now()
	return true, nil
}

func (m *memInstances) MarkDeleted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inst.Status = models.StatusDeleted
	return nil
}

func (m *memInstances) ReassignUser(_ context.Context, fromUserID, toUserID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inst != nil && m.inst.UserID == fromUserID {
		m.inst.UserID = toUserID
	}
	return nil
}

func (m *memInstances) current() models.Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.inst
}

// stubPlatform is a controllable AppPlatform.
type stubPlatform struct {
	mu           sync.Mutex
	configured   bool
	createErr    error
	result       *client.CreateAppResult
	lastParams   client.CreateAppParams
	createCalls  int
	restartCalls int
	deleteCalls  int
	block        chan struct{}
}

func newStubPlatform() *stubPlatform {
	return &stubPlatform{
		configured: true,
		result:     &client.CreateAppResult{AppID: "app-123", LiveURL: "https://openclaw-test.ondigitalocean.app"},
	}
}

func (p *stubPlatform) Configured() bool { return p.configured }

func (p *stubPlatform) CreateApp(_ context.Context, params client.CreateAppParams) (*client.CreateAppResult, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	p.lastParams = params
	if p.createErr != nil {
		return nil, p.createErr
	}
	return p.result, nil
}

func (p *stubPlatform) RestartApp(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restartCalls++
	return nil
}

func (p *stubPlatform) DeleteApp(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleteCalls++
	return nil
}

func (p *stubPlatform) GetLogs(_ context.Context, _ string) ([]string, error) {
	return []string{"https://logs.example/live"}, nil
}

// nopLogs discards audit entries.
type nopLogs struct{}

func (nopLogs) LogAction(_ context.Context, _, _, _, _ string) error { return nil }

// memAffiliates is an in-memory AffiliateStore.
type memAffiliates struct {
	mu          sync.Mutex
	byID        map[string]*models.Affiliate
	referrals   []*models.Referral
	commissions map[string]*models.Commission // keyed billing_record_id + type
	increments  []int64
}

func newMemAffiliates() *memAffiliates {
	return &memAffiliates{
		byID:        make(map[string]*models.Affiliate),
		commissions: make(map[string]*models.Commission),
	}
}

func (m *memAffiliates) Create(_ context.Context, aff *models.Affiliate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *aff
	m.byID[aff.ID] = &cp
	return nil
}

func (m *memAffiliates) GetByUserID(_ context.Context, userID int64) (*models.Affiliate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, aff := range m.byID {
		if aff.UserID == userID {
			cp := *aff
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memAffiliates) GetByID(_ context.Context, id string) (*models.Affiliate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	aff, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *aff
	return &cp, nil
}

func (m *memAffiliates) GetByCode(_ context.Context, code string) (*models.Affiliate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, aff := range m.byID {
		if aff.Code == code {
			cp := *aff
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memAffiliates) IncrementEarnings(_ context.Context, affiliateID string, amountCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.increments = append(m.increments, amountCents)
	if aff, ok := m.byID[affiliateID]; ok {
		aff.TotalEarningsCents += amountCents
		aff.PendingEarningsCents += amountCents
	}
	return nil
}

func (m *memAffiliates) CreateReferral(_ context.Context, ref *models.Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ref
	m.referrals = append(m.referrals, &cp)
	return nil
}

func (m *memAffiliates) GetReferralByReferredUser(_ context.Context, userID int64) (*models.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ref := range m.referrals {
		if ref.ReferredUserID != nil && *ref.ReferredUserID == userID {
			cp := *ref
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memAffiliates) ListReferrals(_ context.Context, affiliateID string) ([]*models.Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Referral
	for _, ref := range m.referrals {
		if ref.AffiliateID == affiliateID {
			cp := *ref
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memAffiliates) MarkReferralSubscribed(_ context.Context, referralID, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ref := range m.referrals {
		if ref.ID == referralID {
			ref.Status = models.ReferralStatusSubscribed
			ref.SubscriptionID = &subscriptionID
		}
	}
	return nil
}

func (m *memAffiliates) CreateCommission(_ context.Context, com *models.Commission) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := com.BillingRecordID + "/" + com.Type
	if _, exists := m.commissions[key]; exists {
		return false, nil
	}
	cp := *com
	m.commissions[key] = &cp
	return true, nil
}
