package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/khemia0101-del/openclaw-concierge/internal/config"
	"github.com/khemia0101-del/openclaw-concierge/internal/models"
	"github.com/khemia0101-del/openclaw-concierge/internal/repository"
)

type stubConfirmer struct {
	calls int
	fn    func(ctx context.Context) error
}

func (s *stubConfirmer) VerifyPayment(ctx context.Context, _ string) (*models.VerifyPaymentResponse, error) {
	s.calls++
	if s.fn != nil {
		if err := s.fn(ctx); err != nil {
			return nil, err
		}
	}
	return &models.VerifyPaymentResponse{Success: true}, nil
}

type provisionFixture struct {
	svc       *ProvisionService
	instances *memInstances
	subs      *memSubs
	billing   *memBilling
	platform  *stubPlatform
	gateway   *stubGateway
	confirmer *stubConfirmer
}

func newProvisionFixture(t *testing.T) *provisionFixture {
	t.Helper()
	f := &provisionFixture{
		instances: newMemInstances(),
		subs:      newMemSubs(),
		billing:   &memBilling{},
		platform:  newStubPlatform(),
		gateway:   newStubGateway(),
		confirmer: &stubConfirmer{},
	}
	cfg := &config.Config{
		DigitalOcean: config.DigitalOceanConfig{
			Region:   "nyc",
			Image:    "alpine/openclaw",
			ImageTag: "latest",
			HTTPPort: 8080,
		},
		ModelKeys: config.ModelKeyConfig{OpenRouterKey: "sk-or-platform"},
	}
	f.svc = NewProvisionService(cfg, f.instances, f.subs, f.billing, nopLogs{}, f.platform,
		f.gateway, f.confirmer, zap.NewNop())
	return f
}

func (f *provisionFixture) seedSubscription(userID int64, tier string) *models.Subscription {
	sub := &models.Subscription{
		ID:     uuid.New().String(),
		UserID: userID,
		Tier:   tier,
		Status: models.SubStatusActive,
	}
	f.subs.CreateIfAbsent(context.Background(), sub)
	return sub
}

func (f *provisionFixture) seedPaidSession(sessionID string, userID string) {
	f.gateway.sessions[sessionID] = paidSession(userID, models.TierPro, "ada@example.com")
	f.gateway.sessions[sessionID].ID = sessionID
}

func (f *provisionFixture) seedInstance(userID int64, status string, age time.Duration) *models.Instance {
	appID := "app-old"
	inst := &models.Instance{
		ID:        uuid.New().String(),
		UserID:    userID,
		Status:    status,
		CreatedAt: time.Now().Add(-age),
	}
	if status == models.StatusRunning {
		inst.DOAppID = &appID
	}
	f.instances.inst = inst
	return inst
}

func waitForStatus(t *testing.T, f *provisionFixture, want string) {
	t.Helper()
	select {
	case got := <-f.instances.done:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("background provisioner never wrote back")
	}
}

func deployReq(userID int64) *models.DeployRequest {
	return &models.DeployRequest{
		SessionID:             "cs_deploy",
		UserID:                userID,
		AIRole:                "personal assistant",
		CommunicationChannels: []string{"telegram"},
	}
}

func TestDeploy_ReturnsBeforeProvisioningResolves(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedSubscription(42, models.TierPro)
	f.seedPaidSession("cs_deploy", "42")
	f.platform.block = make(chan struct{})

	resp, err := f.svc.Deploy(context.Background(), deployReq(42))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.InstanceID)

	// The request already returned; the worker is still blocked in CreateApp.
	assert.Equal(t, models.StatusProvisioning, f.instances.current().Status)

	close(f.platform.block)
	waitForStatus(t, f, models.StatusRunning)

	inst := f.instances.current()
	require.NotNil(t, inst.DOAppID)
	assert.Equal(t, "app-123", *inst.DOAppID)
	assert.Equal(t, "https://openclaw-test.ondigitalocean.app", inst.Config.GatewayURL)
	assert.Len(t, inst.Config.GatewayToken, 64)

	params := f.platform.lastParams
	assert.Equal(t, "nyc", params.Region)
	assert.Equal(t, "basic-xs", params.InstanceSize)
	assert.Equal(t, "sk-or-platform", params.Envs["OPENROUTER_API_KEY"])
	assert.Equal(t, "anthropic/claude-3.5-sonnet", params.Envs["OPENROUTER_MODEL"])
	assert.Equal(t, "telegram", params.Envs["OPENCLAW_CHANNELS"])
}

func TestDeploy_RejectsSessionOfAnotherUser(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedSubscription(42, models.TierPro)
	f.seedPaidSession("cs_deploy", "43")

	_, err := f.svc.Deploy(context.Background(), deployReq(42))
	assert.ErrorIs(t, err, ErrSessionMismatch)
	assert.Zero(t, f.instances.upserts)
}

func TestDeploy_RejectsUnpaidSession(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedSubscription(42, models.TierPro)
	f.seedPaidSession("cs_deploy", "42")
	f.gateway.sessions["cs_deploy"].Paid = false

	_, err := f.svc.Deploy(context.Background(), deployReq(42))
	assert.ErrorIs(t, err, ErrPaymentNotCompleted)
}

func TestDeploy_RejectsMalformedBotToken(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedSubscription(42, models.TierPro)
	f.seedPaidSession("cs_deploy", "42")

	req := deployReq(42)
	req.TelegramBotToken = "definitely-not-a-token"

	_, err := f.svc.Deploy(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidBotToken)
}

func TestDeploy_SecondDeployReusesErroredRow(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedSubscription(42, models.TierPro)
	f.seedPaidSession("cs_deploy", "42")
	f.platform.createErr = errors.New("boom")

	first, err := f.svc.Deploy(context.Background(), deployReq(42))
	require.NoError(t, err)
	waitForStatus(t, f, models.StatusError)

	f.platform.createErr = nil
	second, err := f.svc.Deploy(context.Background(), deployReq(42))
	require.NoError(t, err)
	waitForStatus(t, f, models.StatusRunning)

	assert.Equal(t, first.InstanceID, second.InstanceID, "redeploy reuses the existing row")
	assert.Equal(t, 2, f.instances.upserts)
}

func TestDeploy_ConflictsWithRunningInstance(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedSubscription(42, models.TierPro)
	f.seedPaidSession("cs_deploy", "42")
	f.seedInstance(42, models.StatusRunning, time.Minute)

	_, err := f.svc.Deploy(context.Background(), deployReq(42))
	assert.ErrorIs(t, err, repository.ErrInstanceActive)
}

func TestDeploy_MissingPlatformTokenStoresError(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedSubscription(42, models.TierPro)
	f.seedPaidSession("cs_deploy", "42")
	f.platform.configured = false

	resp, err := f.svc.Deploy(context.Background(), deployReq(42))
	require.NoError(t, err, "a missing token never fails the request synchronously")
	assert.True(t, resp.Success)

	waitForStatus(t, f, models.StatusError)
	inst := f.instances.current()
	require.NotNil(t, inst.ErrorMessage)
	assert.Contains(t, *inst.ErrorMessage, "not configured")
}

func TestDeploy_MaterializesSubscriptionWhenGateRanLate(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedPaidSession("cs_deploy", "42")
	f.confirmer.fn = func(ctx context.Context) error {
		f.seedSubscription(42, models.TierPro)
		return nil
	}

	resp, err := f.svc.Deploy(context.Background(), deployReq(42))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, f.confirmer.calls)

	waitForStatus(t, f, models.StatusRunning)
}

func TestStatus_RejectsSessionOfAnotherUser(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedPaidSession("cs_poll", "43")
	f.seedInstance(42, models.StatusProvisioning, time.Minute)

	_, err := f.svc.Status(context.Background(), 42, "cs_poll")
	assert.ErrorIs(t, err, ErrSessionMismatch)
}

func TestStatus_RequiresKnownSession(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedInstance(42, models.StatusProvisioning, time.Minute)

	_, err := f.svc.Status(context.Background(), 42, "cs_unknown")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoInstance, "the instance must stay invisible without a session")
}

func TestStatus_StaleProvisioningFlipsToError(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedPaidSession("cs_poll", "42")
	f.seedInstance(42, models.StatusProvisioning, 11*time.Minute)

	resp, err := f.svc.Status(context.Background(), 42, "cs_poll")
	require.NoError(t, err)

	assert.Equal(t, models.StatusError, resp.Status)
	require.NotNil(t, resp.ErrorMessage)

	// The flip is persisted, not just reflected in the response.
	assert.Equal(t, models.StatusError, f.instances.current().Status)
	assert.Equal(t, 1, f.instances.timedOutCalls)
}

func TestStatus_FreshProvisioningUntouched(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedPaidSession("cs_poll", "42")
	f.seedInstance(42, models.StatusProvisioning, time.Minute)

	resp, err := f.svc.Status(context.Background(), 42, "cs_poll")
	require.NoError(t, err)

	assert.Equal(t, models.StatusProvisioning, resp.Status)
	assert.Zero(t, f.instances.timedOutCalls)
}

func TestStatus_NoInstance(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedPaidSession("cs_poll", "42")

	_, err := f.svc.Status(context.Background(), 42, "cs_poll")
	assert.ErrorIs(t, err, ErrNoInstance)
}

func TestRetry_FromRunningFailsWithoutMutation(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedSubscription(42, models.TierPro)
	f.seedInstance(42, models.StatusRunning, time.Minute)

	_, err := f.svc.Retry(context.Background(), 42)
	assert.ErrorIs(t, err, ErrRetryNotAllowed)

	assert.Equal(t, models.StatusRunning, f.instances.current().Status)
	assert.Zero(t, f.platform.createCalls)
}

func TestRetry_FromErrorReprovisions(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedSubscription(42, models.TierPro)
	f.seedInstance(42, models.StatusError, time.Hour)

	resp, err := f.svc.Retry(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	waitForStatus(t, f, models.StatusRunning)
	assert.Equal(t, 1, f.platform.createCalls)
}

func TestDashboard_FullView(t *testing.T) {
	f := newProvisionFixture(t)
	sub := f.seedSubscription(42, models.TierPro)
	inst := f.seedInstance(42, models.StatusRunning, time.Hour)
	inst.Config = models.InstanceConfig{GatewayURL: "https://gw.example", GatewayToken: "tok"}
	f.billing.Create(context.Background(), &models.BillingRecord{
		ID: uuid.New().String(), UserID: 42, Type: models.BillingSetupFee, AmountCents: 25000,
	})

	resp, err := f.svc.Dashboard(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, sub.ID, resp.Subscription.ID)
	require.NotNil(t, resp.Instance)
	assert.Equal(t, "https://gw.example", resp.Instance.GatewayURL)
	assert.Equal(t, "tok", resp.Instance.GatewayToken)
	assert.Len(t, resp.BillingRecords, 1)
}

func TestDashboard_NoSubscription(t *testing.T) {
	f := newProvisionFixture(t)

	_, err := f.svc.Dashboard(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNoSubscription)
}

func TestRestart_RequiresRunningInstance(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedInstance(42, models.StatusError, time.Hour)

	err := f.svc.Restart(context.Background(), 42)
	assert.Error(t, err)
	assert.Zero(t, f.platform.restartCalls)

	f.seedInstance(42, models.StatusRunning, time.Hour)
	err = f.svc.Restart(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 1, f.platform.restartCalls)
}

func TestDelete_TearsDownAppAndSoftDeletes(t *testing.T) {
	f := newProvisionFixture(t)
	f.seedInstance(42, models.StatusRunning, time.Hour)

	err := f.svc.Delete(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, 1, f.platform.deleteCalls)
	assert.Equal(t, models.StatusDeleted, f.instances.inst.Status)
}
