package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/khemia0101-del/openclaw-concierge/internal/client"
	"github.com/khemia0101-del/openclaw-concierge/internal/config"
	"github.com/khemia0101-del/openclaw-concierge/internal/models"
	"github.com/khemia0101-del/openclaw-concierge/internal/repository"
)

// stalenessTimeout is how long an instance may sit in provisioning before a
// status poll flips it to error. Covers orphaned deploys where the
// background worker died without writing back.
const stalenessTimeout = 10 * time.Minute

// InstanceStore is the slice of the instance repository the provisioner needs.
type InstanceStore interface {
	UpsertForDeploy(ctx context.Context, inst *models.Instance) (*models.Instance, error)
	GetByUserID(ctx context.Context, userID int64) (*models.Instance, error)
	GetByID(ctx context.Context, id string) (*models.Instance, error)
	MarkRunning(ctx context.Context, id, doAppID string, config models.InstanceConfig) error
	MarkError(ctx context.Context, id, message string) error
	MarkTimedOut(ctx context.Context, id string, cutoff time.Time, message string) (bool, error)
	ResetForRetry(ctx context.Context, id string) (bool, error)
	MarkDeleted(ctx context.Context, id string) error
}

// AppPlatform is the slice of the DigitalOcean client the provisioner needs.
type AppPlatform interface {
	Configured() bool
	CreateApp(ctx context.Context, p client.CreateAppParams) (*client.CreateAppResult, error)
	RestartApp(ctx context.Context, appID string) error
	DeleteApp(ctx context.Context, appID string) error
	GetLogs(ctx context.Context, appID string) ([]string, error)
}

// ProvisionLogger records audit entries for the provisioning workflow.
type ProvisionLogger interface {
	LogAction(ctx context.Context, instanceID, action, status, message string) error
}

// PaymentConfirmer lets the deploy path fall back to the payment gate when
// the subscription has not been materialized yet.
type PaymentConfirmer interface {
	VerifyPayment(ctx context.Context, sessionID string) (*models.VerifyPaymentResponse, error)
}

// SubscriptionReader looks up the subscription that entitles a deploy.
type SubscriptionReader interface {
	GetByUserID(ctx context.Context, userID int64) (*models.Subscription, error)
}

// ProvisionService owns the instance lifecycle: deploy, background
// provisioning, status polling with staleness detection, retry, and the
// dashboard operations.
type ProvisionService struct {
	cfg       *config.Config
	instances InstanceStore
	subs      SubscriptionReader
	billing   BillingStore
	logs      ProvisionLogger
	platform  AppPlatform
	stripe    PaymentGateway
	confirmer PaymentConfirmer
	logger    *zap.Logger
}

func NewProvisionService(
	cfg *config.Config,
	instances InstanceStore,
	subs SubscriptionReader,
	billing BillingStore,
	logs ProvisionLogger,
	platform AppPlatform,
	stripe PaymentGateway,
	confirmer PaymentConfirmer,
	logger *zap.Logger,
) *ProvisionService {
	return &ProvisionService{
		cfg:       cfg,
		instances: instances,
		subs:      subs,
		billing:   billing,
		logs:      logs,
		platform:  platform,
		stripe:    stripe,
		confirmer: confirmer,
		logger:    logger,
	}
}

// Deploy accepts an instance deployment. It re-verifies the checkout session
// against Stripe, binds the session to the requesting user, makes the
// instance record durable, and returns. Actual provisioning continues in a
// supervised background goroutine; the client polls for status.
func (s *ProvisionService) Deploy(ctx context.Context, req *models.DeployRequest) (*models.DeployResponse, error) {
	sess, err := s.stripe.GetCheckoutSession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("verify session: %w", err)
	}
	if !sess.Paid {
		return nil, ErrPaymentNotCompleted
	}
	if sess.Metadata["userId"] != fmt.Sprintf("%d", req.UserID) {
		return nil, ErrSessionMismatch
	}

	if req.TelegramBotToken != "" && !ValidTelegramToken(req.TelegramBotToken) {
		return nil, ErrInvalidBotToken
	}

	sub, err := s.subs.GetByUserID(ctx, req.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		// The success page may hit deploy before the payment gate ran.
		if _, err := s.confirmer.VerifyPayment(ctx, req.SessionID); err != nil {
			return nil, fmt.Errorf("materialize subscription: %w", err)
		}
		sub, err = s.subs.GetByUserID(ctx, req.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	inst := &models.Instance{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		SubscriptionID: sub.ID,
		AIRole:         req.AIRole,
		Config: models.InstanceConfig{
			CommunicationChannels: req.CommunicationChannels,
			ConnectedServices:     req.ConnectedServices,
			ModelAPIKey:           req.CustomAPIKey,
		},
	}
	if req.TelegramBotToken != "" {
		token := req.TelegramBotToken
		inst.TelegramBotToken = &token
	}

	stored, err := s.instances.UpsertForDeploy(ctx, inst)
	if err != nil {
		if errors.Is(err, repository.ErrInstanceActive) {
			return nil, err
		}
		return nil, fmt.Errorf("store instance: %w", err)
	}

	s.logs.LogAction(ctx, stored.ID, "deploy_accepted", models.StatusProvisioning,
		fmt.Sprintf("Deployment accepted for tier %s", sub.Tier))

	go s.runProvision(stored.ID)

	return &models.DeployResponse{
		Success:    true,
		InstanceID: stored.ID,
		Message:    "Provisioning started",
	}, nil
}

// runProvision supervises one background provisioning attempt. A panic is
// recovered and written back as an instance error so the user is never stuck
// at provisioning with a dead worker.
func (s *ProvisionService) runProvision(instanceID string) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("provisioner panic",
				zap.String("instance_id", instanceID),
				zap.Any("panic", r))
			msg := fmt.Sprintf("internal provisioning failure: %v", r)
			if err := s.instances.MarkError(ctx, instanceID, msg); err != nil {
				s.logger.Error("write back after panic failed",
					zap.String("instance_id", instanceID), zap.Error(err))
			}
		}
	}()

	s.provision(ctx, instanceID)
}

// provision performs the actual App Platform deployment and writes the
// terminal state back to the instance row.
func (s *ProvisionService) provision(ctx context.Context, instanceID string) {
	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		s.logger.Error("load instance for provisioning",
			zap.String("instance_id", instanceID), zap.Error(err))
		return
	}
	if inst.Status != models.StatusProvisioning {
		// A concurrent retry or delete already moved the instance on.
		return
	}

	if !s.platform.Configured() {
		s.failProvision(ctx, instanceID, "provisioning unavailable: hosting credentials not configured")
		return
	}

	sub, err := s.subs.GetByUserID(ctx, inst.UserID)
	if err != nil {
		s.failProvision(ctx, instanceID, fmt.Sprintf("load subscription: %v", err))
		return
	}

	modelKey, err := ResolveModelKey(inst.Config.ModelAPIKey, sub.Tier, s.cfg.ModelKeys)
	if err != nil {
		s.failProvision(ctx, instanceID, fmt.Sprintf("resolve model key: %v", err))
		return
	}

	gatewayToken := inst.Config.GatewayToken
	if gatewayToken == "" {
		gatewayToken, err = NewGatewayToken()
		if err != nil {
			s.failProvision(ctx, instanceID, fmt.Sprintf("mint gateway token: %v", err))
			return
		}
	}

	envs := map[string]string{
		"OPENCLAW_GATEWAY_TOKEN": gatewayToken,
		"OPENCLAW_AI_ROLE":       inst.AIRole,
		"PORT":                   fmt.Sprintf("%d", s.cfg.DigitalOcean.HTTPPort),
		modelKey.EnvVar:          modelKey.Key,
	}
	if modelKey.Model != "" {
		envs["OPENROUTER_MODEL"] = modelKey.Model
	}
	if inst.TelegramBotToken != nil {
		envs["TELEGRAM_BOT_TOKEN"] = *inst.TelegramBotToken
	}
	if len(inst.Config.CommunicationChannels) > 0 {
		envs["OPENCLAW_CHANNELS"] = strings.Join(inst.Config.CommunicationChannels, ",")
	}
	if len(inst.Config.ConnectedServices) > 0 {
		envs["OPENCLAW_SERVICES"] = strings.Join(inst.Config.ConnectedServices, ",")
	}

	appName := appNameFor(inst)
	s.logs.LogAction(ctx, instanceID, "app_creating", models.StatusProvisioning,
		fmt.Sprintf("Creating App Platform app %s in %s", appName, s.cfg.DigitalOcean.Region))

	result, err := s.platform.CreateApp(ctx, client.CreateAppParams{
		Name:         appName,
		Region:       s.cfg.DigitalOcean.Region,
		InstanceSize: models.InstanceSizes[sub.Tier],
		Image:        s.cfg.DigitalOcean.Image,
		ImageTag:     s.cfg.DigitalOcean.ImageTag,
		HTTPPort:     int64(s.cfg.DigitalOcean.HTTPPort),
		Envs:         envs,
	})
	if err != nil {
		s.failProvision(ctx, instanceID, fmt.Sprintf("create app: %v", err))
		return
	}

	cfg := inst.Config
	cfg.GatewayURL = result.LiveURL
	cfg.GatewayToken = gatewayToken

	if err := s.instances.MarkRunning(ctx, instanceID, result.AppID, cfg); err != nil {
		s.logger.Error("mark running failed",
			zap.String("instance_id", instanceID),
			zap.String("app_id", result.AppID),
			zap.Error(err))
		return
	}

	s.logs.LogAction(ctx, instanceID, "app_created", models.StatusRunning,
		fmt.Sprintf("App %s live at %s", result.AppID, result.LiveURL))
	s.logger.Info("instance provisioned",
		zap.String("instance_id", instanceID),
		zap.String("app_id", result.AppID),
		zap.String("live_url", result.LiveURL))
}

func (s *ProvisionService) failProvision(ctx context.Context, instanceID, message string) {
	s.logger.Error("provisioning failed",
		zap.String("instance_id", instanceID),
		zap.String("reason", message))
	if err := s.instances.MarkError(ctx, instanceID, message); err != nil {
		s.logger.Error("mark error failed",
			zap.String("instance_id", instanceID), zap.Error(err))
	}
	s.logs.LogAction(ctx, instanceID, "provision_failed", models.StatusError, message)
}

// Status returns the polled instance status for a user. The poller is
// unauthenticated, so the checkout session acts as proof of purchase: its
// trusted metadata must name the same user. An instance stuck in
// provisioning past the staleness timeout is flipped to error here, with a
// compare-and-set so a concurrent worker write-back wins.
func (s *ProvisionService) Status(ctx context.Context, userID int64, sessionID string) (*models.InstanceStatusResponse, error) {
	sess, err := s.stripe.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("verify session: %w", err)
	}
	if sess.Metadata["userId"] != fmt.Sprintf("%d", userID) {
		return nil, ErrSessionMismatch
	}

	inst, err := s.instances.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoInstance
	}
	if err != nil {
		return nil, err
	}

	if inst.Status == models.StatusProvisioning && time.Since(inst.CreatedAt) > stalenessTimeout {
		cutoff := time.Now().Add(-stalenessTimeout)
		msg := "Provisioning timed out. Please retry the deployment."
		flipped, err := s.instances.MarkTimedOut(ctx, inst.ID, cutoff, msg)
		if err != nil {
			return nil, err
		}
		if flipped {
			s.logs.LogAction(ctx, inst.ID, "provision_timeout", models.StatusError, msg)
			inst.Status = models.StatusError
			inst.ErrorMessage = &msg
		} else {
			// Lost the race to the worker; re-read the fresh state.
			inst, err = s.instances.GetByID(ctx, inst.ID)
			if err != nil {
				return nil, err
			}
		}
	}

	return &models.InstanceStatusResponse{
		Status:       inst.Status,
		ErrorMessage: inst.ErrorMessage,
		DOAppID:      inst.DOAppID,
	}, nil
}

// Retry re-issues provisioning for an errored instance. The reset is a
// compare-and-set on status, so a retry against a running or provisioning
// instance fails without mutating anything.
func (s *ProvisionService) Retry(ctx context.Context, userID int64) (*models.DeployResponse, error) {
	inst, err := s.instances.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoInstance
	}
	if err != nil {
		return nil, err
	}

	reset, err := s.instances.ResetForRetry(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	if !reset {
		return nil, ErrRetryNotAllowed
	}

	s.logs.LogAction(ctx, inst.ID, "retry_accepted", models.StatusProvisioning, "Retry requested")
	go s.runProvision(inst.ID)

	return &models.DeployResponse{
		Success:    true,
		InstanceID: inst.ID,
		Message:    "Provisioning restarted",
	}, nil
}

// Dashboard returns the authenticated full account view: subscription,
// instance with gateway credentials, and the billing ledger.
func (s *ProvisionService) Dashboard(ctx context.Context, userID int64) (*models.DashboardStatusResponse, error) {
	sub, err := s.subs.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoSubscription
	}
	if err != nil {
		return nil, err
	}

	resp := &models.DashboardStatusResponse{Subscription: sub}

	inst, err := s.instances.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if inst != nil {
		resp.Instance = &models.InstanceView{
			ID:           inst.ID,
			Status:       inst.Status,
			DOAppID:      inst.DOAppID,
			AIRole:       inst.AIRole,
			GatewayURL:   inst.Config.GatewayURL,
			GatewayToken: inst.Config.GatewayToken,
			Channels:     inst.Config.CommunicationChannels,
			Services:     inst.Config.ConnectedServices,
			ErrorMessage: inst.ErrorMessage,
		}
	}

	records, err := s.billing.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp.BillingRecords = records

	return resp, nil
}

// Restart forces a new deployment of the user's running app.
func (s *ProvisionService) Restart(ctx context.Context, userID int64) error {
	inst, err := s.instances.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNoInstance
	}
	if err != nil {
		return err
	}
	if inst.Status != models.StatusRunning || inst.DOAppID == nil {
		return fmt.Errorf("instance is not running")
	}

	if err := s.platform.RestartApp(ctx, *inst.DOAppID); err != nil {
		return err
	}
	s.logs.LogAction(ctx, inst.ID, "restart", models.StatusRunning, "Restart triggered")
	return nil
}

// Logs returns recent runtime log URLs for the user's app.
func (s *ProvisionService) Logs(ctx context.Context, userID int64) (*models.InstanceLogsResponse, error) {
	inst, err := s.instances.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoInstance
	}
	if err != nil {
		return nil, err
	}
	if inst.DOAppID == nil {
		return &models.InstanceLogsResponse{Logs: []string{}}, nil
	}

	logs, err := s.platform.GetLogs(ctx, *inst.DOAppID)
	if err != nil {
		return nil, err
	}
	return &models.InstanceLogsResponse{Logs: logs}, nil
}

// Delete tears down the user's app and soft-deletes the instance. The
// subscription stays untouched; cancellation is a separate billing concern.
func (s *ProvisionService) Delete(ctx context.Context, userID int64) error {
	inst, err := s.instances.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNoInstance
	}
	if err != nil {
		return err
	}

	if inst.DOAppID != nil && s.platform.Configured() {
		if err := s.platform.DeleteApp(ctx, *inst.DOAppID); err != nil {
			// The record is still soft-deleted; an orphaned app is cleaned
			// up manually and is preferable to a stuck instance row.
			s.logger.Warn("app deletion failed",
				zap.String("instance_id", inst.ID),
				zap.String("app_id", *inst.DOAppID),
				zap.Error(err))
		}
	}

	if err := s.instances.MarkDeleted(ctx, inst.ID); err != nil {
		return err
	}
	s.logs.LogAction(ctx, inst.ID, "deleted", models.StatusDeleted, "Instance deleted by user")
	return nil
}

// appNameFor derives a stable DNS-safe App Platform app name.
func appNameFor(inst *models.Instance) string {
	suffix := inst.ID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("openclaw-%d-%s", inst.UserID, suffix)
}
