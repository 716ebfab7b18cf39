package client

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/godo"
	"go.uber.org/zap"
)

// doAPITimeout bounds each App Platform call so a slow control plane
// cannot wedge the background provisioner.
const doAPITimeout = 30 * time.Second

// DOClient wraps the DigitalOcean App Platform API.
type DOClient struct {
	client *godo.Client
	logger *zap.Logger
}

// NewDOClient returns a client for the App Platform. An empty token yields
// an unconfigured client; callers must check Configured before provisioning.
func NewDOClient(apiToken string, logger *zap.Logger) *DOClient {
	var c *godo.Client
	if apiToken != "" {
		c = godo.NewFromToken(apiToken)
	}
	return &DOClient{client: c, logger: logger}
}

// Configured reports whether an API token was supplied.
func (d *DOClient) Configured() bool {
	return d.client != nil
}

// CreateAppParams describes the app to deploy.
type CreateAppParams struct {
	Name         string
	Region       string
	InstanceSize string
	Image        string
	ImageTag     string
	HTTPPort     int64
	Envs         map[string]string
}

// CreateAppResult is the created app reference.
type CreateAppResult struct {
	AppID   string
	LiveURL string
}

// CreateApp creates a single-service App Platform app from a public
// Docker Hub image.
func (d *DOClient) CreateApp(ctx context.Context, p CreateAppParams) (*CreateAppResult, error) {
	if d.client == nil {
		return nil, fmt.Errorf("digitalocean client not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, doAPITimeout)
	defer cancel()

	envs := make([]*godo.AppVariableDefinition, 0, len(p.Envs))
	for k, v := range p.Envs {
		envs = append(envs, &godo.AppVariableDefinition{
			Key:   k,
			Value: v,
			Scope: godo.AppVariableScope_RunTime,
		})
	}

	spec := &godo.AppSpec{
		Name:   p.Name,
		Region: p.Region,
		Services: []*godo.AppServiceSpec{
			{
				Name: p.Name,
				Image: &godo.ImageSourceSpec{
					RegistryType: godo.ImageSourceSpecRegistryType_DockerHub,
					Repository:   p.Image,
					Tag:          p.ImageTag,
				},
				InstanceSizeSlug: p.InstanceSize,
				InstanceCount:    1,
				HTTPPort:         p.HTTPPort,
				Envs:             envs,
			},
		},
	}

	app, _, err := d.client.Apps.Create(ctx, &godo.AppCreateRequest{Spec: spec})
	if err != nil {
		return nil, fmt.Errorf("create app: %w", err)
	}

	d.logger.Info("app platform app created",
		zap.String("app_id", app.ID),
		zap.String("name", p.Name),
		zap.String("region", p.Region))

	liveURL := app.LiveURL
	if liveURL == "" {
		liveURL = fmt.Sprintf("https://%s.ondigitalocean.app", p.Name)
	}
	return &CreateAppResult{AppID: app.ID, LiveURL: liveURL}, nil
}

// RestartApp forces a new deployment of an existing app.
func (d *DOClient) RestartApp(ctx context.Context, appID string) error {
	if d.client == nil {
		return fmt.Errorf("digitalocean client not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, doAPITimeout)
	defer cancel()

	_, _, err := d.client.Apps.CreateDeployment(ctx, appID, &godo.DeploymentCreateRequest{
		ForceBuild: true,
	})
	if err != nil {
		return fmt.Errorf("restart app: %w", err)
	}

	d.logger.Info("app restart triggered", zap.String("app_id", appID))
	return nil
}

// DeleteApp tears down the app and all its resources.
func (d *DOClient) DeleteApp(ctx context.Context, appID string) error {
	if d.client == nil {
		return fmt.Errorf("digitalocean client not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, doAPITimeout)
	defer cancel()

	if _, err := d.client.Apps.Delete(ctx, appID); err != nil {
		return fmt.Errorf("delete app: %w", err)
	}

	d.logger.Info("app deleted", zap.String("app_id", appID))
	return nil
}

// GetLogs returns runtime log URLs for the app's service component.
func (d *DOClient) GetLogs(ctx context.Context, appID string) ([]string, error) {
	if d.client == nil {
		return nil, fmt.Errorf("digitalocean client not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, doAPITimeout)
	defer cancel()

	app, _, err := d.client.Apps.Get(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("get app for logs: %w", err)
	}

	deploymentID := ""
	if app.ActiveDeployment != nil {
		deploymentID = app.ActiveDeployment.ID
	}
	componentName := ""
	if app.Spec != nil && len(app.Spec.Services) > 0 {
		componentName = app.Spec.Services[0].Name
	}

	logs, _, err := d.client.Apps.GetLogs(ctx, appID, deploymentID, componentName, godo.AppLogTypeRun, true, 100)
	if err != nil {
		return nil, fmt.Errorf("get app logs: %w", err)
	}

	urls := logs.HistoricURLs
	if logs.LiveURL != "" {
		urls = append(urls, logs.LiveURL)
	}
	return urls, nil
}
