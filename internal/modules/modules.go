// Package modules holds the built-in detection modules run by the scheduler.
package modules

import (
	"strings"
	"time"

	"github.com/riskscan/scan-worker/internal/detection"
	"github.com/riskscan/scan-worker/internal/evidence"
	"github.com/riskscan/scan-worker/internal/scheduler"
)

const (
	EndpointDiscoveryName = "endpoint_discovery"
	SecurityHeadersName   = "security_headers"
	ClientSecretsName     = "client_secrets"

	ArtifactDiscoveredAssets = "discovered_assets"
	ArtifactSecurityHeaders  = "security_headers"
	ArtifactClientAsset      = "client_asset"
	ArtifactNoiseCap         = "noise_cap"
	ArtifactValidationError  = "validation_error"

	FindingMissingHeaders   = "missing_security_headers"
	FindingClientSecret     = "client_secret_exposure"
	FindingHighEntropyToken = "high_entropy_token"
)

type Config struct {
	Timeout                time.Duration
	TargetTimeout          time.Duration
	MaxConsecutiveFailures int
	// BaseURL maps the scanned domain to the URL of its landing page.
	BaseURL func(domain string) string
}

func (c Config) baseURL(domain string) string {
	if c.BaseURL != nil {
		return c.BaseURL(domain)
	}
	return "https://" + strings.TrimSuffix(domain, "/")
}

// Register adds the built-in modules to the scheduler in their run order.
func Register(s *scheduler.Scheduler, cfg Config, fetcher *Fetcher, pipeline *detection.Pipeline, store evidence.Store) {
	s.Register(NewEndpointDiscovery(cfg, fetcher))
	s.Register(NewSecurityHeaders(cfg, fetcher))
	s.Register(NewClientSecrets(cfg, fetcher, pipeline, store))
}
