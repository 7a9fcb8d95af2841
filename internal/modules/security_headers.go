package modules

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/internal/scheduler"
)

type requiredHeader struct {
	name string
	// satisfiedBy reports whether another header covers this one.
	satisfiedBy func(h http.Header) bool
}

var requiredHeaders = []requiredHeader{
	{name: "Strict-Transport-Security"},
	{name: "Content-Security-Policy"},
	{name: "X-Frame-Options", satisfiedBy: func(h http.Header) bool {
		return strings.Contains(strings.ToLower(h.Get("Content-Security-Policy")), "frame-ancestors")
	}},
	{name: "X-Content-Type-Options"},
	{name: "Referrer-Policy"},
}

// SecurityHeaders checks the landing page response headers.
type SecurityHeaders struct {
	cfg     Config
	fetcher *Fetcher
}

func NewSecurityHeaders(cfg Config, fetcher *Fetcher) *SecurityHeaders {
	return &SecurityHeaders{cfg: cfg, fetcher: fetcher}
}

func (m *SecurityHeaders) Descriptor() scheduler.Descriptor {
	return scheduler.Descriptor{
		Name:    SecurityHeadersName,
		Tier:    scheduler.Tier0,
		Timeout: m.cfg.Timeout,
	}
}

func (m *SecurityHeaders) Run(ctx context.Context, in scheduler.Input) (scheduler.Output, error) {
	page, err := m.fetcher.Get(ctx, m.cfg.baseURL(in.Job.Domain))
	if err != nil {
		return scheduler.Output{}, err
	}

	missing := missingHeaders(page.Header)
	present := map[string]string{}
	for _, rh := range requiredHeaders {
		if v := page.Header.Get(rh.name); v != "" {
			present[rh.name] = v
		}
	}

	out := scheduler.Output{
		Artifacts: []scan.Artifact{{
			Key:      ArtifactSecurityHeaders,
			Type:     ArtifactSecurityHeaders,
			Text:     fmt.Sprintf("%d of %d security headers missing on %s", len(missing), len(requiredHeaders), page.URL),
			Severity: scan.SeverityInfo,
			Meta: map[string]any{
				"url":     page.URL,
				"status":  page.Status,
				"present": present,
				"missing": missing,
			},
		}},
	}
	if len(missing) == 0 {
		return out, nil
	}

	out.Findings = append(out.Findings, scan.Finding{
		Type:           FindingMissingHeaders,
		Severity:       scan.SeverityLow,
		Description:    fmt.Sprintf("%s does not send %s", page.URL, strings.Join(missing, ", ")),
		Recommendation: "Configure the web server or CDN to send the missing security headers on every response.",
		Exposure:       scan.ExposurePublic,
		ArtifactKey:    ArtifactSecurityHeaders,
		Meta:           map[string]any{"missing": missing},
	})
	return out, nil
}

func missingHeaders(h http.Header) []string {
	var missing []string
	for _, rh := range requiredHeaders {
		if h.Get(rh.name) != "" {
			continue
		}
		if rh.satisfiedBy != nil && rh.satisfiedBy(h) {
			continue
		}
		missing = append(missing, rh.name)
	}
	return missing
}
