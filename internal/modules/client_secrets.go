package modules

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/riskscan/scan-worker/internal/detection"
	"github.com/riskscan/scan-worker/internal/evidence"
	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/internal/scheduler"
)

const (
	secretRecommendation  = "Revoke the credential, remove it from client side code and move the calls needing it to a backend."
	entropyRecommendation = "Confirm whether the token grants access to a service. If it does, rotate it and stop shipping it to browsers."
)

// ClientSecrets fetches every discovered asset and looks for credentials in
// it. Fetching happens once per asset; detection runs once per scan over all
// assets so the validation service sees a single batch.
type ClientSecrets struct {
	cfg      Config
	fetcher  *Fetcher
	pipeline *detection.Pipeline
	evidence evidence.Store
	log      *zap.SugaredLogger
}

var _ scheduler.Reducer = (*ClientSecrets)(nil)

func NewClientSecrets(cfg Config, fetcher *Fetcher, pipeline *detection.Pipeline, store evidence.Store) *ClientSecrets {
	if store == nil {
		store = evidence.NoopStore{}
	}
	return &ClientSecrets{
		cfg:      cfg,
		fetcher:  fetcher,
		pipeline: pipeline,
		evidence: store,
		log:      zap.S().Named("client_secrets"),
	}
}

func (m *ClientSecrets) Descriptor() scheduler.Descriptor {
	return scheduler.Descriptor{
		Name:                   ClientSecretsName,
		Tier:                   scheduler.Tier1,
		Timeout:                m.cfg.TargetTimeout,
		ReduceTimeout:          m.cfg.Timeout,
		MaxConsecutiveFailures: m.cfg.MaxConsecutiveFailures,
		DependsOn:              []string{EndpointDiscoveryName},
		PerTarget:              true,
	}
}

// Run fetches one asset. The body travels in the artifact text until Reduce
// replaces it with a reference.
func (m *ClientSecrets) Run(ctx context.Context, in scheduler.Input) (scheduler.Output, error) {
	page, err := m.fetcher.Get(ctx, in.Target)
	if err != nil {
		return scheduler.Output{}, err
	}
	if page.Status >= 400 {
		m.log.Debugw("asset not available", "url", in.Target, "status", page.Status)
		return scheduler.Output{}, nil
	}
	return scheduler.Output{
		Artifacts: []scan.Artifact{{
			Key:      page.URL,
			Type:     ArtifactClientAsset,
			Text:     string(page.Body),
			Severity: scan.SeverityInfo,
			Meta: map[string]any{
				"url":       page.URL,
				"bytes":     len(page.Body),
				"truncated": page.Truncated,
			},
		}},
	}, nil
}

func (m *ClientSecrets) Reduce(ctx context.Context, in scheduler.Input, parts []scheduler.Output) (scheduler.Output, error) {
	var (
		units  []detection.Unit
		assets = map[string]scan.Artifact{}
	)
	for _, p := range parts {
		for _, a := range p.Artifacts {
			if a.Type != ArtifactClientAsset {
				continue
			}
			if _, dup := assets[a.Key]; dup {
				continue
			}
			assets[a.Key] = a
			units = append(units, detection.Unit{ID: a.Key, Text: a.Text})
		}
	}

	res := m.pipeline.Scan(ctx, units)
	byUnit := res.HitsByUnit()

	var out scheduler.Output
	for _, u := range units {
		asset := assets[u.ID]
		hits := byUnit[u.ID]

		meta := copyMeta(asset.Meta)
		meta["hits"] = len(hits)
		severity := scan.SeverityInfo
		if len(hits) > 0 {
			for _, h := range hits {
				severity = scan.MaxSeverity(severity, h.Severity)
			}
			ref, err := m.evidence.Put(ctx, evidence.Key(in.Job.ScanID, []byte(u.Text)), []byte(u.Text), contentType(u.ID))
			if err != nil {
				m.log.Warnw("failed to store evidence", "scan_id", in.Job.ScanID, "url", u.ID, "error", err)
			} else if ref != "" {
				meta["evidence"] = ref
			}
		}

		out.Artifacts = append(out.Artifacts, scan.Artifact{
			Key:      u.ID,
			Type:     ArtifactClientAsset,
			Text:     u.ID,
			Severity: severity,
			Meta:     meta,
		})
		for _, h := range hits {
			out.Findings = append(out.Findings, findingFromHit(h))
		}
	}

	for _, t := range res.Truncations {
		out.Artifacts = append(out.Artifacts, scan.Artifact{
			Key:      ArtifactNoiseCap + ":" + t.Unit,
			Type:     ArtifactNoiseCap,
			Text:     fmt.Sprintf("%s produced too many hits, kept %d and dropped %d", t.Unit, t.Kept, t.Dropped),
			Severity: scan.SeverityInfo,
			Meta:     map[string]any{"url": t.Unit, "kept": t.Kept, "dropped": t.Dropped},
		})
	}

	if res.ValidationErr != nil {
		out.Artifacts = append(out.Artifacts, scan.Artifact{
			Key:      ArtifactValidationError,
			Type:     ArtifactValidationError,
			Text:     res.ValidationErr.Error(),
			Severity: scan.SeverityInfo,
			Meta:     map[string]any{"validated": res.Validated},
		})
	}
	return out, nil
}

func findingFromHit(h detection.Hit) scan.Finding {
	meta := map[string]any{
		"rule":    h.RuleID,
		"source":  string(h.Source),
		"verdict": string(h.Verdict),
		"line":    h.Location.Line,
		"match":   redact(h.MatchedText),
	}
	if h.Source == detection.SourceEntropy {
		meta["entropy"] = h.Entropy
		return scan.Finding{
			Type:           FindingHighEntropyToken,
			Severity:       scan.SeverityMedium,
			Description:    fmt.Sprintf("High entropy token %s in %s at line %d", redact(h.MatchedText), h.Location.Unit, h.Location.Line),
			Recommendation: entropyRecommendation,
			Exposure:       scan.ExposureUnauthenticated,
			ArtifactKey:    h.Location.Unit,
			Meta:           meta,
		}
	}
	return scan.Finding{
		Type:           FindingClientSecret,
		Severity:       h.Severity,
		Description:    fmt.Sprintf("Possible %s %s in %s at line %d", strings.ReplaceAll(h.RuleID, "_", " "), redact(h.MatchedText), h.Location.Unit, h.Location.Line),
		Recommendation: secretRecommendation,
		Exposure:       scan.ExposureUnauthenticated,
		ArtifactKey:    h.Location.Unit,
		Meta:           meta,
	}
}

// redact keeps enough of a secret to recognize it.
func redact(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	keep := min(4, len(s)/4)
	return s[:keep] + strings.Repeat("*", 8) + s[len(s)-keep:]
}

func contentType(url string) string {
	path := strings.SplitN(url, "?", 2)[0]
	if strings.HasSuffix(path, ".js") || strings.HasSuffix(path, ".mjs") {
		return "application/javascript"
	}
	return "text/html"
}

func copyMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	return out
}
