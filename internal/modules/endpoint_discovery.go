package modules

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/riskscan/scan-worker/internal/scan"
	"github.com/riskscan/scan-worker/internal/scheduler"
)

// EndpointDiscovery fetches the landing page and lists the client side
// assets served from the scanned domain. The landing page itself is the
// first target so inline scripts are scanned too.
type EndpointDiscovery struct {
	cfg     Config
	fetcher *Fetcher
}

func NewEndpointDiscovery(cfg Config, fetcher *Fetcher) *EndpointDiscovery {
	return &EndpointDiscovery{cfg: cfg, fetcher: fetcher}
}

func (m *EndpointDiscovery) Descriptor() scheduler.Descriptor {
	return scheduler.Descriptor{
		Name:    EndpointDiscoveryName,
		Tier:    scheduler.Tier0,
		Timeout: m.cfg.Timeout,
	}
}

func (m *EndpointDiscovery) Run(ctx context.Context, in scheduler.Input) (scheduler.Output, error) {
	landing := m.cfg.baseURL(in.Job.Domain)
	page, err := m.fetcher.Get(ctx, landing)
	if err != nil {
		return scheduler.Output{}, err
	}
	if page.Status >= 400 {
		return scheduler.Output{}, fmt.Errorf("landing page %s responded %d", landing, page.Status)
	}

	base, err := url.Parse(page.URL)
	if err != nil {
		return scheduler.Output{}, err
	}

	assets := extractScriptURLs(page.Body, base, in.Job.Domain)
	targets := append([]string{page.URL}, assets...)

	return scheduler.Output{
		Artifacts: []scan.Artifact{{
			Key:      ArtifactDiscoveredAssets,
			Type:     ArtifactDiscoveredAssets,
			Text:     fmt.Sprintf("%d client side assets discovered on %s", len(assets), page.URL),
			Severity: scan.SeverityInfo,
			Meta: map[string]any{
				"landing_page": page.URL,
				"assets":       assets,
			},
		}},
		Targets: targets,
	}, nil
}

// scriptAttrs lists the elements that load scripts and the attribute holding the URL.
var scriptAttrs = map[string]string{
	"script": "src",
	"link":   "href",
}

func extractScriptURLs(body []byte, base *url.URL, domain string) []string {
	seen := make(map[string]struct{})
	var out []string

	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		t := z.Token()
		attr, ok := scriptAttrs[t.DataAtom.String()]
		if !ok {
			continue
		}
		if t.DataAtom.String() == "link" && !isScriptLink(t) {
			continue
		}
		resolved := resolveURL(getAttr(t, attr), base)
		if resolved == "" || !sameSite(resolved, domain) {
			continue
		}
		if _, dup := seen[resolved]; dup {
			continue
		}
		seen[resolved] = struct{}{}
		out = append(out, resolved)
	}
}

func isScriptLink(t html.Token) bool {
	rel := strings.ToLower(getAttr(t, "rel"))
	if rel == "modulepreload" {
		return true
	}
	if rel == "preload" && strings.EqualFold(getAttr(t, "as"), "script") {
		return true
	}
	return path.Ext(strings.SplitN(getAttr(t, "href"), "?", 2)[0]) == ".js"
}

func getAttr(t html.Token, key string) string {
	for _, a := range t.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func resolveURL(href string, base *url.URL) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "data:") {
		return ""
	}

	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(parsed)
	resolved.Fragment = ""
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// sameSite keeps the domain and its subdomains; third party assets are not ours to scan.
func sameSite(raw, domain string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	domain = strings.ToLower(strings.TrimPrefix(domain, "www."))
	return host == domain || strings.HasSuffix(host, "."+domain)
}
