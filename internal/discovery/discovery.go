// Package discovery locates API definitions served by a live target.
package discovery

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/definition"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/logger"
)

// maxProbeBody caps how much of a candidate response is read.
const maxProbeBody = 8 * 1024 * 1024

// DefinitionPaths are the well-known locations probed, in priority order.
var DefinitionPaths = []string{
	"/openapi.json",
	"/openapi.yaml",
	"/swagger.json",
	"/swagger.yaml",
	"/v3/api-docs",
	"/v2/api-docs",
	"/openapi/v3/api-docs",
	"/swagger/v1/swagger.json",
	"/api-docs",
	"/api/swagger.json",
	"/api/openapi.json",
	"/api/v1/swagger.json",
	"/api/v1/openapi.json",
	"/docs/openapi.json",
	"/.well-known/openapi.json",
}

// Config holds prober configuration.
type Config struct {
	Timeout       time.Duration
	UserAgent     string
	Headers       map[string]string
	SkipTLSVerify bool
	Concurrency   int
	Paths         []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		UserAgent:     "OpenAPIFuzzer",
		SkipTLSVerify: true,
		Concurrency:   5,
		Paths:         DefinitionPaths,
	}
}

// Candidate is a probed location that served a definition.
type Candidate struct {
	URL         string
	StatusCode  int
	ContentType string
	Version     definition.Version
	ProbeTime   time.Time
}

// Prober finds definitions by requesting well-known paths.
type Prober struct {
	client *http.Client
	config Config
	log    *logger.Logger
}

// NewProber creates a prober.
func NewProber(config Config, log *logger.Logger) *Prober {
	def := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if len(config.Paths) == 0 {
		config.Paths = def.Paths
	}

	return &Prober{
		client: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: config.SkipTLSVerify},
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		config: config,
		log:    logger.OrNop(log).WithComponent("discovery"),
	}
}

// Discover returns the URL of the highest-priority definition served by base.
func (p *Prober) Discover(ctx context.Context, base string) (string, error) {
	found, err := p.Probe(ctx, base)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", fmt.Errorf("no API definition found under %s", base)
	}
	return found[0].URL, nil
}

// Probe requests every candidate location and returns those serving a
// Swagger 2.0 or OpenAPI 3 document, in priority order.
func (p *Prober) Probe(ctx context.Context, base string) ([]Candidate, error) {
	urls, err := candidateURLs(base, p.config.Paths)
	if err != nil {
		return nil, err
	}

	results := make([]*Candidate, len(urls))
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.config.Concurrency)

	for i, u := range urls {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			results[i] = p.probeURL(ctx, u)
		}(i, u)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var found []Candidate
	for _, c := range results {
		if c != nil {
			found = append(found, *c)
		}
	}
	p.log.Debugf("probed %d locations under %s, %d definitions found", len(urls), base, len(found))
	return found, nil
}

func (p *Prober) probeURL(ctx context.Context, u string) *Candidate {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "application/json, application/yaml, */*")
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}
	for k, v := range p.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return nil
	}
	raw, err := definition.Parse(body, u)
	if err != nil {
		return nil
	}
	version := definition.VersionOf(raw)
	if version == definition.Unknown {
		return nil
	}
	if _, ok := raw["paths"]; !ok {
		return nil
	}

	p.log.Infof("found %s definition at %s", version, u)
	return &Candidate{
		URL:         u,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Version:     version,
		ProbeTime:   time.Now(),
	}
}

// candidateURLs joins paths onto base. When base has a path prefix, locations
// under the prefix are tried before the same locations at the host root.
func candidateURLs(base string, paths []string) ([]string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", base)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: missing host", base)
	}

	root := parsed.Scheme + "://" + parsed.Host
	prefix := strings.TrimRight(parsed.Path, "/")

	seen := make(map[string]bool)
	var out []string
	add := func(u string) {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	if prefix != "" {
		for _, p := range paths {
			add(root + prefix + p)
		}
	}
	for _, p := range paths {
		add(root + p)
	}
	return out, nil
}
