// Package transmitter renders test cases into HTTP requests, sends them with
// retry on transport failures and classifies the responses.
package transmitter

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/http/httpguts"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/auth"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/errors"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/logger"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/model"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/sequencer"
)

// DefaultUserAgent is sent unless a fuzz or auth header overrides it.
const DefaultUserAgent = "OpenAPIFuzzer"

// Config holds transmitter configuration.
type Config struct {
	Timeout             time.Duration
	UserAgent           string
	SkipTLSVerify       bool
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxResponseSize     int64
	FollowRedirects     bool
}

// DefaultConfig returns the defaults: a 10s timeout per attempt.
func DefaultConfig() Config {
	return Config{
		Timeout:             10 * time.Second,
		UserAgent:           DefaultUserAgent,
		SkipTLSVerify:       true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxResponseSize:     1 << 20,
	}
}

// Pacer delays requests to a host.
type Pacer interface {
	WaitHost(ctx context.Context, host string) error
}

// feedback is implemented by pacers that adapt to target health.
type feedback interface {
	RecordSuccess()
	RecordError()
}

// Client sends rendered test cases to the target.
type Client struct {
	client  *http.Client
	config  Config
	baseURL string
	auth    auth.Provider
	retrier *errors.Retrier
	pacer   Pacer
	breaker *errors.CircuitBreaker
	log     *logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithAuth attaches credentials to every request.
func WithAuth(p auth.Provider) Option {
	return func(c *Client) { c.auth = p }
}

// WithPacer paces requests.
func WithPacer(p Pacer) Option {
	return func(c *Client) { c.pacer = p }
}

// WithBreaker holds requests back while the target is unreachable.
func WithBreaker(cb *errors.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithRetrier replaces the default three-attempt retrier.
func WithRetrier(r *errors.Retrier) Option {
	return func(c *Client) { c.retrier = r }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a transmitter for baseURL.
func New(baseURL string, config Config, log *logger.Logger, opts ...Option) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.MaxResponseSize <= 0 {
		config.MaxResponseSize = DefaultConfig().MaxResponseSize
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify,
		},
	}

	c := &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if !config.FollowRedirects || len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		config:  config,
		baseURL: strings.TrimRight(baseURL, "/"),
		retrier: errors.NewDefaultRetrier(),
		log:     logger.OrNop(log).WithComponent("transmitter"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the URL paths are joined to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// prepared is a rendered request that can be sent more than once.
type prepared struct {
	method   string
	url      string
	host     string
	header   http.Header
	body     []byte
	details  RequestDetails
	repaired []string
}

// Transmit renders tc, sends it and classifies the result. It always returns
// an outcome; failures are described by its status and reason.
func (c *Client) Transmit(ctx context.Context, tc *sequencer.TestCase) *Outcome {
	start := time.Now()
	out := &Outcome{}
	defer func() {
		out.Duration = time.Since(start)
		c.log.TestEvent(tc.Number, out.Request.Method, out.Request.URL, string(out.Status), out.StatusCode(), out.Duration)
	}()

	if c.auth != nil {
		if err := c.auth.RefreshIfNeeded(ctx); err != nil {
			c.log.WithError(err).Warn("credential refresh failed, sending current credentials")
		}
	}

	p, err := c.prepare(tc)
	out.Request = p.details
	out.Repaired = p.repaired
	if err != nil {
		out.Status = Errored
		out.Reason = "request could not be built: " + err.Error()
		out.Err = err
		return out
	}

	if err := c.wait(ctx, p.url); err != nil {
		out.Err = errors.Categorize(err, p.url)
		out.Status, out.Reason = Classify(0, out.Err)
		return out
	}

	var resp *ResponseDetails
	result := c.retrier.Do(ctx, "transmit", p.url, func(ctx context.Context) error {
		r, err := c.send(ctx, p)
		if err != nil {
			c.log.WithTest(tc.Number).WithError(err).Debug("attempt failed")
			return err
		}
		resp = r
		return nil
	})
	out.Attempts = result.Attempts

	if result.Success {
		out.Response = resp
	} else {
		out.Err = result.LastError
		c.log.ErrorEvent(out.Err, p.url, "transmit")
	}
	c.record(out)

	out.Status, out.Reason = Classify(out.StatusCode(), out.Err)
	return out
}

func (c *Client) wait(ctx context.Context, target string) error {
	if c.breaker != nil {
		if err := c.breaker.Wait(ctx); err != nil {
			return err
		}
	}
	if c.pacer != nil {
		host := ""
		if u, err := url.Parse(target); err == nil {
			host = u.Host
		}
		if err := c.pacer.WaitHost(ctx, host); err != nil {
			return err
		}
	}
	return nil
}

// record feeds target health back to the breaker and an adaptive pacer.
func (c *Client) record(out *Outcome) {
	transportFailed := out.Err != nil && errors.GetErrorType(out.Err) == errors.Transmission
	if c.breaker != nil {
		if transportFailed {
			c.breaker.RecordFailure()
		} else if out.Response != nil {
			c.breaker.RecordSuccess()
		}
	}
	if fb, ok := c.pacer.(feedback); ok {
		if transportFailed || out.StatusCode() >= 500 {
			fb.RecordError()
		} else {
			fb.RecordSuccess()
		}
	}
}

func (c *Client) send(ctx context.Context, p *prepared) (*ResponseDetails, error) {
	req, err := http.NewRequestWithContext(ctx, p.method, p.url, bytes.NewReader(p.body))
	if err != nil {
		return nil, errors.NewEncodingError(p.url, "request rejected by client", err)
	}
	req.Header = p.header.Clone()
	if p.host != "" {
		req.Host = p.host
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Categorize(err, p.url)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseSize+1))
	if err != nil {
		c.log.WithError(err).Debug("response body read incomplete")
	}

	details := &ResponseDetails{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeader(resp.Header),
		Size:       len(body),
	}
	if int64(len(body)) > c.config.MaxResponseSize {
		body = body[:c.config.MaxResponseSize]
		details.Truncated = true
	}
	details.Body = string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "html") {
		details.Title = pageTitle(body)
	}
	return details, nil
}

// pageTitle extracts the <title> of an HTML error page.
func pageTitle(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// prepare renders tc. Rejected values are chopped until the client accepts
// them. The returned request details are filled in even on error.
func (c *Client) prepare(tc *sequencer.TestCase) (*prepared, error) {
	tpl := tc.Template
	p := &prepared{method: tpl.Key.Method, header: make(http.Header)}
	p.details.Method = p.method

	pathVals := c.repair(p, tc.Values[model.Path], AcceptURLPart)
	target := JoinURL(c.baseURL, ExpandPathVariables(tpl.Key.Path, pathVals))
	if q := EncodeQuery(tc.Values[model.Query]); q != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + q
	}
	p.url = target
	p.details.URL = target

	p.header.Set("User-Agent", c.config.UserAgent)

	for _, v := range c.repair(p, tc.Values[model.Header], AcceptHeaderValue) {
		if !httpguts.ValidHeaderFieldName(v.Name) {
			c.log.Debugf("skipping header with invalid name %q", v.Name)
			continue
		}
		if strings.EqualFold(v.Name, "Host") {
			p.host = v.String()
			continue
		}
		p.header.Set(v.Name, v.String())
	}

	fuzzCookies := c.repair(p, tc.Values[model.Cookie], AcceptHeaderValue)

	bodyVals := append(append([]model.Value{}, tc.Values[model.Body]...), tc.Values[model.FormData]...)
	body, contentType, err := EncodeBody(tpl.Key.ContentType, bodyVals)
	if err != nil {
		p.details.Headers = flattenHeader(p.header)
		return p, errors.NewEncodingError(tpl.Name(), "body encoding failed", err)
	}
	p.body = body
	p.details.Body = string(body)
	p.details.ContentType = contentType
	if contentType != "" {
		p.header.Set("Content-Type", contentType)
	}

	var authCookies []*http.Cookie
	if c.auth != nil {
		for k, v := range c.auth.Headers() {
			p.header.Set(k, v)
		}
		authCookies = c.auth.Cookies()
	}
	if cookies := joinCookies(fuzzCookies, authCookies); len(cookies) > 0 {
		p.header.Set("Cookie", cookies)
	}
	p.details.Headers = flattenHeader(p.header)
	if p.host != "" {
		p.details.Headers["Host"] = p.host
	}

	if _, err := url.Parse(target); err != nil {
		return p, errors.NewEncodingError(target, "URL rejected by client", err)
	}
	return p, nil
}

// repair chops every value accept rejects and notes which fields changed.
func (c *Client) repair(p *prepared, vals []model.Value, accept Acceptor) []model.Value {
	out := make([]model.Value, len(vals))
	for i, v := range vals {
		out[i] = v
		raw := v.String()
		fixed, ok := Chop(raw, accept)
		if fixed == raw {
			continue
		}
		if !ok {
			c.log.WithError(errors.NewEncodingError(v.Name, "no acceptable value", nil)).Debug("sending empty placeholder")
		}
		out[i].Raw = []byte(fixed)
		p.repaired = append(p.repaired, v.Name)
	}
	return out
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

// joinCookies renders the Cookie header. An auth cookie replaces a fuzz
// cookie of the same name.
func joinCookies(fuzz []model.Value, auth []*http.Cookie) string {
	authNames := make(map[string]bool, len(auth))
	for _, ck := range auth {
		authNames[ck.Name] = true
	}

	parts := make([]string, 0, len(fuzz)+len(auth))
	for _, v := range fuzz {
		if authNames[v.Name] {
			continue
		}
		parts = append(parts, v.Name+"="+v.String())
	}
	for _, ck := range auth {
		parts = append(parts, (&http.Cookie{Name: ck.Name, Value: ck.Value}).String())
	}
	return strings.Join(parts, "; ")
}
