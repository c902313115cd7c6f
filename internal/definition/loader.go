// Package definition loads and parses Swagger 2.0 and OpenAPI 3.x documents.
package definition

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PentesterFlow/OpenAPIFuzzer/internal/errors"
	"github.com/PentesterFlow/OpenAPIFuzzer/internal/logger"
)

// maxDocumentSize caps fetched definitions.
const maxDocumentSize = 32 * 1024 * 1024

// Loader fetches raw definition documents from files or URLs.
type Loader interface {
	Load(ctx context.Context, location string) ([]byte, error)
}

// LoaderConfig holds configuration for the default loader.
type LoaderConfig struct {
	Timeout       time.Duration
	UserAgent     string
	Headers       map[string]string
	SkipTLSVerify bool
}

// DefaultLoaderConfig returns sensible defaults.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		Timeout:       10 * time.Second,
		UserAgent:     "OpenAPIFuzzer",
		SkipTLSVerify: true,
	}
}

// HTTPLoader reads local files and fetches http(s) URLs with retries.
type HTTPLoader struct {
	client  *http.Client
	config  LoaderConfig
	retrier *errors.Retrier
	log     *logger.Logger
}

// NewLoader creates the default loader.
func NewLoader(config LoaderConfig, log *logger.Logger) *HTTPLoader {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify,
		},
	}

	return &HTTPLoader{
		client:  &http.Client{Transport: transport, Timeout: config.Timeout},
		config:  config,
		retrier: errors.NewDefaultRetrier(),
		log:     logger.OrNop(log).WithComponent("loader"),
	}
}

// Load returns the document at location.
func (l *HTTPLoader) Load(ctx context.Context, location string) ([]byte, error) {
	if IsURL(location) {
		data, result := errors.DoWithResult(ctx, l.retrier, "fetch_definition", location, func(ctx context.Context) ([]byte, error) {
			return l.fetch(ctx, location)
		})
		if !result.Success {
			return nil, result.LastError
		}
		l.log.Debugf("fetched %s (%d bytes, %d attempts)", location, len(data), result.Attempts)
		return data, nil
	}

	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}
	return data, nil
}

func (l *HTTPLoader) fetch(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid definition URL %s: %w", location, err)
	}
	req.Header.Set("User-Agent", l.config.UserAgent)
	req.Header.Set("Accept", "application/json, application/yaml, text/yaml, */*")
	for k, v := range l.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errors.Categorize(err, location)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", location, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, errors.NewTransmissionError(location, "body read failed", err)
	}
	return data, nil
}

// IsURL reports whether location is an http(s) URL.
func IsURL(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// DirURL returns the directory part of a URL, with a trailing slash.
func DirURL(u string) string {
	if i := strings.Index(u, "#"); i >= 0 {
		u = u[:i]
	}
	if i := strings.Index(u, "?"); i >= 0 {
		u = u[:i]
	}
	if i := strings.LastIndex(u, "/"); i >= 0 && i > strings.Index(u, "://")+2 {
		return u[:i+1]
	}
	return strings.TrimRight(u, "/") + "/"
}

// DirPath returns the directory of a file path, or "" for URLs.
func DirPath(location string) string {
	if location == "" || IsURL(location) {
		return ""
	}
	return filepath.Dir(location)
}
