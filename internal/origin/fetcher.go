package origin

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// FetcherConfig holds origin fetch configuration.
type FetcherConfig struct {
	Scheme  string        `yaml:"scheme"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPFetcher forwards the client request to the resolved origin host.
// Redirects are returned to the client rather than followed.
type HTTPFetcher struct {
	client *http.Client
	scheme string
	logger *logrus.Logger
}

// hop-by-hop headers, RFC 9110 section 7.6.1
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// NewHTTPFetcher creates a fetcher.
func NewHTTPFetcher(config *FetcherConfig, logger *logrus.Logger) *HTTPFetcher {
	scheme := config.Scheme
	if scheme == "" {
		scheme = "https"
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		scheme: scheme,
		logger: logger,
	}
}

// Fetch sends r to host and returns the origin response unmodified apart
// from hop-by-hop headers.
func (f *HTTPFetcher) Fetch(ctx context.Context, host string, r *http.Request) (*http.Response, error) {
	out := r.Clone(ctx)
	out.RequestURI = ""
	out.URL.Scheme = f.scheme
	out.URL.Host = host
	out.Host = host
	removeHopHeaders(out.Header)

	if clientIP, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := out.Header.Values("X-Forwarded-For"); len(prior) > 0 {
			clientIP = strings.Join(prior, ", ") + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}
	out.Header.Set("X-Forwarded-Host", r.Host)
	if r.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}

	start := time.Now()
	resp, err := f.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("fetch from origin %s failed: %w", host, err)
	}
	removeHopHeaders(resp.Header)

	f.logger.WithFields(logrus.Fields{
		"origin":      host,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Origin fetched")

	return resp, nil
}

func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
