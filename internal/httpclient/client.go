package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestBuilder produces identical bodiless requests for one target.
type RequestBuilder struct {
	method  string
	target  string
	host    string
	headers http.Header
}

// NewRequestBuilder validates the target and headers once so Build stays cheap.
// A non-empty host is sent as the Host header instead of the URL's authority.
func NewRequestBuilder(method, target, host string, headers map[string]string) (*RequestBuilder, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("target URL is required")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid target URL %q: scheme must be http or https", target)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid target URL %q: missing host", target)
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	canonical := http.Header{}
	for key, value := range headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		canonical.Set(canonicalKey, value)
	}

	return &RequestBuilder{
		method:  method,
		target:  target,
		host:    strings.TrimSpace(host),
		headers: canonical,
	}, nil
}

func (b *RequestBuilder) Build(ctx context.Context) (*http.Request, error) {
	if b == nil {
		return nil, errors.New("builder cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, b.method, b.target, nil)
	if err != nil {
		return nil, err
	}
	if len(b.headers) > 0 {
		req.Header = b.headers.Clone()
	}
	if b.host != "" {
		req.Host = b.host
	}
	return req, nil
}

func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
