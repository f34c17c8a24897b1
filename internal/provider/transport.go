package provider

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"aichat-backend/pkg/logger"
)

var sensitiveHeaders = []string{"authorization", "x-api-key", "x-auth-token", "cookie"}

// debugTransport logs outgoing POST bodies with credentials redacted.
type debugTransport struct {
	base     http.RoundTripper
	provider string
}

func (t *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost {
		t.logRequest(req)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		logger.Errorf("[%s debug] request to %s failed: %v", t.provider, req.URL, err)
	}
	return resp, err
}

func (t *debugTransport) logRequest(req *http.Request) {
	headers := make(map[string]string, len(req.Header))
	for name, values := range req.Header {
		if isSensitiveHeader(name) {
			headers[name] = "[REDACTED]"
			continue
		}
		headers[name] = strings.Join(values, ", ")
	}

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			logger.Errorf("[%s debug] read request body: %v", t.provider, err)
			return
		}
		req.Body = io.NopCloser(bytes.NewReader(b))
		body = b
	}

	logger.WithFields(map[string]interface{}{
		"provider": t.provider,
		"url":      req.URL.String(),
		"headers":  headers,
		"bytes":    len(body),
	}).Debugf("outgoing request: %s", body)
}

func isSensitiveHeader(name string) bool {
	for _, h := range sensitiveHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}

// headerTransport stamps fixed headers on every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}

func newHTTPClient(provider string, timeout time.Duration, debug bool, headers map[string]string) *http.Client {
	var rt http.RoundTripper = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if debug {
		rt = &debugTransport{base: rt, provider: provider}
	}
	if len(headers) > 0 {
		rt = &headerTransport{base: rt, headers: headers}
	}
	return &http.Client{Timeout: timeout, Transport: rt}
}
