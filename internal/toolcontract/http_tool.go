package toolcontract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentforge/corerun/internal/jobctx"
	"github.com/agentforge/corerun/internal/leak"
	"github.com/agentforge/corerun/internal/net/ssrf"
)

// maxHTTPResponseBytes bounds how much of a response body the tool will
// read, matching the proxy's own streaming cap (§4.5).
const maxHTTPResponseBytes = 5 << 20

var allowedHTTPMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
	http.MethodPatch:  true,
}

// HTTPTool issues outbound HTTP requests on the model's behalf, refusing
// non-https targets, localhost/private/metadata-service destinations,
// and redirect responses (SSRF mitigations), and leak-scanning the
// outbound body before it leaves the process.
type HTTPTool struct {
	client   *http.Client
	detector *leak.Detector
}

// NewHTTPTool builds an HTTPTool that never follows redirects (SSRF
// mitigation — redirects are refused, not transparently followed) and
// scans outbound request data with detector.
func NewHTTPTool(detector *leak.Detector) *HTTPTool {
	if detector == nil {
		detector = leak.NewDetector()
	}
	return &HTTPTool{
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		detector: detector,
	}
}

func (t *HTTPTool) Name() string        { return "http" }
func (t *HTTPTool) Description() string { return "Make an outbound HTTP request to a public https URL." }

func (t *HTTPTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"method":  map[string]any{"type": "string"},
			"url":     map[string]any{"type": "string"},
			"headers": map[string]any{"type": "object"},
			"body":    map[string]any{"type": "string"},
		},
		"required": []any{"method", "url"},
	}
}

type httpParams struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

func (t *HTTPTool) Execute(ctx context.Context, raw json.RawMessage, job *jobctx.Context) (*Output, error) {
	var p httpParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, newError(ErrInvalidParameters, t.Name(), "malformed parameters", err)
	}

	method := strings.ToUpper(strings.TrimSpace(p.Method))
	if !allowedHTTPMethods[method] {
		return nil, newError(ErrInvalidParameters, t.Name(), fmt.Sprintf("unsupported method %q", p.Method), nil)
	}

	parsed, err := url.Parse(p.URL)
	if err != nil {
		return nil, newError(ErrInvalidParameters, t.Name(), "invalid url", err)
	}
	if parsed.Scheme != "https" {
		return nil, newError(ErrNotAuthorized, t.Name(), "only https urls are permitted", nil)
	}

	headerPairs := make([][2]string, 0, len(p.Headers))
	for k, v := range p.Headers {
		headerPairs = append(headerPairs, [2]string{k, v})
	}
	if err := t.detector.ScanHTTPRequest(p.URL, headerPairs, []byte(p.Body)); err != nil {
		return nil, newError(ErrNotAuthorized, t.Name(), "request blocked by leak detector", err)
	}

	host := parsed.Hostname()
	if ssrf.IsBlockedHostname(host) || ssrf.IsPrivateIPAddress(host) {
		return nil, newError(ErrNotAuthorized, t.Name(), "blocked host", nil)
	}
	if err := ssrf.ValidatePublicHostname(host); err != nil {
		return nil, newError(ErrNotAuthorized, t.Name(), "host resolves to a disallowed address", err)
	}

	var bodyReader io.Reader
	if p.Body != "" {
		bodyReader = strings.NewReader(p.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.URL, bodyReader)
	if err != nil {
		return nil, newError(ErrExecutionFailed, t.Name(), "failed to build request", err)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, newError(ErrExternalService, t.Name(), "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return nil, newError(ErrNotAuthorized, t.Name(), "redirect responses are refused", nil)
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.Atoi(cl); err == nil && n > maxHTTPResponseBytes {
			return nil, newError(ErrExecutionFailed, t.Name(), "response exceeds maximum size", nil)
		}
	}

	limited := io.LimitReader(resp.Body, maxHTTPResponseBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, newError(ErrExternalService, t.Name(), "failed reading response", err)
	}
	if len(data) > maxHTTPResponseBytes {
		data = data[:maxHTTPResponseBytes]
	}

	return &Output{
		Content:              string(data),
		IsError:              resp.StatusCode >= 400,
		RequiresSanitization: true,
	}, nil
}

func (t *HTTPTool) RequiresSanitization() bool { return true }
