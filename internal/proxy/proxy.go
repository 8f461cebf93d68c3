// Package proxy implements the in-process HTTP/CONNECT server that
// mediates a sandboxed container's outbound traffic (C5, §4.5): it
// enforces a domain allowlist, injects credentials into allowed
// requests, and scans both the outbound request and the inbound
// response for leaked secrets.
package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentforge/corerun/internal/leak"
)

// tunnelTimeout bounds a CONNECT tunnel's lifetime so a hung remote peer
// cannot pin a goroutine forever.
const tunnelTimeout = 30 * time.Minute

// hopByHopHeaders must never be forwarded in either direction.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

func isHopByHopHeader(name string) bool {
	return hopByHopHeaders[strings.ToLower(name)]
}

// Proxy is a loopback-only HTTP/1.1 forward proxy and CONNECT tunnel.
type Proxy struct {
	decider  PolicyDecider
	resolver CredentialResolver
	detector *leak.Detector
	client   *http.Client
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server

	requestCount atomic.Uint64
	running      atomic.Bool
}

// Option configures a Proxy at construction time.
type Option func(*Proxy)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Proxy) { p.logger = logger }
}

func WithHTTPClient(client *http.Client) Option {
	return func(p *Proxy) { p.client = client }
}

// New builds a Proxy. detector is never nil internally — a zero-pattern
// detector is used if none is supplied.
func New(decider PolicyDecider, resolver CredentialResolver, detector *leak.Detector, opts ...Option) *Proxy {
	if detector == nil {
		detector = leak.NewDetector()
	}
	p := &Proxy{
		decider:  decider,
		resolver: resolver,
		detector: detector,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start binds a loopback TCP listener on port (0 for auto-assign) and
// begins serving. It returns the bound address.
func (p *Proxy) Start(port int) (string, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return "", fmt.Errorf("proxy: failed to bind: %w", err)
	}

	server := &http.Server{
		Handler:           http.HandlerFunc(p.serveHTTP),
		ReadHeaderTimeout: 10 * time.Second,
	}

	p.mu.Lock()
	p.listener = listener
	p.server = server
	p.mu.Unlock()

	p.running.Store(true)

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			if p.logger != nil {
				p.logger.Error("proxy server error", "error", err)
			}
		}
		p.running.Store(false)
	}()

	if p.logger != nil {
		p.logger.Info("sandbox proxy started", "addr", listener.Addr().String())
	}

	return listener.Addr().String(), nil
}

// Stop shuts the proxy down, allowing in-flight requests (but not
// CONNECT tunnels, which are detached) to finish within ctx's deadline.
func (p *Proxy) Stop(ctx context.Context) error {
	p.mu.Lock()
	server := p.server
	p.mu.Unlock()
	if server == nil {
		return nil
	}
	if p.logger != nil {
		p.logger.Info("sandbox proxy shutting down")
	}
	return server.Shutdown(ctx)
}

func (p *Proxy) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

func (p *Proxy) IsRunning() bool { return p.running.Load() }

func (p *Proxy) RequestCount() uint64 { return p.requestCount.Load() }

func (p *Proxy) serveHTTP(w http.ResponseWriter, r *http.Request) {
	p.requestCount.Add(1)

	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	p.forwardRequest(w, r)
}

// handleConnect establishes a bidirectional tunnel for HTTPS traffic.
// Credential injection is not possible here since the proxy cannot
// inspect TLS-encrypted bytes without a MITM; callers needing
// authenticated HTTPS must fetch credentials out of band.
func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Host
	if host == "" {
		host = r.Host
	}
	if host == "" {
		http.Error(w, "missing host", http.StatusBadRequest)
		return
	}

	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}

	decision := p.decider.Decide(r.Context(), NetworkRequest{
		Method: "CONNECT",
		URL:    "https://" + hostname,
		Host:   hostname,
		Path:   "/",
	})
	if !decision.Allow {
		if p.logger != nil {
			p.logger.Info("proxy blocked CONNECT", "host", hostname, "reason", decision.Reason)
		}
		http.Error(w, decision.Reason, http.StatusForbidden)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}

	target := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		target = net.JoinHostPort(host, "443")
	}

	serverConn, err := net.DialTimeout("tcp", target, 10*time.Second)
	if err != nil {
		fmt.Fprintf(clientConn, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		clientConn.Close()
		if p.logger != nil {
			p.logger.Error("proxy failed to connect upstream", "target", target, "error", err)
		}
		return
	}

	if _, err := fmt.Fprintf(clientConn, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		clientConn.Close()
		serverConn.Close()
		return
	}

	go p.tunnel(clientConn, serverConn, target)
}

func (p *Proxy) tunnel(clientConn, serverConn net.Conn, target string) {
	defer clientConn.Close()
	defer serverConn.Close()

	deadline := time.Now().Add(tunnelTimeout)
	clientConn.SetDeadline(deadline)
	serverConn.SetDeadline(deadline)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(serverConn, clientConn)
	}()
	go func() {
		defer wg.Done()
		io.Copy(clientConn, serverConn)
	}()
	wg.Wait()

	if p.logger != nil {
		p.logger.Debug("proxy tunnel closed", "target", target)
	}
}

// forwardRequest handles plain HTTP methods: validate against the
// decider, strip hop-by-hop headers, inject credentials, scan outbound
// for leaks, forward, scan the response, and stream it back.
func (p *Proxy) forwardRequest(w http.ResponseWriter, r *http.Request) {
	targetURL := r.URL.String()
	if !r.URL.IsAbs() {
		scheme := "http"
		host := r.Host
		if host == "" {
			host = r.URL.Host
		}
		targetURL = scheme + "://" + host + r.URL.RequestURI()
	}

	req, ok := NewNetworkRequest(r.Method, targetURL)
	if !ok {
		http.Error(w, "invalid URL", http.StatusBadRequest)
		return
	}

	decision := p.decider.Decide(r.Context(), req)
	if !decision.Allow {
		if p.logger != nil {
			p.logger.Info("proxy blocked request", "method", r.Method, "url", targetURL, "reason", decision.Reason)
		}
		http.Error(w, decision.Reason, http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, strings.NewReader(string(body)))
	if err != nil {
		http.Error(w, "failed to build request", http.StatusInternalServerError)
		return
	}
	for name, values := range r.Header {
		if isHopByHopHeader(name) {
			continue
		}
		for _, v := range values {
			outReq.Header.Add(name, v)
		}
	}

	if decision.HasCredential {
		p.injectCredential(r.Context(), outReq, decision)
	}

	if err := p.scanOutbound(outReq, body); err != nil {
		if p.logger != nil {
			p.logger.Info("proxy blocked outbound leak", "url", targetURL, "error", err)
		}
		http.Error(w, "blocked: outbound request contains a detected secret", http.StatusForbidden)
		return
	}

	resp, err := p.client.Do(outReq)
	if err != nil {
		http.Error(w, fmt.Sprintf("request failed: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "failed to read response", http.StatusBadGateway)
		return
	}

	cleanBody, err := p.scanInbound(respBody)
	if err != nil {
		if p.logger != nil {
			p.logger.Info("proxy blocked inbound leak", "url", targetURL, "error", err)
		}
		http.Error(w, "blocked: response contains a detected secret", http.StatusForbidden)
		return
	}

	for name, values := range resp.Header {
		if isHopByHopHeader(name) {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(cleanBody)))
	w.WriteHeader(resp.StatusCode)
	w.Write([]byte(cleanBody))
}

func (p *Proxy) injectCredential(ctx context.Context, req *http.Request, decision NetworkDecision) {
	credential, ok := p.resolver.Resolve(ctx, decision.SecretName)
	if !ok {
		if p.logger != nil {
			p.logger.Warn("proxy credential not found", "secret", decision.SecretName)
		}
		return
	}

	switch decision.Location.Kind {
	case LocationAuthorizationBearer:
		req.Header.Set("Authorization", "Bearer "+credential)
	case LocationHeader:
		req.Header.Set(decision.Location.Name, decision.Location.Prefix+credential)
	case LocationQueryParam:
		q := req.URL.Query()
		q.Set(decision.Location.Name, credential)
		req.URL.RawQuery = q.Encode()
	case LocationAuthorizationBasic, LocationURLPath:
		if p.logger != nil {
			p.logger.Warn("proxy credential location not supported, forwarding unauthenticated", "location", decision.Location.Kind)
		}
	}
}

func (p *Proxy) scanOutbound(req *http.Request, body []byte) error {
	headers := make([][2]string, 0, len(req.Header))
	for name, values := range req.Header {
		for _, v := range values {
			headers = append(headers, [2]string{name, v})
		}
	}
	return p.detector.ScanHTTPRequest(req.URL.String(), headers, body)
}

func (p *Proxy) scanInbound(body []byte) (string, error) {
	return p.detector.ScanAndClean(string(body))
}
