package proxy

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/agentforge/corerun/internal/leak"
)

func TestIsHopByHopHeader(t *testing.T) {
	for _, h := range []string{"connection", "Connection", "transfer-encoding"} {
		if !isHopByHopHeader(h) {
			t.Fatalf("expected %q to be hop-by-hop", h)
		}
	}
	for _, h := range []string{"content-type", "authorization"} {
		if isHopByHopHeader(h) {
			t.Fatalf("expected %q to not be hop-by-hop", h)
		}
	}
}

func startTestUpstream(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func hostOf(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return u.Hostname()
}

func TestForwardRequestAllowsAndStripsHopByHopHeaders(t *testing.T) {
	upstream := startTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Connection") != "" {
			t.Error("hop-by-hop header Connection should not reach upstream")
		}
		w.Header().Set("Connection", "keep-alive")
		w.Write([]byte("hello"))
	})

	decider := NewAllowlistDecider([]DomainRule{{Domain: hostOf(t, upstream.URL)}})
	p := New(decider, NoCredentialResolver{}, leak.NewDetector(), WithHTTPClient(upstream.Client()))

	addr, err := p.Start(0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop(context.Background())

	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(&url.URL{Scheme: "http", Host: addr})},
	}
	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatalf("get via proxy: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "hello" {
		t.Fatalf("got body %q", body)
	}
	if p.RequestCount() == 0 {
		t.Fatal("expected request count to increment")
	}
}

func TestForwardRequestDeniesUnlistedDomain(t *testing.T) {
	upstream := startTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("should not reach here"))
	})

	decider := NewAllowlistDecider(nil) // nothing allowed
	p := New(decider, NoCredentialResolver{}, leak.NewDetector())

	addr, err := p.Start(0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop(context.Background())

	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(&url.URL{Scheme: "http", Host: addr})},
	}
	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatalf("get via proxy: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestForwardRequestInjectsBearerCredential(t *testing.T) {
	var gotAuth string
	upstream := startTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	})

	resolver := credentialFunc(func(_ context.Context, name string) (string, bool) {
		if name == "TEST_SECRET" {
			return "sekret-value", true
		}
		return "", false
	})

	decider := NewAllowlistDecider([]DomainRule{{
		Domain:     hostOf(t, upstream.URL),
		SecretName: "TEST_SECRET",
		Location:   CredentialLocation{Kind: LocationAuthorizationBearer},
	}})
	p := New(decider, resolver, leak.NewDetector(), WithHTTPClient(upstream.Client()))

	addr, err := p.Start(0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop(context.Background())

	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(&url.URL{Scheme: "http", Host: addr})},
	}
	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatalf("get via proxy: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer sekret-value" {
		t.Fatalf("got Authorization header %q", gotAuth)
	}
}

func TestForwardRequestBlocksOutboundLeak(t *testing.T) {
	upstream := startTestUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream should never be reached when a leak is detected")
	})

	decider := NewAllowlistDecider([]DomainRule{{Domain: hostOf(t, upstream.URL)}})
	p := New(decider, NoCredentialResolver{}, leak.NewDetector())

	addr, err := p.Start(0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop(context.Background())

	secret := "sk-ant-api03-" + strings.Repeat("a", 95)
	req, _ := http.NewRequest(http.MethodGet, upstream.URL, nil)
	req.Header.Set("X-Secret", secret)

	client := &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(&url.URL{Scheme: "http", Host: addr})},
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for leaked secret, got %d", resp.StatusCode)
	}
}

func TestProxyStartStop(t *testing.T) {
	p := New(NewAllowlistDecider(nil), NoCredentialResolver{}, leak.NewDetector())

	addr, err := p.Start(0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if addr == "" {
		t.Fatal("expected non-empty bound address")
	}
	if !p.IsRunning() {
		t.Fatal("expected proxy to report running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestConnectTunnelsHTTPSTraffic(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secure hello"))
	}))
	t.Cleanup(upstream.Close)

	decider := NewAllowlistDecider([]DomainRule{{Domain: hostOf(t, upstream.URL)}})
	p := New(decider, NoCredentialResolver{}, leak.NewDetector())

	addr, err := p.Start(0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop(context.Background())

	client := &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(&url.URL{Scheme: "http", Host: addr}),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	resp, err := client.Get(upstream.URL)
	if err != nil {
		t.Fatalf("get via CONNECT tunnel: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "secure hello" {
		t.Fatalf("got body %q", body)
	}
}

func TestConnectDeniesUnlistedDomain(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("should not be reached"))
	}))
	t.Cleanup(upstream.Close)

	decider := NewAllowlistDecider(nil)
	p := New(decider, NoCredentialResolver{}, leak.NewDetector())

	addr, err := p.Start(0)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop(context.Background())

	client := &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(&url.URL{Scheme: "http", Host: addr}),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	_, err = client.Get(upstream.URL)
	if err == nil {
		t.Fatal("expected CONNECT to a denied domain to fail")
	}
}

// credentialFunc adapts a function literal to the CredentialResolver
// interface for tests.
type credentialFunc func(ctx context.Context, name string) (string, bool)

func (f credentialFunc) Resolve(ctx context.Context, name string) (string, bool) {
	return f(ctx, name)
}
