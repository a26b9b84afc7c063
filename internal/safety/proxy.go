package safety

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/elazarl/goproxy"
)

// DomainPolicy is the static outbound network policy the DomainProxy
// enforces. Denylist entries win over allowlist matches; an empty
// Allowlist means "allow anything not denied".
type DomainPolicy struct {
	Allowlist []string
	Denylist  []string
}

// Permits reports whether host (or any of its parent domains) is allowed
// to be reached.
func (p DomainPolicy) Permits(host string) bool {
	host = strings.ToLower(stripPort(host))
	for _, d := range p.Denylist {
		if domainMatches(host, d) {
			return false
		}
	}
	if len(p.Allowlist) == 0 {
		return true
	}
	for _, a := range p.Allowlist {
		if domainMatches(host, a) {
			return true
		}
	}
	return false
}

func domainMatches(host, pattern string) bool {
	pattern = strings.ToLower(pattern)
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

// LoadDomainPolicy reads a JSON {"allow":[...],"deny":[...]} file at path.
// A missing file yields an empty (allow-all) policy, since the agent runs
// unattended and has no approval prompt to fall back on.
func LoadDomainPolicy(path string) (DomainPolicy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DomainPolicy{}, nil
	}
	if err != nil {
		return DomainPolicy{}, fmt.Errorf("read domain policy: %w", err)
	}
	var raw struct {
		Allow []string `json:"allow"`
		Deny  []string `json:"deny"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return DomainPolicy{}, fmt.Errorf("parse domain policy: %w", err)
	}
	return DomainPolicy{Allowlist: raw.Allow, Denylist: raw.Deny}, nil
}

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// DomainProxy is a local forward proxy that rejects CONNECT and plain
// HTTP requests to hosts outside DomainPolicy, so tool-initiated
// subprocesses cannot reach arbitrary network destinations.
type DomainProxy struct {
	server *http.Server
	addr   string
}

// Addr returns the proxy listen address as an HTTP URL.
func (p *DomainProxy) Addr() string {
	if p == nil {
		return ""
	}
	return p.addr
}

// Close stops the proxy server.
func (p *DomainProxy) Close() error {
	if p == nil || p.server == nil {
		return nil
	}
	return p.server.Close()
}

// StartDomainProxy starts a local HTTP proxy that enforces policy on
// every CONNECT (HTTPS) and plain HTTP request passing through it.
func StartDomainProxy(policy DomainPolicy) (*DomainProxy, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen domain proxy: %w", err)
	}

	proxy := goproxy.NewProxyHttpServer()
	proxy.Verbose = false
	proxy.OnRequest().HandleConnectFunc(func(host string, _ *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		if !policy.Permits(host) {
			return goproxy.RejectConnect, host
		}
		return goproxy.OkConnect, host
	})
	proxy.OnRequest().DoFunc(func(req *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		if req == nil || req.URL == nil {
			return req, nil
		}
		if !policy.Permits(req.URL.Host) {
			return req, goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusForbidden, "domain not permitted: "+req.URL.Host)
		}
		return req, nil
	})

	server := &http.Server{Handler: proxy}
	go func() {
		_ = server.Serve(ln)
	}()

	return &DomainProxy{
		server: server,
		addr:   "http://" + ln.Addr().String(),
	}, nil
}
