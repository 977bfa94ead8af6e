// Package httpclient configures the HTTP client used by http workloads.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewOutbound builds the shared client for http task kinds. The limits
// assume tasks mostly target one upstream host, so per-host capacity has
// to cover the executor's maximum parallelism; per-task deadlines come
// from the run context, the client timeout only caps runaway requests.
func NewOutbound() *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        512,
		MaxIdleConnsPerHost: 256,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   2 * time.Minute,
	}
}
