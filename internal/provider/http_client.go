package provider

import (
	"net"
	"net/http"
	"time"
)

func newTransport(headerTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}
}

// NewHTTPClient returns a pooled client for request/response provider calls.
// timeout bounds the whole exchange.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(timeout),
	}
}

// NewStreamClient returns a client for event streams: only the wait for
// response headers is bounded, the body may stay open indefinitely.
func NewStreamClient(headerTimeout time.Duration) *http.Client {
	return &http.Client{Transport: newTransport(headerTimeout)}
}
