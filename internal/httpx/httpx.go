// Package httpx builds the outbound HTTP client. Its Timeout is the only
// bound on an upstream call.
package httpx

import (
	"net"
	"net/http"
	"time"
)

const DefaultUserAgent = "barfeed/1.0"

// Client is a small wrapper around http.Client with sane defaults.
// UserAgent and Headers are added to requests that do not already set them.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Headers   map[string]string
}

func New(timeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       20,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	c := &Client{UserAgent: DefaultUserAgent, Headers: map[string]string{}}
	c.HTTP = &http.Client{Timeout: timeout, Transport: &headerTransport{base: transport, c: c}}
	return c
}

// Standard returns the configured *http.Client for libraries that take one.
func (c *Client) Standard() *http.Client { return c.HTTP }

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.HTTP.Do(req)
}

type headerTransport struct {
	base http.RoundTripper
	c    *Client
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.c.UserAgent == "" && len(t.c.Headers) == 0 {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	if t.c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.c.UserAgent)
	}
	for k, v := range t.c.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return t.base.RoundTrip(req)
}
