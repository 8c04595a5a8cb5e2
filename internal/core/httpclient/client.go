// Package httpclient configures the HTTP client used to call upstream services.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// DefaultTimeout bounds a whole upstream exchange when no option overrides it.
const DefaultTimeout = 30 * time.Second

type Option func(*settings)

type settings struct {
	timeout     time.Duration
	userAgent   string
	maxPerHost  int
	idlePerHost int
}

func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent on requests that do not carry one.
// Public OSM services reject anonymous clients.
func WithUserAgent(ua string) Option { return func(s *settings) { s.userAgent = ua } }

// WithMaxConnsPerHost caps concurrent connections to one upstream; 0 leaves it
// unbounded.
func WithMaxConnsPerHost(n int) Option {
	return func(s *settings) {
		if n >= 0 {
			s.maxPerHost = n
		}
	}
}

type uaTransport struct {
	next http.RoundTripper
	ua   string
}

func (t uaTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", t.ua)
	return t.next.RoundTrip(r)
}

// NewOutbound creates the client shared by the geometry and tile providers.
func NewOutbound(opts ...Option) *http.Client {
	s := settings{timeout: DefaultTimeout, idlePerHost: 128}
	for _, o := range opts {
		o(&s)
	}
	if s.maxPerHost > 0 && s.idlePerHost > s.maxPerHost {
		s.idlePerHost = s.maxPerHost
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   s.idlePerHost,
		MaxConnsPerHost:       s.maxPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	var rt http.RoundTripper = transport
	if s.userAgent != "" {
		rt = uaTransport{next: transport, ua: s.userAgent}
	}
	return &http.Client{
		Transport: rt,
		Timeout:   s.timeout,
	}
}
