package resolver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
)

const (
	browserUserAgent      = "Mozilla/5.0 (X11; Linux x86_64; rv:57.0) Gecko/20100101 Firefox/57.0"
	browserAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	browserAcceptLanguage = "en-US,en;q=0.5"

	// maxBodySize caps how much of a response is scanned
	maxBodySize = 1 << 20
)

// ErrUnsupportedScheme is returned for endpoints no fetcher handles
var ErrUnsupportedScheme = errors.New("unsupported endpoint scheme")

// Fetcher retrieves the raw response of an address-reporting service
type Fetcher interface {
	Fetch(ctx context.Context, endpoint string) ([]byte, error)
}

// HTTPFetcher scrapes http(s) endpoints. Certificate verification is off:
// only the returned address is checked, never the transport identity.
type HTTPFetcher struct {
	transport http.RoundTripper
}

// NewHTTPFetcher creates a fetcher with relaxed TLS verification
func NewHTTPFetcher() *HTTPFetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	return &HTTPFetcher{transport: transport}
}

// Fetch issues a GET and returns at most maxBodySize bytes of the body
func (f *HTTPFetcher) Fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", browserAccept)
	req.Header.Set("Accept-Language", browserAcceptLanguage)

	// fresh jar per request, cookies only live across redirects
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	client := &http.Client{Transport: f.transport, Jar: jar}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// SchemeFetcher dispatches on the endpoint URL scheme
type SchemeFetcher struct {
	HTTP Fetcher
	DNS  Fetcher
	STUN Fetcher
}

// NewSchemeFetcher creates a dispatcher with the default fetchers
func NewSchemeFetcher() *SchemeFetcher {
	return &SchemeFetcher{
		HTTP: NewHTTPFetcher(),
		DNS:  NewDNSFetcher(),
		STUN: NewSTUNFetcher(),
	}
}

// Fetch routes endpoint to the fetcher for its scheme
func (f *SchemeFetcher) Fetch(ctx context.Context, endpoint string) ([]byte, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	var next Fetcher
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		next = f.HTTP
	case "dns":
		next = f.DNS
	case "stun":
		next = f.STUN
	}
	if next == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return next.Fetch(ctx, endpoint)
}
