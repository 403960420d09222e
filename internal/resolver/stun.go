package resolver

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/pion/stun"
)

// STUNFetcher asks a stun://host:port server for the mapped address
type STUNFetcher struct {
	dialer net.Dialer
}

// NewSTUNFetcher creates a STUN fetcher
func NewSTUNFetcher() *STUNFetcher {
	return &STUNFetcher{}
}

// Fetch sends a binding request and renders the mapped IP
func (f *STUNFetcher) Fetch(ctx context.Context, endpoint string) ([]byte, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("endpoint %q has no host", endpoint)
	}
	port := u.Port()
	if port == "" {
		port = "3478"
	}

	conn, err := f.dialer.DialContext(ctx, "udp4", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return nil, fmt.Errorf("failed to dial stun server: %w", err)
	}
	defer conn.Close()

	// unblock the read on cancellation
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to build binding request: %w", err)
	}
	if _, err := req.WriteTo(conn); err != nil {
		return nil, fmt.Errorf("failed to send binding request: %w", err)
	}

	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read binding response: %w", err)
	}

	res := new(stun.Message)
	res.Raw = buf[:n]
	if err := res.Decode(); err != nil {
		return nil, fmt.Errorf("failed to decode binding response: %w", err)
	}
	if res.TransactionID != req.TransactionID {
		return nil, fmt.Errorf("transaction id mismatch")
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(res); err == nil {
		return []byte(xorAddr.IP.String()), nil
	}

	// servers implementing RFC 3489 only
	var mapped stun.MappedAddress
	if err := mapped.GetFrom(res); err != nil {
		return nil, fmt.Errorf("no mapped address in response: %w", err)
	}
	return []byte(mapped.IP.String()), nil
}
