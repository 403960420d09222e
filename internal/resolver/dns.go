package resolver

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/miekg/dns"
)

// DNSFetcher queries "what is my address" names such as
// dns://resolver1.opendns.com/myip.opendns.com or
// dns://ns1.google.com/o-o.myaddr.l.google.com?type=TXT
type DNSFetcher struct {
	client *dns.Client
}

// NewDNSFetcher creates a UDP DNS fetcher
func NewDNSFetcher() *DNSFetcher {
	return &DNSFetcher{client: &dns.Client{Net: "udp"}}
}

// Fetch resolves the endpoint's name against its resolver and renders the
// answers one per line.
func (f *DNSFetcher) Fetch(ctx context.Context, endpoint string) ([]byte, error) {
	server, name, qtype, err := parseDNSEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	msg := dns.Msg{
		MsgHdr: dns.MsgHdr{Id: dns.Id()},
	}
	msg.SetQuestion(dns.Fqdn(name), qtype)

	r, _, err := f.client.ExchangeContext(ctx, &msg, server)
	if err != nil {
		return nil, fmt.Errorf("dns exchange failed: %w", err)
	}
	if r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("dns query failed: %s", dns.RcodeToString[r.Rcode])
	}

	var lines []string
	for _, rr := range r.Answer {
		switch rr := rr.(type) {
		case *dns.A:
			lines = append(lines, rr.A.String())
		case *dns.TXT:
			lines = append(lines, strings.Join(rr.Txt, ""))
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("no answer for %s", name)
	}
	return []byte(strings.Join(lines, "\n")), nil
}

func parseDNSEndpoint(endpoint string) (server, name string, qtype uint16, err error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid endpoint: %w", err)
	}

	host := u.Hostname()
	if host == "" {
		return "", "", 0, fmt.Errorf("endpoint %q has no resolver", endpoint)
	}
	port := u.Port()
	if port == "" {
		port = "53"
	}

	name = strings.Trim(u.Path, "/")
	if name == "" {
		return "", "", 0, fmt.Errorf("endpoint %q has no query name", endpoint)
	}

	switch t := strings.ToUpper(u.Query().Get("type")); t {
	case "", "A":
		qtype = dns.TypeA
	case "TXT":
		qtype = dns.TypeTXT
	default:
		return "", "", 0, fmt.Errorf("unsupported query type %q", t)
	}

	return net.JoinHostPort(host, port), name, qtype, nil
}
