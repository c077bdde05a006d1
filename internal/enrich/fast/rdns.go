package fast

import (
	"context"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"

	"github.com/gravwell/pixelforge/internal/record"
)

// cloudHostnamePattern flags reverse-DNS names that read like managed
// cloud/hosting infrastructure rather than a residential ISP.
var cloudHostnamePattern = regexp.MustCompile(`(?i)(amazonaws\.com|googleusercontent\.com|azure|cloudfront|ovh\.net|digitalocean|linode|hetzner)`)

// rdnsResolver issues short-timeout PTR lookups for enrichment 10.
type rdnsResolver struct {
	client  *dns.Client
	servers []string
}

func newRDNSResolver() *rdnsResolver {
	return &rdnsResolver{
		client:  &dns.Client{Timeout: 250 * time.Millisecond},
		servers: []string{"1.1.1.1:53", "8.8.8.8:53"},
	}
}

func (p *Pipeline) runReverseDNS(ctx context.Context, rec *record.TrackingRecord, addr netip.Addr, addrErr error) {
	if addrErr != nil {
		p.Stats.skip(10)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.dnsTimeout)
	defer cancel()

	name, err := dns.ReverseAddr(addr.String())
	if err != nil {
		p.Stats.skip(10)
		return
	}
	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypePTR)

	host, err := p.rdns.lookup(ctx, m)
	if err != nil || host == `` {
		p.Stats.skip(10)
		return
	}
	// PTR records occasionally carry an internationalized hostname as a raw
	// UTF-8 label rather than its Punycode ACE form; normalize to ASCII so
	// storage and cloudHostnamePattern matching see one consistent form.
	if ascii, err := idna.ToASCII(host); err == nil {
		host = ascii
	}
	appendParam(rec, "_srv_rdns", host)
	if cloudHostnamePattern.MatchString(host) {
		appendFlag(rec, "_srv_rdnsCloud")
	}
}

func (r *rdnsResolver) lookup(ctx context.Context, m *dns.Msg) (string, error) {
	var lastErr error
	for _, srv := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, m, srv)
		if err != nil {
			lastErr = err
			continue
		}
		for _, a := range in.Answer {
			if ptr, ok := a.(*dns.PTR); ok {
				return strings.TrimSuffix(ptr.Ptr, "."), nil
			}
		}
		return "", nil
	}
	return "", lastErr
}
