package fast

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"

	"github.com/gravwell/pixelforge/internal/record"
)

// whoisResolver chases IANA-style "origin.asn.cymru.com" TXT records to
// resolve an ASN/org pair for enrichment 12, caching results by /24 since
// WHOIS-style lookups are expensive relative to the per-request budget.
type whoisResolver struct {
	client *dns.Client
	mu     sync.Mutex
	cache  map[string]whoisEntry
}

type whoisEntry struct {
	asn   string
	org   string
	until time.Time
}

const whoisCacheTTL = time.Hour

func newWhoisResolver() *whoisResolver {
	return &whoisResolver{
		client: &dns.Client{Timeout: 2 * time.Second},
		cache:  make(map[string]whoisEntry),
	}
}

func (p *Pipeline) runWhois(ctx context.Context, rec *record.TrackingRecord, addr netip.Addr, addrErr error) {
	if addrErr != nil || !addr.Is4() {
		p.Stats.skip(12)
		return
	}
	key, ok := subnet24(addr)
	if !ok {
		p.Stats.skip(12)
		return
	}

	p.whois.mu.Lock()
	if e, ok := p.whois.cache[key]; ok && time.Now().Before(e.until) {
		p.whois.mu.Unlock()
		appendParam(rec, "_srv_whoisASN", e.asn)
		appendParam(rec, "_srv_whoisOrg", e.org)
		return
	}
	p.whois.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.whoisTimeout)
	defer cancel()

	asn, org, err := p.whois.chase(ctx, addr)
	if err != nil {
		p.Stats.skip(12)
		return
	}
	p.whois.mu.Lock()
	p.whois.cache[key] = whoisEntry{asn: asn, org: org, until: time.Now().Add(whoisCacheTTL)}
	p.whois.mu.Unlock()

	appendParam(rec, "_srv_whoisASN", asn)
	appendParam(rec, "_srv_whoisOrg", org)
}

func (w *whoisResolver) chase(ctx context.Context, addr netip.Addr) (asn, org string, err error) {
	reversed, err := reverseOctets(addr)
	if err != nil {
		return "", "", err
	}
	qname := reversed + ".origin.asn.cymru.com."

	first, err := w.txt(ctx, qname)
	if err != nil {
		return "", "", err
	}
	// "AS | prefix | CC | registry | allocated"
	asn = strings.TrimSpace(strings.Split(first, " | ")[0])
	if asn == "" {
		return "", "", fmt.Errorf("empty ASN in answer for %s", qname)
	}
	// The AS description lives behind a second hop; its absence only
	// costs the org field, not the ASN.
	if desc, err := w.txt(ctx, "AS"+asn+".asn.cymru.com."); err == nil {
		fields := strings.Split(desc, " | ")
		org = strings.TrimSpace(fields[len(fields)-1])
	}
	return asn, org, nil
}

func (w *whoisResolver) txt(ctx context.Context, qname string) (string, error) {
	m := new(dns.Msg)
	m.SetQuestion(qname, dns.TypeTXT)
	in, _, err := w.client.ExchangeContext(ctx, m, "8.8.8.8:53")
	if err != nil {
		return "", err
	}
	for _, a := range in.Answer {
		if txt, ok := a.(*dns.TXT); ok && len(txt.Txt) > 0 {
			return txt.Txt[0], nil
		}
	}
	return "", fmt.Errorf("no TXT answer for %s", qname)
}

func reverseOctets(addr netip.Addr) (string, error) {
	ip4 := net.ParseIP(addr.String()).To4()
	if ip4 == nil {
		return "", fmt.Errorf("not an IPv4 address: %s", addr)
	}
	return fmt.Sprintf("%d.%d.%d.%d", ip4[3], ip4[2], ip4[1], ip4[0]), nil
}
