// Package resolver implements the DNS/IP resolver (spec.md §4.5): resolves
// a host to public IPv4 addresses and annotates each with cached
// WHOIS-derived organization and country. Grounded on
// G2CV-CASM/hands/cmd/dns_enum/resolver.go's DNSResolver.
package resolver

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/poplexity/bpvalidate/internal/cache"
	"github.com/poplexity/bpvalidate/internal/tools"
)

// Address is one resolved, annotated IP (spec.md §3 "Output resource
// entry" hosts[] shape).
type Address struct {
	IPAddress    string
	Organization string
	Country      string
}

// Resolver resolves hosts to public IPv4 addresses via miekg/dns, rejecting
// private/loopback ranges, and annotates results with cached WHOIS data.
type Resolver struct {
	client  *dns.Client
	servers []string
	cache   *cache.Store
	whois   tools.WHOISRunner
	whoisTTL time.Duration
}

func New(cacheStore *cache.Store, whois tools.WHOISRunner, servers []string, timeout time.Duration, whoisTTL time.Duration) *Resolver {
	resolved := normalizeServers(servers)
	if len(resolved) == 0 {
		resolved = loadSystemServers()
	}
	if len(resolved) == 0 {
		resolved = []string{"8.8.8.8:53"}
	}
	return &Resolver{
		client:   &dns.Client{Timeout: timeout},
		servers:  resolved,
		cache:    cacheStore,
		whois:    whois,
		whoisTTL: whoisTTL,
	}
}

// Result is the outcome of Resolve: either a list of annotated addresses,
// or a classification of why none were produced (spec.md §4.5).
type Result struct {
	Addresses   []Address
	LiteralIP   bool // host was already a literal IPv4/IPv6 address
	PrivateDrop []string
	Empty       bool
}

// Resolve looks up host's A records, drops private/loopback addresses, and
// annotates the rest with WHOIS org/country. A literal IP is accepted as
// one address but callers must still emit the literal-IP warning (spec.md
// §4.5 "Literal IPv4/IPv6 accepted but elicits a warn").
func (r *Resolver) Resolve(host string) (Result, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil {
			// IPv6 literal: dormant per spec.md §4.5 design note.
			return Result{LiteralIP: true, Empty: true}, nil
		}
		if isPrivateOrLoopback(ip) {
			return Result{LiteralIP: true, PrivateDrop: []string{host}, Empty: true}, nil
		}
		addr, err := r.annotate(host)
		if err != nil {
			return Result{}, err
		}
		return Result{LiteralIP: true, Addresses: []Address{addr}}, nil
	}

	answer, _, err := r.query(dns.Fqdn(host), dns.TypeA)
	if err != nil {
		return Result{}, err
	}

	var addrs []Address
	var dropped []string
	for _, ipStr := range answer.Values {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if isPrivateOrLoopback(ip) {
			dropped = append(dropped, ipStr)
			continue
		}
		addr, err := r.annotate(ipStr)
		if err != nil {
			return Result{}, err
		}
		addrs = append(addrs, addr)
	}

	return Result{Addresses: addrs, PrivateDrop: dropped, Empty: len(addrs) == 0}, nil
}

func (r *Resolver) annotate(ip string) (Address, error) {
	addr := Address{IPAddress: ip}

	if r.cache != nil {
		if rec, found, err := r.cache.GetWHOIS(ip); err == nil && found {
			addr.Organization = rec.Organization
			addr.Country = rec.Country
			return addr, nil
		}
	}

	if r.whois != nil {
		rec, err := r.whois.Lookup(ip)
		if err == nil {
			addr.Organization = rec.Organization
			addr.Country = rec.Country
			if r.cache != nil {
				_ = r.cache.PutWHOIS(ip, cache.WHOISRecord{Organization: rec.Organization, Country: rec.Country}, r.whoisTTL)
			}
		}
	}

	return addr, nil
}

func isPrivateOrLoopback(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return true
	}
	return false
}

// ---------------------------------------------------------------------
// DNS plumbing, grounded on G2CV-CASM/hands/cmd/dns_enum/resolver.go
// ---------------------------------------------------------------------

type answer struct {
	Values []string
	Rcode  int
}

func (r *Resolver) query(name string, qtype uint16) (answer, time.Duration, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(name, qtype)
	msg.RecursionDesired = true
	server := r.servers[0]
	start := time.Now()
	response, _, err := r.client.Exchange(msg, server)
	duration := time.Since(start)
	if err != nil {
		return answer{}, duration, err
	}
	if response == nil {
		return answer{}, duration, errors.New("empty dns response")
	}
	return answer{Values: extractAnswers(response, qtype), Rcode: response.Rcode}, duration, nil
}

func extractAnswers(msg *dns.Msg, qtype uint16) []string {
	var values []string
	for _, rr := range msg.Answer {
		switch record := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				values = append(values, record.A.String())
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				values = append(values, record.AAAA.String())
			}
		}
	}
	return values
}

func normalizeServers(servers []string) []string {
	var resolved []string
	seen := map[string]bool{}
	for _, server := range servers {
		value := strings.TrimSpace(server)
		if value == "" {
			continue
		}
		if !strings.Contains(value, ":") {
			value = net.JoinHostPort(value, "53")
		}
		if seen[value] {
			continue
		}
		seen[value] = true
		resolved = append(resolved, value)
	}
	return resolved
}

func loadSystemServers() []string {
	servers := []string{}
	if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
		for _, server := range conf.Servers {
			servers = append(servers, net.JoinHostPort(server, conf.Port))
		}
	}
	return servers
}
