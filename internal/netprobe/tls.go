// Package netprobe implements the two cached, rate-limited side-channel
// probes spec.md §4.7 and §4.8 describe: the TLS cipher scan and the P2P
// connectivity/speed probe.
package netprobe

import (
	"context"
	"sync"
	"time"

	"github.com/poplexity/bpvalidate/internal/cache"
	"github.com/poplexity/bpvalidate/internal/findings"
	"github.com/poplexity/bpvalidate/internal/tools"
)

// modernTLSVersions is the set of acceptable protocol versions per
// spec.md §4.6/§4.7; anything else yields a warn.
var modernTLSVersions = map[string]bool{"TLSv1.2": true, "TLSv1.3": true}

// scanCooldown rate-limits nmap invocations across the whole process
// (spec.md §4.7: "a global, cross-BP concern").
const scanCooldown = 20 * time.Second

// TLSProbe caches and rate-limits the external TLS cipher scan.
type TLSProbe struct {
	scanner tools.TLSScanner
	cache   *cache.Store
	ttl     time.Duration

	mu sync.Mutex // serializes external scans process-wide; held through the cooldown sleep
}

func NewTLSProbe(scanner tools.TLSScanner, cacheStore *cache.Store, ttl time.Duration) *TLSProbe {
	return &TLSProbe{scanner: scanner, cache: cacheStore, ttl: ttl}
}

// Check validates the TLS posture of (url, ip, port): looks up the cached
// cipher scan (or runs and caches one), then emits a warn for every
// protocol version outside {TLSv1.2, TLSv1.3} (spec.md §4.7).
func (p *TLSProbe) Check(ctx context.Context, rec *findings.Recorder, class findings.Class, url, ip string, port int) []string {
	if versions, found, err := p.cache.GetTLSVersions(url, ip, port); err == nil && found {
		p.emit(rec, class, versions)
		return versions
	}

	versions := p.scanLocked(ctx, url, ip, port)
	_ = p.cache.PutTLSVersions(url, ip, port, versions, p.ttl)
	p.emit(rec, class, versions)
	return versions
}

func (p *TLSProbe) scanLocked(ctx context.Context, url, ip string, port int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	versions, err := p.scanner.Scan(ctx, ip, port)

	// After any external invocation the probe sleeps to rate-limit
	// concurrent scans (spec.md §4.7), holding the lock so the next
	// caller's scan is delayed by the same cooldown.
	select {
	case <-time.After(scanCooldown):
	case <-ctx.Done():
	}

	if err != nil {
		return nil
	}
	return versions
}

func (p *TLSProbe) emit(rec *findings.Recorder, class findings.Class, versions []string) {
	anyModern := false
	for _, v := range versions {
		if modernTLSVersions[v] {
			anyModern = true
			continue
		}
		rec.Add(findings.Warn, "obsolete TLS protocol version enabled", class, map[string]interface{}{
			"tls_version": v,
		})
	}
	if anyModern && allModern(versions) {
		rec.Add(findings.OK, "only modern TLS protocol versions enabled", class, map[string]interface{}{
			"tls_versions": versions,
		})
	}
}

func allModern(versions []string) bool {
	for _, v := range versions {
		if !modernTLSVersions[v] {
			return false
		}
	}
	return true
}
