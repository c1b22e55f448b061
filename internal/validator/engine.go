package validator

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/poplexity/bpvalidate/internal/aloha"
	"github.com/poplexity/bpvalidate/internal/bpjson"
	"github.com/poplexity/bpvalidate/internal/cache"
	"github.com/poplexity/bpvalidate/internal/config"
	"github.com/poplexity/bpvalidate/internal/findings"
	"github.com/poplexity/bpvalidate/internal/httpprobe"
	"github.com/poplexity/bpvalidate/internal/netprobe"
	"github.com/poplexity/bpvalidate/internal/nodes"
	"github.com/poplexity/bpvalidate/internal/onchain"
	"github.com/poplexity/bpvalidate/internal/regproducer"
	"github.com/poplexity/bpvalidate/internal/resolver"
	"github.com/poplexity/bpvalidate/internal/tools"
	"github.com/poplexity/bpvalidate/internal/urlvalidator"
)

// Engine holds the long-lived, cache-backed components one process shares
// across every validation it runs (spec.md §5: "sharing the persistent
// caches ... across BPs"). Validate owns nothing across calls beyond these
// shared components, so it is safe to call concurrently from a fleet
// coordinator — each call builds its own recorder, duplicate registry, and
// per-chain sub-validators.
type Engine struct {
	cfg      *config.Config
	prober   *httpprobe.Prober
	resolve  *resolver.Resolver
	tlsProbe *netprobe.TLSProbe
	p2p      *netprobe.P2PProbe
	http2    tools.HTTP2Detector
}

// New wires the shared components from already-opened backends: cacheStore
// (shared Badger handle), and the four external-tool adapters.
func New(cfg *config.Config, cacheStore *cache.Store, whois tools.WHOISRunner, tlsScanner tools.TLSScanner, p2pTester tools.P2PTester, http2 tools.HTTP2Detector, dnsServers []string, dnsTimeout time.Duration) *Engine {
	return &Engine{
		cfg:      cfg,
		prober:   httpprobe.New(cacheStore),
		resolve:  resolver.New(cacheStore, whois, dnsServers, dnsTimeout, cfg.Cache.WHOISTTLDuration()),
		tlsProbe: netprobe.NewTLSProbe(tlsScanner, cacheStore, cfg.Cache.TLSTTLDuration()),
		p2p:      netprobe.NewP2PProbe(p2pTester),
		http2:    http2,
	}
}

// Validate runs spec.md §2's control flow for one BP: entry → regproducer
// sanity → home-page probe → chains.json → bp.json fetch → schema checks →
// (if name matches) aloha + nodes + on-chain reconciliation → finding
// summary.
func (e *Engine) Validate(ctx context.Context, in Input) Report {
	start := time.Now()
	rec := findings.NewRecorder()
	dup := findings.NewDuplicateRegistry()
	urls := urlvalidator.New(e.prober, e.resolve, e.tlsProbe, dup, e.cfg)
	out := urlvalidator.NewOutputMap()
	info := map[string]interface{}{
		"rank":       in.Meta.Rank,
		"is_top_21":  in.Meta.IsTop21,
		"is_standby": in.Meta.IsStandby,
	}

	// spec.md §7: a syntactically invalid regproducer URL or an inactive
	// account ends the run with just the preamble findings — no probe, no
	// schema check, nothing else attempted.
	if !in.Regproducer.IsActive {
		rec.Add(findings.Skip, "producer account is not active", findings.ClassRegproducer, nil)
		return e.finish(rec, out, info, nil, start)
	}
	if !wellFormedHTTPURL(in.Regproducer.URL) {
		rec.Add(findings.Skip, "regproducer url is not a well-formed http(s) URL", findings.ClassRegproducer, map[string]interface{}{"url": in.Regproducer.URL})
		return e.finish(rec, out, info, nil, start)
	}

	regChecker := regproducer.New(e.prober)
	regChecker.CheckSigningKey(ctx, rec, in.Chain.KeyAccountsURL, in.Regproducer.ProducerKey)
	regChecker.CheckClaimRewards(rec, in.Regproducer, time.Now())
	locationValidator := bpjson.NewLocationValidator(in.Chain)
	locationValidator.ValidateRegproducerLocation(rec, in.Regproducer.Location)

	homeURL := strings.TrimRight(in.Regproducer.URL, "/")

	homeOutcome := urls.Validate(ctx, rec, homeURL, urlvalidator.Options{
		SSL: urlvalidator.SSLEither, ContentType: urlvalidator.ContentHTML,
		NonStandardPort: true, Class: findings.ClassGeneral, AddToList: "general/home_page",
		ProbeOptions: urls.GeneralProbeOptions(),
	})
	urlvalidator.AddToOutput(out, homeOutcome.Output)

	filename := e.discoverChainsJSON(ctx, rec, urls, out, homeURL, in.Chain)

	bpjsonOutcome := urls.Validate(ctx, rec, homeURL+"/"+filename, urlvalidator.Options{
		SSL: urlvalidator.SSLEither, ContentType: urlvalidator.ContentJSON,
		Class: findings.ClassBPJSON, AddToList: "general/bpjson",
		ProbeOptions: urls.GeneralProbeOptions(),
	})
	urlvalidator.AddToOutput(out, bpjsonOutcome.Output)
	if !bpjsonOutcome.Success {
		return e.finish(rec, out, info, nil, start)
	}

	var doc bpjson.Document
	if err := json.Unmarshal(bpjsonOutcome.Body, &doc); err != nil {
		rec.Add(findings.Crit, "bp.json body does not match the expected schema", findings.ClassBPJSON, map[string]interface{}{"error": err.Error()})
		return e.finish(rec, out, info, bpjsonOutcome.Body, start)
	}

	result := bpjson.New(urls, e.cfg.Social).Check(ctx, rec, out, doc, in.Regproducer.Owner)
	info["name"] = result.Name
	info["country_alpha2"] = strings.ToUpper(doc.Org.Location.Country)
	if tz, ok := timezoneLabel(in.Chain.LocationCheck, in.Regproducer.Location); ok {
		info["timezone"] = tz
	}

	if result.Proceed {
		if in.Chain.AlohaID != "" {
			aloha.New(e.prober).Check(ctx, rec, in.Chain.AlohaID)
		}

		var nodeDoc struct {
			Nodes []nodes.Node `json:"nodes"`
		}
		if err := json.Unmarshal(bpjsonOutcome.Body, &nodeDoc); err == nil && len(nodeDoc.Nodes) > 0 {
			composer := nodes.New(urls, e.prober, e.p2p, e.http2, in.Chain, in.Versions)
			composer.Compose(ctx, rec, out, nodeDoc.Nodes, result.Name)
		}

		onchainChecker := onchain.New(in.Chain)
		onchainChecker.CheckBPJSON(rec, in.OnchainBPJSONData, bpjsonOutcome.Body)
		onchainChecker.CheckBlacklist(rec, in.OnchainBlacklistData)
	}

	return e.finish(rec, out, info, bpjsonOutcome.Body, start)
}

// finish assembles the report from what the run produced: the per-class
// severity summary, a run-metadata preamble finding (spec.md §2 item 12,
// §4.1 "prefix"), and the elapsed wall time.
func (e *Engine) finish(rec *findings.Recorder, out urlvalidator.OutputMap, info map[string]interface{}, bpjsonBody []byte, start time.Time) Report {
	elapsed := time.Since(start)
	rec.Prefix(findings.Info, "validation run completed", findings.ClassGeneral, map[string]interface{}{
		"elapsed_time": elapsed.Seconds(),
	})

	var input json.RawMessage
	if len(bpjsonBody) > 0 {
		input = json.RawMessage(bpjsonBody)
	}

	return Report{
		Input:          input,
		Info:           info,
		Output:         out,
		Messages:       rec.All(),
		MessageSummary: rec.Summarize(),
		GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
		ElapsedTime:    elapsed.Seconds(),
	}
}

// discoverChainsJSON implements spec.md's chains.json discovery step: fetch
// homeURL/chains.json, map the chain profile's chain_id to a filename, and
// fall back to the chain profile's configured default filename (or
// "bp.json") when the document is absent or does not name this chain.
func (e *Engine) discoverChainsJSON(ctx context.Context, rec *findings.Recorder, urls *urlvalidator.Validator, out urlvalidator.OutputMap, homeURL string, chain config.ChainProfile) string {
	fallback := chain.Filename
	if fallback == "" {
		fallback = "bp.json"
	}

	outcome := urls.Validate(ctx, rec, homeURL+"/chains.json", urlvalidator.Options{
		SSL: urlvalidator.SSLEither, ContentType: urlvalidator.ContentJSON,
		Class: findings.ClassChains, AddToList: "general/chains", FailureCode: findings.Info,
		ProbeOptions: urls.GeneralProbeOptions(),
	})
	urlvalidator.AddToOutput(out, outcome.Output)
	if !outcome.Success {
		rec.Add(findings.Info, "chains.json not found, using default filename", findings.ClassChains, map[string]interface{}{"filename": fallback})
		return fallback
	}

	var chainsDoc map[string]string
	if err := json.Unmarshal(outcome.Body, &chainsDoc); err != nil {
		rec.Add(findings.Info, "chains.json is not a valid chain_id->filename map, using default filename", findings.ClassChains, map[string]interface{}{"filename": fallback})
		return fallback
	}

	filename, found := chainsDoc[chain.ChainID]
	if !found || filename == "" {
		rec.Add(findings.Info, "chains.json does not name this chain, using default filename", findings.ClassChains, map[string]interface{}{"filename": fallback})
		return fallback
	}

	rec.Add(findings.OK, "chains.json names this chain's bp.json filename", findings.ClassChains, map[string]interface{}{"filename": filename})
	return filename
}

// wellFormedHTTPURL is the same hard shape check internal/urlvalidator
// applies, used here purely as a pre-gate so the §7 early-return path
// never reaches the probe pipeline at all.
func wellFormedHTTPURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	return err == nil && (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// timezoneLabel implements spec.md §8's timezone testable property: a
// regproducer location encodes a UTC offset (or offset x100); 12 is
// special-cased to UTC-12 rather than UTC+12.
func timezoneLabel(mode, raw string) (string, bool) {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return "", false
	}
	switch mode {
	case "timezone":
		if value < 0 || value > 23 {
			return "", false
		}
		if value < 12 {
			return formatUTCOffset(float64(value)), true
		}
		return formatUTCOffset(-(24 - float64(value))), true
	case "timezone100":
		if value < 0 || value > 2399 {
			return "", false
		}
		offset := float64(value) / 100
		if value >= 1200 {
			offset = -(24 - offset)
		}
		return formatUTCOffset(offset), true
	default:
		return "", false
	}
}

func formatUTCOffset(offset float64) string {
	sign := "+"
	if offset < 0 {
		sign = ""
	}
	return "UTC" + sign + strconv.FormatFloat(offset, 'f', -1, 64)
}
