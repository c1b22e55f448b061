// Package urlvalidator implements the URL validator (spec.md §4.6), the
// workhorse of the engine: syntactic checks, port/DNS validation, HTTPS
// policy, content-type whitelist, CORS policy, TLS-version policy, body
// parsing, and the extra-check hook. Grounded on the canonicalization,
// redirect-following, and header-inspection shape of
// G2CV-CASM/hands/cmd/http_verify/main.go, generalized to the exact option
// table spec.md §4.6 specifies.
package urlvalidator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/poplexity/bpvalidate/internal/config"
	"github.com/poplexity/bpvalidate/internal/findings"
	"github.com/poplexity/bpvalidate/internal/httpprobe"
	"github.com/poplexity/bpvalidate/internal/netprobe"
	"github.com/poplexity/bpvalidate/internal/resolver"
)

// SSLMode is the `ssl` option (spec.md §4.6).
type SSLMode string

const (
	SSLEither SSLMode = "either"
	SSLOn     SSLMode = "on"
	SSLOff    SSLMode = "off"
)

// CORSMode is the `cors_origin`/`cors_headers` option.
type CORSMode string

const (
	CORSEither CORSMode = "either"
	CORSOn     CORSMode = "on"
	CORSOff    CORSMode = "off"
	CORSShould CORSMode = "should"
)

// ContentTypeLabel is the `content_type` option.
type ContentTypeLabel string

const (
	ContentJSON   ContentTypeLabel = "json"
	ContentImage  ContentTypeLabel = "png_jpg"
	ContentSVG    ContentTypeLabel = "svg"
	ContentHTML   ContentTypeLabel = "html"
)

// ExtraCheck is invoked with the recorder (so it can add its own
// specifically-severed findings, e.g. a crit chain-id mismatch), the
// parsed body, and the response envelope. Its returned map is merged into
// the finding stream as an info-kind summary; a falsy (ok=false) return
// fails the overall URL probe (spec.md §4.6).
type ExtraCheck func(rec *findings.Recorder, class findings.Class, body []byte, resp httpprobe.Response) (info map[string]interface{}, ok bool)

// Options is the exact §4.6 option table as a configuration record, per
// spec.md §9's "replace with per-probe configuration records" note.
type Options struct {
	SSL               SSLMode
	CORSOrigin        CORSMode
	CORSHeaders       CORSMode
	ContentType       ContentTypeLabel // empty = no content-type check
	NonStandardPort   bool
	ModernTLSVersion  bool
	Dupe              findings.Kind // kind emitted for a duplicate (class,url)
	FailureCode       findings.Kind // kind used when the HTTP probe fails; default crit
	AddToList         string        // "section/list"; empty = do not add to output
	ExtraCheck        ExtraCheck
	URLExt            string // appended to the URL for the actual request
	Method            string // defaults to GET
	Body              []byte
	ProbeOptions      httpprobe.Options
	Class             findings.Class
	ChainURL          string // carried for callers; Validate does not read it
}

// OutputEntry is spec.md §3's "Output resource entry".
type OutputEntry struct {
	Address     string
	Hosts       []resolver.Address
	NodeType    string
	Location    map[string]interface{}
	Info        map[string]interface{}
	Response    *httpprobe.Response
	SectionList string // "section/list"
}

// Outcome is the overall URL-probe result.
type Outcome struct {
	Success bool
	Output  *OutputEntry
	Body    []byte
	Resp    httpprobe.Response
	Info    map[string]interface{}
}

// OutputMap is the report's denormalized "output" document: section ->
// list -> resource records (spec.md §3 "Output resource entry").
type OutputMap map[string]map[string][]OutputEntry

func NewOutputMap() OutputMap {
	return make(OutputMap)
}

// AddToOutput files entry under its "section/list" key, doing nothing for
// a nil entry (e.g. one suppressed by a CORS `should` failure or dropped
// by the duplicate registry).
func AddToOutput(out OutputMap, entry *OutputEntry) {
	if entry == nil || entry.SectionList == "" {
		return
	}
	section, list := splitSectionList(entry.SectionList)
	if out[section] == nil {
		out[section] = make(map[string][]OutputEntry)
	}
	out[section][list] = append(out[section][list], *entry)
}

func splitSectionList(sectionList string) (string, string) {
	for i := 0; i < len(sectionList); i++ {
		if sectionList[i] == '/' {
			return sectionList[:i], sectionList[i+1:]
		}
	}
	return "general", sectionList
}

// Validator performs one URL probe at a time, composing the DNS resolver,
// TLS probe, and HTTP probe.
type Validator struct {
	prober    *httpprobe.Prober
	resolve   *resolver.Resolver
	tlsProbe  *netprobe.TLSProbe
	dup       *findings.DuplicateRegistry
	cfg       *config.Config
}

func New(prober *httpprobe.Prober, resolve *resolver.Resolver, tlsProbe *netprobe.TLSProbe, dup *findings.DuplicateRegistry, cfg *config.Config) *Validator {
	return &Validator{prober: prober, resolve: resolve, tlsProbe: tlsProbe, dup: dup, cfg: cfg}
}

// GeneralProbeOptions is the httpprobe.Options for the general-purpose
// probes (home page, chains.json, bp.json): the configured request
// timeout and the 300s-default HTTP cache, mirroring the constants
// internal/nodes/subtests.go uses for the direct-httpprobe path.
func (v *Validator) GeneralProbeOptions() httpprobe.Options {
	if v.cfg == nil {
		return httpprobe.Options{}
	}
	return httpprobe.Options{
		RequestTimeout: v.cfg.Advanced.RequestTimeoutDuration(),
		CacheTimeout:   v.cfg.Cache.HTTPTTLDuration(),
	}
}

// OrgProbeOptions is the httpprobe.Options for org.* field probes
// (candidate_name/website/code_of_conduct/ownership_disclosure,
// branding images, social links): the configured request timeout paired
// with the long-lived 7-day org cache (spec.md §4.9).
func (v *Validator) OrgProbeOptions() httpprobe.Options {
	if v.cfg == nil {
		return httpprobe.Options{}
	}
	return httpprobe.Options{
		RequestTimeout: v.cfg.Advanced.RequestTimeoutDuration(),
		CacheTimeout:   v.cfg.Cache.OrgHTTPTTLDuration(),
	}
}

var badPathDoubleSlash = "//"

// Validate runs the full §4.6 pipeline for one URL.
func (v *Validator) Validate(ctx context.Context, rec *findings.Recorder, rawURL string, opts Options) Outcome {
	class := opts.Class
	if class == "" {
		class = findings.ClassGeneral
	}

	// Duplicate registry (spec.md §4.2, §4.6 `dupe`).
	if !v.dup.Check(class, rawURL) {
		dupeKind := opts.Dupe
		if dupeKind == "" {
			dupeKind = findings.Info
		}
		rec.Add(dupeKind, "duplicate URL within class, not re-probed", class, map[string]interface{}{"url": rawURL})
		return Outcome{}
	}

	// Leading bad-URL blacklist (spec.md §4.6).
	if reason, blacklisted := config.BadURLBlacklist[strings.TrimRight(rawURL, "/")]; blacklisted {
		rec.Add(findings.Crit, reason, class, map[string]interface{}{"url": rawURL})
		return Outcome{}
	}

	// Hard shape check: https?://<hostlike>.
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		rec.Add(findings.Crit, "URL is not a well-formed http(s) URL", class, map[string]interface{}{"url": rawURL})
		return Outcome{}
	}

	hostname := parsed.Hostname()
	if hostname == "localhost" || strings.HasPrefix(hostname, "127.") {
		rec.Add(findings.Crit, "URL points at localhost/loopback", class, map[string]interface{}{"url": rawURL})
		return Outcome{}
	}

	// "//" inside path -> warn, collapsed.
	if strings.Contains(parsed.Path, badPathDoubleSlash) {
		rec.Add(findings.Warn, "URL path contains a doubled slash", class, map[string]interface{}{"url": rawURL})
		parsed.Path = collapseSlashes(parsed.Path)
	}
	// trailing "/" -> warn, stripped.
	if strings.HasSuffix(parsed.Path, "/") && parsed.Path != "/" {
		rec.Add(findings.Warn, "URL has a trailing slash", class, map[string]interface{}{"url": rawURL})
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}

	// ssl policy, pre-redirect.
	if !checkSSL(rec, class, opts.SSL, parsed.Scheme, rawURL) && opts.SSL == SSLOn {
		return Outcome{}
	}
	if opts.SSL == SSLOff && parsed.Scheme != "http" {
		rec.Add(findings.Crit, "URL must use http:// for this endpoint", class, map[string]interface{}{"url": rawURL})
		return Outcome{}
	}

	// non_standard_port.
	if opts.NonStandardPort {
		port := portOf(parsed)
		defaultPort := 80
		if parsed.Scheme == "https" {
			defaultPort = 443
		}
		if port != defaultPort {
			rec.Add(findings.Info, "endpoint runs on a non-standard port", class, map[string]interface{}{"url": rawURL, "port": port})
		}
	}

	// DNS/IP resolution.
	result, err := v.resolve.Resolve(hostname)
	if err != nil {
		rec.Add(findings.Crit, "DNS resolution failed", class, map[string]interface{}{"url": rawURL, "error": err.Error()})
		return Outcome{}
	}
	if result.LiteralIP {
		rec.Add(findings.Warn, "URL host is a literal IP address", class, map[string]interface{}{"url": rawURL})
	}
	for _, dropped := range result.PrivateDrop {
		rec.Add(findings.Crit, "resolved address is private or loopback", class, map[string]interface{}{"url": rawURL, "ip": dropped})
	}
	if result.Empty {
		rec.Add(findings.Crit, "host did not resolve to any usable address", class, map[string]interface{}{"url": rawURL})
		return Outcome{}
	}

	// modern_tls_version: TLS cipher scan against each resolved IP.
	if opts.ModernTLSVersion {
		port := portOf(parsed)
		for _, addr := range result.Addresses {
			v.tlsProbe.Check(ctx, rec, class, rawURL, addr.IPAddress, port)
		}
	}

	// HTTP probe.
	reqURL := parsed.String() + opts.URLExt
	method := opts.Method
	if method == "" {
		method = "GET"
	}
	resp := v.prober.Do(ctx, httpprobe.Request{Method: method, URL: reqURL, Body: opts.Body}, opts.ProbeOptions, rec)
	if !resp.Success() {
		failureKind := opts.FailureCode
		if failureKind == "" {
			failureKind = findings.Crit
		}
		rec.Add(failureKind, "HTTP probe failed", class, map[string]interface{}{"url": reqURL, "code": resp.Code, "error": resp.FailureMsg})
		return Outcome{}
	}

	// ssl policy re-applied to the final URL after redirect.
	finalScheme := schemeOf(resp.FinalURL)
	checkSSL(rec, class, opts.SSL, finalScheme, resp.FinalURL)

	// content_type whitelist.
	if opts.ContentType != "" {
		allowed := config.ContentTypeWhitelist[string(opts.ContentType)]
		if !containsFold(allowed, resp.ContentType) {
			rec.Add(findings.Err, "response content-type is not in the allowed list", class, map[string]interface{}{
				"url": reqURL, "content_type": resp.ContentType, "allowed": allowed,
			})
			return Outcome{}
		}
	}

	dropFromList := false

	// cors_origin / cors_headers.
	if !checkCORSOrigin(rec, class, opts.CORSOrigin, resp, reqURL) {
		dropFromList = true
	}
	if !checkCORSHeaders(rec, class, opts.CORSHeaders, resp, reqURL) {
		dropFromList = true
	}

	body := resp.Body
	info := map[string]interface{}{}

	// Optional body parse.
	if opts.ContentType == ContentJSON {
		if bytes.HasPrefix(body, []byte{0xEF, 0xBB, 0xBF}) {
			rec.Add(findings.Err, "JSON body begins with a byte-order mark", class, map[string]interface{}{"url": reqURL})
			body = stripBOM(body)
		}
		var anything interface{}
		if err := json.Unmarshal(body, &anything); err != nil {
			rec.Add(findings.Crit, "response body is not valid JSON", class, map[string]interface{}{"url": reqURL, "error": err.Error()})
			return Outcome{}
		}
	}

	// extra_check hook.
	if opts.ExtraCheck != nil {
		extraInfo, ok := opts.ExtraCheck(rec, class, body, resp)
		if extraInfo != nil {
			rec.Add(findings.Info, "extra check result", class, extraInfo)
			for k, val := range extraInfo {
				info[k] = val
			}
		}
		if !ok {
			return Outcome{Success: false, Body: body, Resp: resp, Info: info}
		}
	}

	out := (*OutputEntry)(nil)
	if opts.AddToList != "" && !dropFromList {
		out = &OutputEntry{
			Address:     stripDefaultPort(rawURL),
			Hosts:       result.Addresses,
			Response:    &resp,
			Info:        info,
			SectionList: opts.AddToList,
		}
	}

	return Outcome{Success: true, Output: out, Body: body, Resp: resp, Info: info}
}

func checkSSL(rec *findings.Recorder, class findings.Class, mode SSLMode, scheme string, rawURL string) bool {
	switch mode {
	case SSLOn:
		if scheme != "https" {
			rec.Add(findings.Crit, "URL must use https://", class, map[string]interface{}{"url": rawURL})
			return false
		}
	case SSLEither, "":
		if scheme != "https" {
			rec.Add(findings.Warn, "URL is not served over https", class, map[string]interface{}{"url": rawURL})
		}
	}
	return true
}

func checkCORSOrigin(rec *findings.Recorder, class findings.Class, mode CORSMode, resp httpprobe.Response, rawURL string) bool {
	return checkCORS(rec, class, mode, resp.Headers.Get("Access-Control-Allow-Origin"), "Access-Control-Allow-Origin", rawURL, isStar)
}

func checkCORSHeaders(rec *findings.Recorder, class findings.Class, mode CORSMode, resp httpprobe.Response, rawURL string) bool {
	return checkCORS(rec, class, mode, resp.Headers.Get("Access-Control-Allow-Headers"), "Access-Control-Allow-Headers", rawURL, isAcceptableHeaderList)
}

func checkCORS(rec *findings.Recorder, class findings.Class, mode CORSMode, value string, headerName string, rawURL string, acceptable func(string) bool) bool {
	switch mode {
	case CORSOff:
		if value != "" {
			rec.Add(findings.Err, headerName+" should be absent", class, map[string]interface{}{"url": rawURL, "value": value})
			return false
		}
	case CORSOn:
		if !acceptable(value) {
			rec.Add(findings.Crit, headerName+" is missing or incorrect", class, map[string]interface{}{"url": rawURL, "value": value})
			return false
		}
	case CORSShould:
		if !acceptable(value) {
			rec.Add(findings.Err, headerName+" should be present and correct", class, map[string]interface{}{"url": rawURL, "value": value})
			return false
		}
	}
	return true
}

func isStar(v string) bool { return v == "*" }

func isAcceptableHeaderList(v string) bool {
	if v == "*" {
		return true
	}
	need := map[string]bool{"content-type": true, "origin": true, "accept": true}
	for _, part := range strings.Split(v, ",") {
		delete(need, strings.ToLower(strings.TrimSpace(part)))
	}
	return len(need) == 0
}

func portOf(u *url.URL) int {
	if p := u.Port(); p != "" {
		var port int
		fmt.Sscanf(p, "%d", &port)
		return port
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}

func schemeOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme
}

func stripDefaultPort(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	port := u.Port()
	if (u.Scheme == "https" && port == "443") || (u.Scheme == "http" && port == "80") {
		u.Host = u.Hostname()
	}
	return u.String()
}

func collapseSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

func stripBOM(b []byte) []byte {
	return bytes.TrimPrefix(b, []byte{0xEF, 0xBB, 0xBF})
}

func containsFold(list []string, want string) bool {
	for _, v := range list {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
