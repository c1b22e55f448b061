// Package httpprobe implements the HTTP probe (spec.md §4.4): a single
// GET/POST with a per-call timeout, cache-through against the HTTP cache
// table, and a response envelope exposing code, headers, final URL,
// content type, and body. Grounded on the manual redirect-following shape
// of G2CV-CASM/hands/cmd/http_verify/main.go's executeRequest/doOnce.
package httpprobe

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/poplexity/bpvalidate/internal/cache"
	"github.com/poplexity/bpvalidate/internal/findings"
)

// maxBodyBytes caps how much of a response body the probe reads, so a
// misbehaving endpoint cannot exhaust memory mid-run.
const maxBodyBytes = 8 << 20

// Request describes one HTTP call.
type Request struct {
	Method  string
	URL     string
	Body    []byte
	Headers map[string]string
}

// Options configures one call per spec.md §4.4.
type Options struct {
	RequestTimeout        time.Duration
	CacheTimeout          time.Duration
	CacheFastFail         bool
	SuppressTimeoutMessage bool
	// AllowInsecureTLS permits a response even when the server's TLS
	// certificate does not validate; used only for probes whose purpose is
	// to inspect the TLS posture itself rather than assert trust.
	AllowInsecureTLS bool
}

// Response is the envelope spec.md §4.4 specifies. Failures (timeouts,
// connection refused, TLS errors) are represented as a Response with
// Failed=true, never as a returned error — "Failures are represented as a
// non-success response (never an exception)".
type Response struct {
	Code        int
	StatusLine  string
	FinalURL    string
	ContentType string
	Headers     http.Header
	Body        []byte
	Elapsed     time.Duration
	Failed      bool
	FailureMsg  string
}

// cachedResponse is the JSON-serializable projection of Response stored in
// the HTTP cache table (headers/body only — timing is not stored, so a
// cache hit comes back with a zero Elapsed and never triggers the slow
// response finding).
type cachedResponse struct {
	Code        int         `json:"code"`
	StatusLine  string      `json:"status_line"`
	FinalURL    string      `json:"final_url"`
	ContentType string      `json:"content_type"`
	Headers     http.Header `json:"headers"`
	Body        []byte      `json:"body"`
	Failed      bool        `json:"failed"`
	FailureMsg  string      `json:"failure_msg"`
}

// Prober issues HTTP requests with caching and records timeout findings.
type Prober struct {
	client *http.Client
	cache  *cache.Store
}

func New(cacheStore *cache.Store) *Prober {
	return &Prober{
		client: &http.Client{
			// CheckRedirect is left at the default (follow, cap 10) so
			// Response.FinalURL reflects the post-redirect location the
			// URL validator needs for its re-applied ssl policy check.
		},
		cache: cacheStore,
	}
}

// Do performs req per opts, recording an `err` finding on the given
// recorder if the call exceeded its timeout (spec.md §4.4).
func (p *Prober) Do(ctx context.Context, req Request, opts Options, rec *findings.Recorder) Response {
	fingerprint := cache.HTTPFingerprint(req.Method, req.URL, req.Body, req.Headers)

	if opts.CacheTimeout > 0 && p.cache != nil {
		var cached cachedResponse
		if found, err := p.cache.GetHTTP(fingerprint, &cached); err == nil && found {
			return Response{
				Code: cached.Code, StatusLine: cached.StatusLine, FinalURL: cached.FinalURL,
				ContentType: cached.ContentType, Headers: cached.Headers, Body: cached.Body,
				Failed: cached.Failed, FailureMsg: cached.FailureMsg,
			}
		}
	}

	resp := p.do(ctx, req, opts)

	if opts.CacheTimeout > 0 && p.cache != nil && !(resp.Failed && !opts.CacheFastFail) {
		_ = p.cache.PutHTTP(fingerprint, cachedResponse{
			Code: resp.Code, StatusLine: resp.StatusLine, FinalURL: resp.FinalURL,
			ContentType: resp.ContentType, Headers: resp.Headers, Body: resp.Body,
			Failed: resp.Failed, FailureMsg: resp.FailureMsg,
		}, opts.CacheTimeout)
	}

	if rec != nil && opts.RequestTimeout > 0 && resp.Elapsed > opts.RequestTimeout && !opts.SuppressTimeoutMessage {
		rec.Add(findings.Err, "response took longer than expected", findings.ClassGeneral, map[string]interface{}{
			"url": req.URL, "elapsed_ms": resp.Elapsed.Milliseconds(),
		})
	}

	return resp
}

func (p *Prober) do(ctx context.Context, req Request, opts Options) Response {
	start := time.Now()

	client := p.client
	if opts.AllowInsecureTLS {
		transport := &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
		client = &http.Client{Transport: transport, CheckRedirect: p.client.CheckRedirect}
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return Response{Failed: true, FailureMsg: err.Error(), Elapsed: time.Since(start)}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return Response{Failed: true, FailureMsg: err.Error(), Elapsed: elapsed}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return Response{Failed: true, FailureMsg: fmt.Sprintf("reading body: %v", err), Elapsed: elapsed}
	}

	finalURL := req.URL
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		finalURL = httpResp.Request.URL.String()
	}

	return Response{
		Code:        httpResp.StatusCode,
		StatusLine:  httpResp.Status,
		FinalURL:    finalURL,
		ContentType: contentTypeOf(httpResp.Header),
		Headers:     httpResp.Header,
		Body:        body,
		Elapsed:     elapsed,
	}
}

func contentTypeOf(h http.Header) string {
	ct := h.Get("Content-Type")
	for i, c := range ct {
		if c == ';' {
			return ct[:i]
		}
	}
	return ct
}

// Success reports whether the response is a non-failed 2xx.
func (r Response) Success() bool {
	return !r.Failed && r.Code >= 200 && r.Code < 300
}
