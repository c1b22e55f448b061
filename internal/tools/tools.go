// Package tools models the external command adapters spec.md §4.6/§6/§9
// names as small Go interfaces ("ports"): nmap's TLS cipher scan, whois,
// the P2P block-sync speed tester, and curl's HTTP/2 probe. Each has one
// real implementation backed by os/exec, so the core engine calls a Go
// function and the host binary is a swappable detail, per spec.md §9's
// "external tool coupling" design note. Grounded on the subprocess-adapter
// idiom used throughout G2CV-CASM's hands/cmd tools.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ---------------------------------------------------------------------
// TLS cipher scan (nmap) — spec.md §4.7
// ---------------------------------------------------------------------

// TLSScanner enumerates enabled TLS versions for one (ip, port).
type TLSScanner interface {
	Scan(ctx context.Context, ip string, port int) ([]string, error)
}

// nmapRun is the XML shape of nmap --script ssl-enum-ciphers -oX -; the
// script's top-level tables are keyed by TLS version.
type nmapRun struct {
	XMLName xml.Name `xml:"nmaprun"`
	Hosts   []struct {
		Ports struct {
			Port []struct {
				Script []struct {
					ID     string `xml:"id,attr"`
					Tables []struct {
						Key    string `xml:"key,attr"`
						Tables []struct {
							Key  string `xml:"key,attr"`
							Elem []struct {
								Key   string `xml:"key,attr"`
								Value string `xml:",chardata"`
							} `xml:"elem"`
						} `xml:"table"`
					} `xml:"table"`
				} `xml:"script"`
			} `xml:"port"`
		} `xml:"ports"`
	} `xml:"host"`
}

// NmapTLSScanner shells out to `nmap -oX - --script ssl-enum-ciphers -p
// <port> <ip>` per spec.md §6.
type NmapTLSScanner struct {
	Timeout time.Duration
}

func (s NmapTLSScanner) Scan(ctx context.Context, ip string, port int) ([]string, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "nmap", "-oX", "-", "--script", "ssl-enum-ciphers",
		"-p", fmt.Sprintf("%d", port), ip)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("nmap scan %s:%d: %w", ip, port, err)
	}

	var run nmapRun
	if err := xml.Unmarshal(stdout.Bytes(), &run); err != nil {
		return nil, fmt.Errorf("nmap scan %s:%d: parse xml: %w", ip, port, err)
	}

	versions := map[string]bool{}
	for _, h := range run.Hosts {
		for _, p := range h.Ports.Port {
			for _, sc := range p.Script {
				if sc.ID != "ssl-enum-ciphers" {
					continue
				}
				for _, t := range sc.Tables {
					versions[t.Key] = true
				}
			}
		}
	}

	var out []string
	for v := range versions {
		out = append(out, v)
	}
	return out, nil
}

// ---------------------------------------------------------------------
// WHOIS — spec.md §4.5
// ---------------------------------------------------------------------

type WHOISRecord struct {
	Organization string
	Country      string
}

type WHOISRunner interface {
	Lookup(ip string) (WHOISRecord, error)
}

// ExecWHOISRunner shells out to `whois <ip>` and parses out the org/country
// fields free-form WHOIS text conventionally carries.
type ExecWHOISRunner struct {
	Timeout time.Duration
}

func (w ExecWHOISRunner) Lookup(ip string) (WHOISRecord, error) {
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "whois", ip)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return WHOISRecord{}, fmt.Errorf("whois %s: %w", ip, err)
	}

	return parseWHOIS(stdout.String()), nil
}

func parseWHOIS(text string) WHOISRecord {
	var rec WHOISRecord
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case rec.Organization == "" && (strings.HasPrefix(lower, "orgname:") || strings.HasPrefix(lower, "org-name:") || strings.HasPrefix(lower, "organization:")):
			rec.Organization = valueAfterColon(line)
		case rec.Country == "" && strings.HasPrefix(lower, "country:"):
			rec.Country = valueAfterColon(line)
		}
	}
	return rec
}

func valueAfterColon(line string) string {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(line[idx+1:])
}

// ---------------------------------------------------------------------
// P2P block-sync speed test (p2ptest) — spec.md §4.8
// ---------------------------------------------------------------------

type P2PTestResult struct {
	Status      string  `json:"status"`
	Speed       float64 `json:"speed"`
	ErrorDetail string  `json:"error_detail"`
}

type P2PTester interface {
	Test(ctx context.Context, chainURL, host string, port int) (P2PTestResult, error)
}

// ExecP2PTester shells out to `p2ptest -a <chain_url> -h <host> -p <port>
// -b 10` per spec.md §6.
type ExecP2PTester struct {
	Timeout time.Duration
}

func (t ExecP2PTester) Test(ctx context.Context, chainURL, host string, port int) (P2PTestResult, error) {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "p2ptest", "-a", chainURL, "-h", host, "-p", fmt.Sprintf("%d", port), "-b", "10")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return P2PTestResult{}, fmt.Errorf("p2ptest %s:%d: %w", host, port, err)
	}

	var result P2PTestResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return P2PTestResult{}, fmt.Errorf("p2ptest %s:%d: parse json: %w", host, port, err)
	}
	return result, nil
}

// ---------------------------------------------------------------------
// HTTP/2 detection (curl) — spec.md §4.12
// ---------------------------------------------------------------------

type HTTP2Detector interface {
	Supports(ctx context.Context, url string) bool
}

// CurlHTTP2Detector shells out to `curl --http2 --max-time 3 --verbose`
// and inspects stderr for the negotiated protocol, per spec.md §6.
type CurlHTTP2Detector struct{}

func (CurlHTTP2Detector) Supports(ctx context.Context, url string) bool {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "curl", "--http2", "--max-time", "3", "--verbose", "-o", "/dev/null", "-s", url)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return false
	}
	return strings.Contains(stderr.String(), "HTTP/2")
}
