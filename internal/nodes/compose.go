// Package nodes implements the node-endpoint composer (spec.md §4.11) and
// the per-endpoint API sub-test catalog (spec.md §4.12). Grounded on
// leccaventures-pwt/internal/rpc/manager.go's per-endpoint health-check
// shape (Node, checkNode), retargeted from ethclient.BlockNumber calls to
// nodeos HTTP calls and run strictly sequentially per one validation
// (spec.md §5: "internally sequential").
package nodes

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/poplexity/bpvalidate/internal/bpjson"
	"github.com/poplexity/bpvalidate/internal/config"
	"github.com/poplexity/bpvalidate/internal/findings"
	"github.com/poplexity/bpvalidate/internal/httpprobe"
	"github.com/poplexity/bpvalidate/internal/netprobe"
	"github.com/poplexity/bpvalidate/internal/tools"
	"github.com/poplexity/bpvalidate/internal/urlvalidator"
)

// Node is one entry of bp.json's nodes[] array (spec.md §3, §4.11).
type Node struct {
	APIEndpoint string         `json:"api_endpoint"`
	SSLEndpoint string         `json:"ssl_endpoint"`
	P2PEndpoint string         `json:"p2p_endpoint"`
	NodeType    string         `json:"node_type"`
	IsProducer  bool           `json:"is_producer"` // legacy, superseded by node_type
	Location    bpjson.Location `json:"location"`
}

// classified node types, after legacy normalization.
const (
	typeProducer = "producer"
	typeFull     = "full"
	typeSeed     = "seed"
)

// Composer runs §4.11/§4.12 over one BP's nodes[] array.
type Composer struct {
	urls     *urlvalidator.Validator
	prober   *httpprobe.Prober
	p2p      *netprobe.P2PProbe
	http2    tools.HTTP2Detector
	location *bpjson.LocationValidator
	chain    config.ChainProfile
	catalog  config.VersionCatalog
}

func New(urls *urlvalidator.Validator, prober *httpprobe.Prober, p2p *netprobe.P2PProbe, http2 tools.HTTP2Detector, chain config.ChainProfile, catalog config.VersionCatalog) *Composer {
	return &Composer{
		urls:     urls,
		prober:   prober,
		p2p:      p2p,
		http2:    http2,
		location: bpjson.NewLocationValidator(chain),
		chain:    chain,
		catalog:  catalog,
	}
}

type aggregate struct {
	sawProducer, sawFull, sawSeed   bool
	sawHTTPAPI, sawHTTPSAPI, sawP2P bool
	warnedSeedNoP2P, warnedFullNoAPI bool
}

// Compose runs §4.11 over every node, then emits the §4.11 step-6
// aggregate findings. Passing output files every successful endpoint
// probe's resource entry under the report's output document.
func (c *Composer) Compose(ctx context.Context, rec *findings.Recorder, out urlvalidator.OutputMap, nodeList []Node, producerName string) {
	var agg aggregate

	for _, n := range nodeList {
		c.composeOne(ctx, rec, out, n, producerName, &agg)
	}

	if !agg.sawProducer || !agg.sawFull || !agg.sawSeed {
		rec.Add(findings.Err, "nodes[] is missing one of the producer/full/seed roles", findings.ClassAPIEndpoint, map[string]interface{}{
			"producer": agg.sawProducer, "full": agg.sawFull, "seed": agg.sawSeed,
		})
	}

	switch {
	case !agg.sawHTTPAPI:
		rec.Add(findings.Crit, "no HTTP or HTTPS API endpoint found across all nodes", findings.ClassAPIEndpoint, nil)
	case !agg.sawHTTPSAPI:
		rec.Add(findings.Warn, "no HTTPS API endpoint found across all nodes (HTTP only)", findings.ClassAPIEndpoint, nil)
	}

	if !agg.sawP2P {
		rec.Add(findings.Crit, "no P2P endpoint found across all nodes", findings.ClassP2PEndpoint, nil)
	}
}

func (c *Composer) composeOne(ctx context.Context, rec *findings.Recorder, out urlvalidator.OutputMap, n Node, producerName string, agg *aggregate) {
	if n.Location.Country != "" || n.Location.Name != "" || n.Location.Latitude != 0 || n.Location.Longitude != 0 {
		c.location.Validate(rec, n.Location, producerName)
	}

	nodeType := c.classify(rec, n)

	switch nodeType {
	case typeProducer:
		agg.sawProducer = true
		if n.APIEndpoint != "" || n.SSLEndpoint != "" || n.P2PEndpoint != "" {
			rec.Add(findings.Warn, "producer node exposes a network endpoint", findings.ClassAPIEndpoint, map[string]interface{}{
				"api_endpoint": n.APIEndpoint, "ssl_endpoint": n.SSLEndpoint, "p2p_endpoint": n.P2PEndpoint,
			})
		}
	case typeSeed:
		agg.sawSeed = true
		if n.APIEndpoint != "" || n.SSLEndpoint != "" {
			rec.Add(findings.Warn, "seed node exposes an API endpoint", findings.ClassAPIEndpoint, map[string]interface{}{
				"api_endpoint": n.APIEndpoint, "ssl_endpoint": n.SSLEndpoint,
			})
		}
		if n.P2PEndpoint == "" && !agg.warnedSeedNoP2P {
			rec.Add(findings.Warn, "seed node has no P2P endpoint", findings.ClassP2PEndpoint, nil)
			agg.warnedSeedNoP2P = true
		}
	case typeFull:
		agg.sawFull = true
		if n.P2PEndpoint != "" {
			rec.Add(findings.Warn, "full node exposes a P2P endpoint", findings.ClassP2PEndpoint, map[string]interface{}{"p2p_endpoint": n.P2PEndpoint})
		}
		if n.APIEndpoint == "" && n.SSLEndpoint == "" && !agg.warnedFullNoAPI {
			rec.Add(findings.Warn, "full node has no API endpoint", findings.ClassAPIEndpoint, nil)
			agg.warnedFullNoAPI = true
		}
	}

	if n.APIEndpoint != "" {
		if c.checkAPIEndpoint(ctx, rec, out, n.APIEndpoint, false) {
			agg.sawHTTPAPI = true
		}
	}
	if n.SSLEndpoint != "" {
		if c.checkAPIEndpoint(ctx, rec, out, n.SSLEndpoint, true) {
			agg.sawHTTPAPI = true
			agg.sawHTTPSAPI = true
		}
	}
	if n.P2PEndpoint != "" {
		if host, port, ok := splitHostPort(n.P2PEndpoint); ok {
			c.p2p.Check(ctx, rec, findings.ClassP2PEndpoint, n.APIEndpoint, host, port)
			agg.sawP2P = true
		} else {
			rec.Add(findings.Err, "p2p_endpoint is not a valid host:port", findings.ClassP2PEndpoint, map[string]interface{}{"p2p_endpoint": n.P2PEndpoint})
		}
	}
}

// classify normalizes node_type, handling the §4.11 legacy shim:
// is_producer=true with no node_type becomes "producer" with a
// deprecation warn; node_type="query" becomes "full" with an err.
func (c *Composer) classify(rec *findings.Recorder, n Node) string {
	switch n.NodeType {
	case typeProducer, typeFull, typeSeed:
		return n.NodeType
	case "query":
		rec.Add(findings.Err, "node_type \"query\" is deprecated, treating as full", findings.ClassAPIEndpoint, nil)
		return typeFull
	case "":
		if n.IsProducer {
			rec.Add(findings.Warn, "is_producer is deprecated, use node_type", findings.ClassAPIEndpoint, nil)
			return typeProducer
		}
		rec.Add(findings.Err, "node is missing node_type", findings.ClassAPIEndpoint, nil)
		return ""
	default:
		rec.Add(findings.Err, "node_type is not a recognized value", findings.ClassAPIEndpoint, map[string]interface{}{"node_type": n.NodeType})
		return ""
	}
}

// checkAPIEndpoint runs the §4.11 basic API test (get_info, ssl policy per
// endpoint kind) and, on success, the §4.12 catalog and gated sub-suites.
// Reports whether the endpoint passed its basic test.
func (c *Composer) checkAPIEndpoint(ctx context.Context, rec *findings.Recorder, out urlvalidator.OutputMap, rawURL string, ssl bool) bool {
	sslMode := urlvalidator.SSLOff
	addToList := "nodes/api_http"
	if ssl {
		sslMode = urlvalidator.SSLOn
		addToList = "nodes/api_https"
	}

	gi := &getInfoResult{}
	outcome := c.urls.Validate(ctx, rec, rawURL, urlvalidator.Options{
		SSL:              sslMode,
		ModernTLSVersion: ssl,
		NonStandardPort:  true,
		ContentType:      urlvalidator.ContentJSON,
		Method:           "POST",
		Body:             []byte("{}"),
		URLExt:           "/v1/chain/get_info",
		AddToList:        addToList,
		Class:            findings.ClassAPIEndpoint,
		ExtraCheck:       c.getInfoCheck(gi),
	})
	if !outcome.Success {
		return false
	}

	if ssl {
		if c.http2.Supports(ctx, rawURL) {
			outcome.Output = rewriteAddToList(outcome.Output, addToList, addToList+"2")
		} else {
			rec.Add(findings.Warn, "endpoint does not support HTTP/2", findings.ClassAPIEndpoint, map[string]interface{}{"url": rawURL})
		}
	}
	urlvalidator.AddToOutput(out, outcome.Output)

	c.runCatalog(ctx, rec, rawURL)
	if c.chain.ClassHistory {
		c.runHistorySuite(ctx, rec, rawURL)
	}
	if c.chain.ClassHyperion {
		c.runHyperionSuite(ctx, rec, rawURL)
	}
	if c.chain.ClassWallet {
		c.runWalletSuite(ctx, rec, rawURL)
	}
	return true
}

func rewriteAddToList(out *urlvalidator.OutputEntry, from, to string) *urlvalidator.OutputEntry {
	if out != nil && out.SectionList == from {
		out.SectionList = to
	}
	return out
}

var errNoPort = errors.New("nodes: endpoint has no port")

func splitHostPort(endpoint string) (string, int, bool) {
	host, portStr, err := splitEndpoint(endpoint)
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false
	}
	return host, port, true
}

func splitEndpoint(endpoint string) (host, port string, err error) {
	if strings.Contains(endpoint, "://") {
		u, parseErr := url.Parse(endpoint)
		if parseErr != nil {
			return "", "", parseErr
		}
		return u.Hostname(), u.Port(), nil
	}
	idx := strings.LastIndex(endpoint, ":")
	if idx < 0 {
		return "", "", errNoPort
	}
	return endpoint[:idx], endpoint[idx+1:], nil
}
