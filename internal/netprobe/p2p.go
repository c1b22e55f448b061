package netprobe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/poplexity/bpvalidate/internal/findings"
	"github.com/poplexity/bpvalidate/internal/tools"
)

const (
	p2pDialTimeout = 5 * time.Second
	// p2pSettleDelay prevents the speed test from overlapping with the
	// socket teardown (spec.md §4.8: "a fixed 10 s delay between socket
	// check and speed test").
	p2pSettleDelay = 10 * time.Second
	// minBlockSpeed below this many blocks/s demotes the result to warn.
	minBlockSpeed = 2.0
)

// P2PProbe implements spec.md §4.8: a TCP connect check followed by an
// external block-sync speed test.
type P2PProbe struct {
	tester tools.P2PTester
}

func NewP2PProbe(tester tools.P2PTester) *P2PProbe {
	return &P2PProbe{tester: tester}
}

// Check opens a TCP connection to (host, port) with a 5 s timeout; a peer
// that immediately sends data back after connect is treated as dropping
// the connection and reported as err. It then waits the settle delay and
// runs the external speed test tool, classifying the result.
func (p *P2PProbe) Check(ctx context.Context, rec *findings.Recorder, class findings.Class, chainURL, host string, port int) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := net.DialTimeout("tcp", addr, p2pDialTimeout)
	if err != nil {
		rec.Add(findings.Err, "P2P endpoint did not accept a TCP connection", class, map[string]interface{}{
			"host": host, "port": port, "error": err.Error(),
		})
		return
	}

	peeked := peekNonBlocking(conn)
	conn.Close()
	if peeked {
		rec.Add(findings.Err, "P2P endpoint closed the connection immediately after accepting it", class, map[string]interface{}{
			"host": host, "port": port,
		})
		return
	}

	select {
	case <-time.After(p2pSettleDelay):
	case <-ctx.Done():
		return
	}

	result, err := p.tester.Test(ctx, chainURL, host, port)
	if err != nil {
		rec.Add(findings.Err, "P2P block-sync speed test failed to run", class, map[string]interface{}{
			"host": host, "port": port, "error": err.Error(),
		})
		return
	}
	if result.Status != "success" {
		rec.Add(findings.Err, "P2P block-sync speed test reported failure", class, map[string]interface{}{
			"host": host, "port": port, "status": result.Status, "error_detail": result.ErrorDetail,
		})
		return
	}
	if result.Speed < minBlockSpeed {
		rec.Add(findings.Warn, "P2P block-sync speed is below the minimum expected rate", class, map[string]interface{}{
			"host": host, "port": port, "speed": result.Speed,
		})
		return
	}
	rec.Add(findings.OK, "P2P endpoint is reachable and syncs at an acceptable rate", class, map[string]interface{}{
		"host": host, "port": port, "speed": result.Speed,
	})
}

// peekNonBlocking approximates a MSG_PEEK|MSG_DONTWAIT recv with a read
// under a 50 ms deadline: it reports true only when that read returns at
// least one byte, which is interpreted per spec.md §4.8 as "the peer
// closed/dropped". An EOF, an error, or no data within the deadline
// reports false.
func peekNonBlocking(conn net.Conn) bool {
	_ = conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 1)
	n, _ := conn.Read(buf)
	return n > 0
}
