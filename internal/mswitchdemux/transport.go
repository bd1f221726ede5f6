package mswitchdemux

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// openTransport opens a source URL for reading. Supported schemes are
// file:// and a bare filesystem path, http:// and https://, and udp:// for
// raw MPEG-TS over UDP multicast/unicast. The dial itself must complete
// within ctx's deadline; once open, reads are unbounded, since a live
// source is expected to stream indefinitely.
func openTransport(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return os.Open(rawURL)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return os.Open(u.Path)
	case "http", "https":
		return openHTTP(ctx, rawURL)
	case "udp":
		return openUDP(ctx, u.Host)
	default:
		return nil, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
}

func openHTTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	// The request does not inherit ctx's cancellation: cancelling a request
	// context also aborts reads of its response body.
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	// No overall request timeout: a live transport stream is expected to
	// keep the response body open indefinitely. Only the dial and TLS
	// handshake are bounded, by ctx's deadline.
	dialer := &net.Dialer{}
	transport := &http.Transport{DialContext: dialer.DialContext}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
		transport.TLSHandshakeTimeout = time.Until(deadline)
	}
	client := &http.Client{Transport: transport}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("source returned status %s", resp.Status)
	}
	return resp.Body, nil
}

// udpConn adapts a *net.UDPConn's deadline-bound reads into a plain
// io.ReadCloser, clearing any dial-time deadline once opened.
type udpConn struct {
	*net.UDPConn
}

func (c *udpConn) Read(p []byte) (int, error) {
	return c.UDPConn.Read(p)
}

func openUDP(ctx context.Context, hostport string) (io.ReadCloser, error) {
	addr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return nil, err
	}

	var conn *net.UDPConn
	if addr.IP != nil && addr.IP.IsMulticast() {
		conn, err = net.ListenMulticastUDP("udp", nil, addr)
	} else {
		conn, err = net.ListenUDP("udp", addr)
	}
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		defer conn.SetReadDeadline(time.Time{})
	}

	return &udpConn{UDPConn: conn}, nil
}
