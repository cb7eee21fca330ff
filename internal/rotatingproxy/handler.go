package rotatingproxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/proxy"

	"deepagg/internal/domain"
	"deepagg/internal/support"
)

const (
	connectEstablishedResponse = "HTTP/1.1 200 Connection Established\r\nProxy-Agent: deepagg\r\n\r\n"
	upstreamDialTimeout        = 10 * time.Second
)

// Picker hands out the upstream proxy for one client request. ok is false
// when the pool is empty; the request is then served directly.
type Picker interface {
	PickCandidate() (domain.ProxyCandidate, bool)
}

type FailureReporter interface {
	ReportFailure(ctx context.Context, candidate domain.ProxyCandidate, reason string)
}

var (
	dialUpstreamFunc           = dialUpstream
	dialDirectFunc             = dialDirect
	performUpstreamConnectFunc = performUpstreamConnect
	connectThroughUpstreamFunc = connectThroughUpstream
	upstreamTransportFunc      = upstreamTransport
	directTransport            = http.RoundTripper(&http.Transport{
		Proxy:               nil,
		DisableKeepAlives:   true,
		TLSHandshakeTimeout: upstreamDialTimeout,
	})
)

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Proxy-Authorization",
	"Proxy-Authenticate",
	"Keep-Alive",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type proxyHandler struct {
	picker   Picker
	reporter FailureReporter
	timeout  time.Duration
}

func (h *proxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch strings.ToUpper(r.Method) {
	case http.MethodConnect:
		h.handleConnect(w, r)
	default:
		h.handleHTTP(w, r)
	}
}

func (h *proxyHandler) pick() (domain.ProxyCandidate, bool) {
	if h.picker == nil {
		return domain.ProxyCandidate{}, false
	}
	next, ok := h.picker.PickCandidate()
	if ok && !supportedUpstream(next.Protocol) {
		return domain.ProxyCandidate{}, false
	}
	return next, ok
}

func (h *proxyHandler) reportFailure(ctx context.Context, next domain.ProxyCandidate, reason string) {
	if h.reporter == nil || ctx.Err() != nil {
		return
	}
	h.reporter.ReportFailure(ctx, next, reason)
}

func (h *proxyHandler) handleHTTP(w http.ResponseWriter, r *http.Request) {
	targetURL := r.URL
	if !targetURL.IsAbs() {
		if r.Host == "" {
			http.Error(w, "absolute request URI required", http.StatusBadRequest)
			return
		}
		scheme := "http"
		if r.TLS != nil && r.ProtoMajor < 3 {
			scheme = "https"
		}
		targetURL = &url.URL{
			Scheme:   scheme,
			Host:     r.Host,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	newReq, err := http.NewRequestWithContext(ctx, r.Method, targetURL.String(), r.Body)
	if err != nil {
		http.Error(w, "failed to build upstream request", http.StatusBadRequest)
		return
	}
	newReq.ContentLength = r.ContentLength
	newReq.Header = r.Header.Clone()
	for _, header := range hopHeaders {
		newReq.Header.Del(header)
	}

	transport := directTransport
	next, viaPool := h.pick()
	if viaPool {
		transport, err = upstreamTransportFunc(next, h.timeout)
		if err != nil {
			http.Error(w, "upstream protocol not supported", http.StatusBadGateway)
			return
		}
	}

	resp, err := transport.RoundTrip(newReq)
	if err != nil {
		if viaPool {
			h.reportFailure(r.Context(), next, "forward")
		}
		log.Debug("forward proxy: request failed", "target", targetURL.Host, "via", upstreamLabel(next, viaPool), "error", err)
		http.Error(w, "upstream request failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Warn("forward proxy: failed to copy response body", "target", targetURL.Host, "error", err)
	}
}

func (h *proxyHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}

	clientConn, buf, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "failed to hijack connection", http.StatusInternalServerError)
		return
	}

	defer func() {
		if err := clientConn.Close(); err != nil {
			log.Debug("forward proxy: client connection close", "error", err)
		}
	}()

	target := r.Host
	if _, _, err := net.SplitHostPort(target); err != nil {
		target = net.JoinHostPort(target, "443")
	}

	var upConn net.Conn
	next, viaPool := h.pick()
	if viaPool {
		upConn, err = connectThroughUpstreamFunc(target, next)
	} else {
		upConn, err = dialDirectFunc(target)
	}
	if err != nil {
		if viaPool {
			h.reportFailure(r.Context(), next, "connect")
		}
		log.Debug("forward proxy: tunnel failed", "target", target, "via", upstreamLabel(next, viaPool), "error", err)
		writeHijackedResponse(buf, http.StatusBadGateway, "Upstream CONNECT failed")
		return
	}

	if _, err := clientConn.Write([]byte(connectEstablishedResponse)); err != nil {
		_ = upConn.Close()
		return
	}

	pipeConnections(clientConn, upConn)
}

func upstreamLabel(next domain.ProxyCandidate, viaPool bool) string {
	if !viaPool {
		return "direct"
	}
	return next.Key()
}

func writeHijackedResponse(buf *bufio.ReadWriter, status int, message string) {
	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\n\r\n%s",
		status,
		http.StatusText(status),
		len(message),
		message,
	)
	_ = buf.Flush()
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func supportedUpstream(protocol string) bool {
	switch strings.ToLower(protocol) {
	case domain.ProtocolHTTP, domain.ProtocolHTTPS, domain.ProtocolSOCKS4, domain.ProtocolSOCKS5:
		return true
	default:
		return false
	}
}

func upstreamTransport(next domain.ProxyCandidate, timeout time.Duration) (http.RoundTripper, error) {
	return support.CreateTransport(next, timeout)
}

func dialDirect(target string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: upstreamDialTimeout}
	return dialer.Dial("tcp", target)
}

func dialUpstream(next domain.ProxyCandidate) (net.Conn, error) {
	address := next.Address()
	dialer := &net.Dialer{Timeout: upstreamDialTimeout}
	conn, err := dialer.Dial("tcp", address)
	if err != nil {
		return nil, err
	}

	if shouldAttemptTLS(next.Protocol) {
		tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true})
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return dialer.Dial("tcp", address)
		}
		_ = tlsConn.SetDeadline(time.Time{})
		return tlsConn, nil
	}

	return conn, nil
}

func performUpstreamConnect(conn net.Conn, targetHost string) error {
	request := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\nProxy-Connection: Keep-Alive\r\n\r\n", targetHost, targetHost)
	if _, err := conn.Write([]byte(request)); err != nil {
		return err
	}

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, &http.Request{Method: http.MethodConnect})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return nil
}

func pipeConnections(left, right net.Conn) {
	errCh := make(chan error, 2)

	go func() {
		_, err := io.Copy(left, right)
		errCh <- err
	}()

	go func() {
		_, err := io.Copy(right, left)
		errCh <- err
	}()

	<-errCh
	left.Close()
	right.Close()
}

func shouldAttemptTLS(protocol string) bool {
	return strings.EqualFold(protocol, domain.ProtocolHTTPS)
}

// connectThroughUpstream opens a tunnel to target through next using the
// handshake of next's protocol.
func connectThroughUpstream(target string, next domain.ProxyCandidate) (net.Conn, error) {
	switch strings.ToLower(next.Protocol) {
	case domain.ProtocolHTTP, domain.ProtocolHTTPS:
		upConn, err := dialUpstreamFunc(next)
		if err != nil {
			return nil, err
		}
		if err := performUpstreamConnectFunc(upConn, target); err != nil {
			_ = upConn.Close()
			return nil, err
		}
		return upConn, nil
	case domain.ProtocolSOCKS5:
		dialer, err := proxy.SOCKS5("tcp", next.Address(), nil, &net.Dialer{Timeout: upstreamDialTimeout})
		if err != nil {
			return nil, err
		}
		return dialer.Dial("tcp", target)
	case domain.ProtocolSOCKS4:
		return support.DialSOCKS4(context.Background(), next.Address(), target, upstreamDialTimeout)
	default:
		return nil, errors.New("unsupported upstream protocol " + next.Protocol)
	}
}
