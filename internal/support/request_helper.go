package support

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"deepagg/internal/domain"
)

// CreateTransport builds a keep-alive free transport that egresses through the
// given proxy candidate.
func CreateTransport(egress domain.ProxyCandidate, timeout time.Duration) (*http.Transport, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 0,
		}).DialContext,
		DisableKeepAlives:     true,
		MaxIdleConns:          0,
		MaxIdleConnsPerHost:   0,
		IdleConnTimeout:       0,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	switch egress.Protocol {
	case domain.ProtocolHTTP, domain.ProtocolHTTPS:
		transport.Proxy = http.ProxyURL(&url.URL{
			Scheme: "http",
			Host:   egress.Address(),
		})

	case domain.ProtocolSOCKS5:
		socksDialer, err := proxy.SOCKS5("tcp", egress.Address(), nil, &net.Dialer{Timeout: timeout})
		if err != nil {
			return nil, err
		}
		contextDialer, ok := socksDialer.(proxy.ContextDialer)
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if ok {
				return contextDialer.DialContext(ctx, network, addr)
			}
			return socksDialer.Dial(network, addr)
		}

	case domain.ProtocolSOCKS4:
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return DialSOCKS4(ctx, egress.Address(), addr, timeout)
		}

	default:
		return nil, fmt.Errorf("unsupported proxy protocol %q", egress.Protocol)
	}

	return transport, nil
}

// DialSOCKS4 opens a SOCKS4a tunnel to target through the proxy at proxyAddr.
func DialSOCKS4(ctx context.Context, proxyAddr, target string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, err
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		_ = conn.Close()
		return nil, fmt.Errorf("invalid target port %q", portStr)
	}

	ipBytes := net.ParseIP(host).To4()
	var domainName string
	if ipBytes == nil {
		ipBytes = []byte{0x00, 0x00, 0x00, 0x01} // SOCKS4a
		domainName = host
	}

	req := []byte{0x04, 0x01, byte(port >> 8), byte(port)}
	req = append(req, ipBytes...)
	req = append(req, 0x00)
	if domainName != "" {
		req = append(req, []byte(domainName)...)
		req = append(req, 0x00)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	if _, err := conn.Write(req); err != nil {
		_ = conn.Close()
		return nil, err
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if resp[1] != 0x5A {
		_ = conn.Close()
		return nil, fmt.Errorf("socks4 connect failed with code %d", resp[1])
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}
