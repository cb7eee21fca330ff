package rotatingproxy

import (
	"net"
	"slices"
	"testing"
	"time"
)

func TestForwardTLSConfig_CoversListenHost(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	cfg, err := forwardTLSConfig("Proxy.Internal.Example", now)
	if err != nil {
		t.Fatalf("forwardTLSConfig: %v", err)
	}
	leaf := cfg.Certificates[0].Leaf
	if leaf.Subject.CommonName != "proxy.internal.example" {
		t.Fatalf("CN = %q, want proxy.internal.example", leaf.Subject.CommonName)
	}
	if !slices.Equal(leaf.DNSNames, []string{"proxy.internal.example", "localhost"}) {
		t.Fatalf("DNSNames = %v", leaf.DNSNames)
	}
	if err := leaf.VerifyHostname("proxy.internal.example"); err != nil {
		t.Fatalf("VerifyHostname: %v", err)
	}
	if !leaf.NotBefore.Equal(now.Add(-time.Hour)) || !leaf.NotAfter.Equal(now.Add(forwardCertLifetime)) {
		t.Fatalf("validity = %s..%s", leaf.NotBefore, leaf.NotAfter)
	}
}

func TestForwardTLSConfig_IPHost(t *testing.T) {
	cfg, err := forwardTLSConfig("192.0.2.44", time.Now())
	if err != nil {
		t.Fatalf("forwardTLSConfig: %v", err)
	}
	leaf := cfg.Certificates[0].Leaf
	if leaf.Subject.CommonName != "192.0.2.44" {
		t.Fatalf("CN = %q, want the listen IP", leaf.Subject.CommonName)
	}
	if err := leaf.VerifyHostname("192.0.2.44"); err != nil {
		t.Fatalf("VerifyHostname(ip): %v", err)
	}
	if err := leaf.VerifyHostname("127.0.0.1"); err != nil {
		t.Fatalf("VerifyHostname(loopback): %v", err)
	}
}

func TestCertificateNames_WildcardBindAddsNothing(t *testing.T) {
	for _, host := range []string{"", "0.0.0.0", "[::]", "localhost", "127.0.0.1"} {
		dnsNames, ips := certificateNames(host)
		if !slices.Equal(dnsNames, []string{"localhost"}) || len(ips) != 2 {
			t.Fatalf("certificateNames(%q) = %v %v, want loopback only", host, dnsNames, ips)
		}
		if !ips[0].Equal(net.IPv4(127, 0, 0, 1)) || !ips[1].Equal(net.IPv6loopback) {
			t.Fatalf("certificateNames(%q) ips = %v", host, ips)
		}
	}
}
