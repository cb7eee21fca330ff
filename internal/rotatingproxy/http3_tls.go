package rotatingproxy

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"
)

const forwardCertLifetime = 365 * 24 * time.Hour

// forwardTLSConfig issues a self-signed certificate for the HTTP/3 listener.
// The listen host becomes the subject and is added to the SANs next to the
// loopback names, so clients dialing the configured host can pin it.
func forwardTLSConfig(host string, now time.Time) (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("forward proxy: generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("forward proxy: certificate serial: %w", err)
	}

	dnsNames, ips := certificateNames(host)
	commonName := dnsNames[0]
	if len(ips) > len(loopbackIPs()) {
		commonName = ips[len(ips)-1].String()
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{"deepagg forward proxy"}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(forwardCertLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     dnsNames,
		IPAddresses:  ips,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("forward proxy: sign certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("forward proxy: parse certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// certificateNames always covers localhost and both loopback addresses. A
// wildcard bind address adds nothing.
func certificateNames(host string) ([]string, []net.IP) {
	dnsNames := []string{"localhost"}
	ips := loopbackIPs()

	host = strings.Trim(strings.TrimSpace(host), "[]")
	if host == "" {
		return dnsNames, ips
	}
	if ip := net.ParseIP(host); ip != nil {
		if !ip.IsUnspecified() && !ip.IsLoopback() {
			ips = append(ips, ip)
		}
		return dnsNames, ips
	}
	if !strings.EqualFold(host, "localhost") {
		dnsNames = append([]string{strings.ToLower(host)}, dnsNames...)
	}
	return dnsNames, ips
}

func loopbackIPs() []net.IP {
	return []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
}
