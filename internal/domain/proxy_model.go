package domain

import (
	"net"
	"strconv"
	"time"
)

const (
	ProtocolHTTP   = "http"
	ProtocolHTTPS  = "https"
	ProtocolSOCKS4 = "socks4"
	ProtocolSOCKS5 = "socks5"
)

// ProxyCandidate is a raw proxy harvested from a public feed.
type ProxyCandidate struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Protocol   string `json:"proto"`
	SourceFeed string `json:"source"`
}

// Key identifies a candidate inside a collected set.
func (c ProxyCandidate) Key() string {
	return c.Protocol + "|" + c.Host + "|" + strconv.Itoa(c.Port)
}

func (c ProxyCandidate) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ProbeCheck is the outcome of a single probe against one target URL.
type ProbeCheck struct {
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"ms"`
	Status    int    `json:"code"`
	URL       string `json:"url"`
}

type ProxyHealthResult struct {
	ProxyCandidate
	Alive          bool         `json:"alive"`
	Score          int          `json:"score"`
	BestLatencyMs  int64        `json:"best"`
	WorstLatencyMs int64        `json:"worst"`
	Country        string       `json:"country,omitempty"`
	Checks         []ProbeCheck `json:"checks"`
}

// ProxyPoolState is replaced as a whole on every refresh. Slices are never
// modified after the state has been published.
type ProxyPoolState struct {
	LastUpdate time.Time
	Raw        []ProxyCandidate
	Tested     []ProxyHealthResult
	Best       []ProxyHealthResult
}
