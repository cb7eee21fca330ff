package support

import "strings"

// ListenTransport selects which listeners the forward proxy binds. The tcp
// listener is always present; quic and http3 add an HTTP/3 one on the same
// port, and quic also negotiates datagrams.
type ListenTransport string

const (
	ListenTCP   ListenTransport = "tcp"
	ListenQUIC  ListenTransport = "quic"
	ListenHTTP3 ListenTransport = "http3"
)

// ParseListenTransport reads a FORWARD_PROXY_TRANSPORT value. Unknown values
// come back as tcp with ok=false.
func ParseListenTransport(value string) (ListenTransport, bool) {
	switch transport := ListenTransport(strings.ToLower(strings.TrimSpace(value))); transport {
	case ListenTCP, ListenQUIC, ListenHTTP3:
		return transport, true
	case "":
		return ListenTCP, true
	default:
		return ListenTCP, false
	}
}

func (t ListenTransport) ServesHTTP3() bool {
	return t == ListenQUIC || t == ListenHTTP3
}

func (t ListenTransport) Datagrams() bool {
	return t == ListenQUIC
}
