package support

import "testing"

func TestParseListenTransport(t *testing.T) {
	cases := []struct {
		input string
		want  ListenTransport
		ok    bool
	}{
		{"tcp", ListenTCP, true},
		{" QUIC ", ListenQUIC, true},
		{"HTTP3", ListenHTTP3, true},
		{"", ListenTCP, true},
		{"udp", ListenTCP, false},
		{"http/3", ListenTCP, false},
	}
	for _, tc := range cases {
		got, ok := ParseListenTransport(tc.input)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseListenTransport(%q) = %q/%v, want %q/%v", tc.input, got, ok, tc.want, tc.ok)
		}
	}
}

func TestListenTransport_Capabilities(t *testing.T) {
	if ListenTCP.ServesHTTP3() || ListenTCP.Datagrams() {
		t.Fatal("tcp must not add an HTTP/3 listener")
	}
	if !ListenHTTP3.ServesHTTP3() || ListenHTTP3.Datagrams() {
		t.Fatal("http3 serves HTTP/3 without datagrams")
	}
	if !ListenQUIC.ServesHTTP3() || !ListenQUIC.Datagrams() {
		t.Fatal("quic serves HTTP/3 with datagrams")
	}
}
