package address

import (
	"net"
	"testing"
)

func TestHostnameComponentTCPIP(t *testing.T) {
	a := New(ProviderTCPIP, mustIP("192.0.2.7"), 6072)
	got, err := a.HostnameComponent()
	if err != nil {
		t.Fatalf("HostnameComponent: %v", err)
	}
	if got != "192.0.2.7" {
		t.Fatalf("got %q, want dotted-quad", got)
	}
}

func TestHostnameComponentIPXAlias(t *testing.T) {
	a := New(ProviderIPXAlias, mustIP("192.0.2.7"), 6072)
	got, err := a.HostnameComponent()
	if err != nil {
		t.Fatalf("HostnameComponent: %v", err)
	}
	want := "00000000,0000C0000207"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestParseHostnameComponentRoundTrip(t *testing.T) {
	for _, provider := range []Provider{ProviderTCPIP, ProviderIPXAlias} {
		a := New(provider, mustIP("10.1.2.3"), 1234)
		encoded, err := a.HostnameComponent()
		if err != nil {
			t.Fatalf("HostnameComponent: %v", err)
		}
		ip, gotProvider, err := ParseHostnameComponent(encoded)
		if err != nil {
			t.Fatalf("ParseHostnameComponent(%q): %v", encoded, err)
		}
		if ip != "10.1.2.3" {
			t.Fatalf("ip = %q, want 10.1.2.3", ip)
		}
		if gotProvider != provider {
			t.Fatalf("provider = %v, want %v", gotProvider, provider)
		}
	}
}

func TestParseHostnameComponentMalformed(t *testing.T) {
	cases := []string{"not-an-ip", "00000000,XXXXXXXXXXX", "00000000,0001AABBCCDD"}
	for _, c := range cases {
		if _, _, err := ParseHostnameComponent(c); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}

func mustIP(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		panic("bad test IP: " + s)
	}
	return ip
}
