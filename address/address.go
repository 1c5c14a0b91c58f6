// Package address implements the minimal, read/write surface of the
// address-descriptor object that spec.md §6.2 treats as an external
// collaborator: a keyed bag of typed components naming a service
// provider, a host, and a device. Only the shape the core needs to
// produce (for sender/device events) and consume (for Connect/Host
// targets) is implemented here; the component-object packaging itself
// is out of scope per spec.md §1.
//
// Grounded on original_source/src/DirectPlay8Address.cpp's
// create_host_address/AddComponent pair for the exact component set and
// on its IPX hostname encoding ("00000000,0000XXXXXXXX").
package address

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/dpnetpeer/dpnetpeer/errs"
)

// Provider selects which service-provider shape a Host component
// encodes. Both providers in spec.md's scope ride the same IPv4 TCP+UDP
// transport; IPX only changes how the host key is textually encoded.
type Provider int

const (
	ProviderTCPIP Provider = iota
	ProviderIPXAlias
)

// Well-known component keys, matching DPNA_KEY_* in the original source.
const (
	KeyProvider = "provider"
	KeyHostname = "hostname"
	KeyPort     = "port"
)

// Address is an ordered bag of named components. Component order is
// preserved on read because the original places "provider" first; this
// implementation always emits provider first in Components for the same
// reason.
type Address struct {
	Provider Provider
	Host      string // dotted-quad IPv4, decoded from whichever key form was used
	Port      uint16
	UserData  []byte
}

// New builds an Address for the given provider, host IP and port.
func New(provider Provider, ip net.IP, port uint16) *Address {
	return &Address{Provider: provider, Host: ip.To4().String(), Port: port}
}

// HostnameComponent renders the hostname component's on-the-wire string
// form for this address's provider: plain dotted-quad for TCPIP, or the
// IPX-shaped "00000000,0000XXXXXXXX" hex form otherwise.
func (a *Address) HostnameComponent() (string, error) {
	ip := net.ParseIP(a.Host)
	if ip == nil || ip.To4() == nil {
		return "", errs.New(errs.KindInvalidParam, "address: host %q is not a valid IPv4 address", a.Host)
	}

	if a.Provider == ProviderTCPIP {
		return ip.To4().String(), nil
	}

	v4 := ip.To4()
	be := uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
	return fmt.Sprintf("00000000,0000%08X", be), nil
}

// ParseHostnameComponent decodes either wire form of the hostname
// component back into a dotted-quad IPv4 string and the provider it
// implies.
func ParseHostnameComponent(hostname string) (ip string, provider Provider, err error) {
	if strings.Contains(hostname, ",") {
		parts := strings.SplitN(hostname, ",", 2)
		if len(parts) != 2 || len(parts[1]) != 12 || !strings.HasPrefix(parts[1], "0000") {
			return "", 0, errs.New(errs.KindInvalidParam, "address: malformed IPX-shaped hostname %q", hostname)
		}
		hexPart := parts[1][4:]
		v, parseErr := strconv.ParseUint(hexPart, 16, 32)
		if parseErr != nil {
			return "", 0, errs.New(errs.KindInvalidParam, "address: malformed IPX-shaped hostname %q", hostname)
		}
		b := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
		return net.IP(b).String(), ProviderIPXAlias, nil
	}

	if net.ParseIP(hostname) == nil {
		return "", 0, errs.New(errs.KindInvalidParam, "address: malformed hostname %q", hostname)
	}
	return hostname, ProviderTCPIP, nil
}

// Components returns the address's components in wire order: provider
// first, then hostname, then port, then (if present) user data.
func (a *Address) Components() (map[string]interface{}, []string, error) {
	hostname, err := a.HostnameComponent()
	if err != nil {
		return nil, nil, err
	}

	order := []string{KeyProvider, KeyHostname, KeyPort}
	m := map[string]interface{}{
		KeyProvider: a.Provider,
		KeyHostname: hostname,
		KeyPort:     uint32(a.Port),
	}
	if len(a.UserData) > 0 {
		order = append(order, "data")
		m["data"] = a.UserData
	}
	return m, order, nil
}

// TCPAddr returns the net.TCPAddr this Address names.
func (a *Address) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.ParseIP(a.Host), Port: int(a.Port)}
}

// UDPAddr returns the net.UDPAddr this Address names.
func (a *Address) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(a.Host), Port: int(a.Port)}
}

func (a *Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}
