// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Starhold Contributors

package codec

import (
	"net/netip"

	"github.com/samber/oops"
)

// SocketAddr is a network address bound to a session. Socket addresses have
// no natural structured-text representation, so the JSON form is the
// explicit "host:port" string produced by String.
type SocketAddr struct {
	addrPort netip.AddrPort
}

// ParseSocketAddr parses a "host:port" string.
func ParseSocketAddr(s string) (SocketAddr, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return SocketAddr{}, oops.Code("CODEC_BAD_ADDRESS").
			With("input", s).
			Wrap(err)
	}
	return SocketAddr{addrPort: ap}, nil
}

// NewSocketAddr builds a SocketAddr from its parts.
func NewSocketAddr(addr netip.Addr, port uint16) SocketAddr {
	return SocketAddr{addrPort: netip.AddrPortFrom(addr, port)}
}

// String returns the "host:port" form.
func (a SocketAddr) String() string {
	return a.addrPort.String()
}

// IsValid reports whether the address carries a usable host and port.
func (a SocketAddr) IsValid() bool {
	return a.addrPort.IsValid()
}

// Equal reports whether two addresses are the same host and port.
func (a SocketAddr) Equal(other SocketAddr) bool {
	return a.addrPort == other.addrPort
}

// MarshalJSON encodes the address as its string form.
func (a SocketAddr) MarshalJSON() ([]byte, error) {
	return MarshalObject(a.addrPort.String())
}

// UnmarshalJSON decodes the address from its string form.
func (a *SocketAddr) UnmarshalJSON(data []byte) error {
	var s string
	if err := UnmarshalObject(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSocketAddr(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
