package humphrey

import (
	"net"
	"strings"
)

// Address identifies the source of a request. Addr is the address of the
// peer socket; OriginAddr is the address of the originating client, which
// differs from the peer when the request was relayed through a proxy that
// set the X-Forwarded-For header.
type Address struct {
	Addr       string
	OriginAddr string
}

// NewAddress returns a new instance of the `Address` for the remote peer,
// resolving the origin from the first comma-separated token of the
// X-Forwarded-For header when one is present.
func NewAddress(remote net.Addr, headers *Headers) Address {
	a := Address{}
	if remote != nil {
		a.Addr = remote.String()
		if host, _, err := net.SplitHostPort(a.Addr); err == nil {
			a.OriginAddr = host
		} else {
			a.OriginAddr = a.Addr
		}
	}

	if headers != nil {
		if xff, ok := headers.Get(HeaderName("x-forwarded-for")); ok {
			first := xff
			if i := strings.IndexByte(xff, ','); i >= 0 {
				first = xff[:i]
			}

			if first = strings.TrimSpace(first); first != "" {
				a.OriginAddr = first
			}
		}
	}

	return a
}

// OriginIP returns the origin address of the a as an IP, or nil if it does
// not parse as one.
func (a Address) OriginIP() net.IP {
	return net.ParseIP(a.OriginAddr)
}

// String returns the origin address of the a.
func (a Address) String() string {
	return a.OriginAddr
}
