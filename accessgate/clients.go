// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package accessgate

import (
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"cloudeng.io/net/netutil"
	"github.com/gaissmai/bart"
)

// Clients is the set of client addresses that may use the gate. A gate
// that forwards requests should not be usable by arbitrary clients.
type Clients struct {
	table *bart.Lite
}

// NewClients creates a client set from IP addresses and CIDR prefixes.
// A single address is treated as a /32 or /128 prefix.
func NewClients(addrs ...string) (*Clients, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no client addresses provided")
	}
	table := &bart.Lite{}
	for _, addr := range addrs {
		p, err := netutil.ParseAddrOrPrefix(addr)
		if err != nil {
			return nil, err
		}
		table.Insert(p)
	}
	return &Clients{table: table}, nil
}

// Allowed returns true if ip is a member of the set.
func (c *Clients) Allowed(ip netip.Addr) bool {
	return c.table.Contains(ip.Unmap())
}

// ClientExtractor determines the address of the client making a request.
type ClientExtractor func(r *http.Request) (netip.Addr, error)

// RemoteAddrClient returns the address of the directly connected client.
func RemoteAddrClient(r *http.Request) (netip.Addr, error) {
	ap, err := netip.ParseAddrPort(r.RemoteAddr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid remote address %q: %w", r.RemoteAddr, err)
	}
	return ap.Addr(), nil
}

// ForwardedForClient returns the first address in the X-Forwarded-For
// header. The address may be quoted and may include a port.
func ForwardedForClient(r *http.Request) (netip.Addr, error) {
	xf := strings.Trim(firstValue(r.Header.Get("X-Forwarded-For")), "\"")
	if len(xf) == 0 {
		return netip.Addr{}, fmt.Errorf("X-Forwarded-For header is empty")
	}
	if ip, err := netip.ParseAddr(xf); err == nil {
		return ip, nil
	}
	ap, err := netip.ParseAddrPort(xf)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid X-Forwarded-For address %q: %w", xf, err)
	}
	return ap.Addr(), nil
}

// WithClients returns an Option that restricts the gate to the supplied
// clients, as determined by extractor, or RemoteAddrClient if extractor
// is nil. Requests from other clients are denied before their URL is
// considered.
func WithClients(clients *Clients, extractor ClientExtractor) Option {
	return func(o *options) {
		o.clients = clients
		o.clientExtractor = extractor
	}
}
