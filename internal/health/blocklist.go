// Package health implements the Indexer Health Pipeline: the
// ordered, short-circuiting probe stages that turn a raw topology indexer
// into a snapshot-ready models.Indexer, or block it outright.
package health

import (
	"net"

	"github.com/graphops/query-gateway/internal/models"
)

// AddrBlocklist blocks indexers by address.
type AddrBlocklist struct {
	blocked map[models.IndexerID]struct{}
}

// NewAddrBlocklist builds a blocklist from the configured address list. A nil
// or empty list means stage 1 always allows.
func NewAddrBlocklist(addrs []models.IndexerID) *AddrBlocklist {
	if len(addrs) == 0 {
		return nil
	}
	b := &AddrBlocklist{blocked: make(map[models.IndexerID]struct{}, len(addrs))}
	for _, a := range addrs {
		b.blocked[a] = struct{}{}
	}
	return b
}

// Blocked reports whether id is on the address blocklist.
func (b *AddrBlocklist) Blocked(id models.IndexerID) bool {
	if b == nil {
		return false
	}
	_, ok := b.blocked[id]
	return ok
}

// HostBlocklist blocks indexers whose resolved address falls in a listed
// CIDR network.
type HostBlocklist struct {
	networks []*net.IPNet
}

// NewHostBlocklist parses the configured CIDR strings. Invalid entries are
// skipped; a nil or empty list means stage 2 always allows.
func NewHostBlocklist(cidrs []string) *HostBlocklist {
	if len(cidrs) == 0 {
		return nil
	}
	b := &HostBlocklist{}
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		b.networks = append(b.networks, n)
	}
	if len(b.networks) == 0 {
		return nil
	}
	return b
}

// Blocked reports whether any of addrs falls inside a listed network.
func (b *HostBlocklist) Blocked(addrs []net.IP) bool {
	if b == nil {
		return false
	}
	for _, addr := range addrs {
		for _, n := range b.networks {
			if n.Contains(addr) {
				return true
			}
		}
	}
	return false
}
