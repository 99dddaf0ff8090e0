// Package discovery defines the contract for peer discovery. This package
// carries only the interface plus a trivial static adapter that resolves
// the configured seed-node list, so cmd/filemesh has something concrete to
// call on startup without the core depending on a discovery mechanism.
package discovery

import "context"

// PeerAddr is a dialable peer address, "host:port".
type PeerAddr string

// PeerDiscoverer finds candidate peers to connect to. A multicast
// implementation is an external collaborator, not part of this module;
// StaticSeedDiscoverer below is the only concrete implementation shipped.
type PeerDiscoverer interface {
	Discover(ctx context.Context) ([]PeerAddr, error)
}

// StaticSeedDiscoverer returns a fixed, configured list of seed addresses.
// It satisfies PeerDiscoverer so callers that expect pluggable discovery
// work unchanged if a real discovery mechanism is added later.
type StaticSeedDiscoverer struct {
	Seeds []PeerAddr
}

// NewStaticSeedDiscoverer builds a StaticSeedDiscoverer from a list of
// "host:port" strings, as loaded from network.seed_nodes.
func NewStaticSeedDiscoverer(seeds []string) *StaticSeedDiscoverer {
	addrs := make([]PeerAddr, len(seeds))
	for i, s := range seeds {
		addrs[i] = PeerAddr(s)
	}
	return &StaticSeedDiscoverer{Seeds: addrs}
}

func (d *StaticSeedDiscoverer) Discover(ctx context.Context) ([]PeerAddr, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	out := make([]PeerAddr, len(d.Seeds))
	copy(out, d.Seeds)
	return out, nil
}
