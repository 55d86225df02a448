// Package discovery resolves the addresses of the instances of a service.
package discovery

import (
	"context"
	"net"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Resolver maps a logical service name to reachable host:port addresses.
type Resolver interface {
	Resolve(ctx context.Context, service string) ([]string, error)
}

// Static always resolves to a fixed list of addresses, whatever the service name.
type Static struct {
	peers []string
}

func NewStatic(peers []string) *Static {
	return &Static{peers: append([]string(nil), peers...)}
}

func (s *Static) Resolve(context.Context, string) ([]string, error) {
	return append([]string(nil), s.peers...), nil
}

// HostResolver is the subset of *net.Resolver used by DNS.
type HostResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DNS resolves a service name to the addresses of its A/AAAA records, all on one port.
// It fits headless services in container orchestrators.
type DNS struct {
	resolver HostResolver
	port     int
}

func NewDNS(resolver HostResolver, port int) *DNS {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &DNS{resolver: resolver, port: port}
}

func (d *DNS) Resolve(ctx context.Context, service string) ([]string, error) {
	hosts, err := d.resolver.LookupHost(ctx, service)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve service %s", service)
	}
	sort.Strings(hosts)

	port := strconv.Itoa(d.port)
	addrs := make([]string, 0, len(hosts))
	for _, h := range hosts {
		addrs = append(addrs, net.JoinHostPort(h, port))
	}
	return addrs, nil
}
