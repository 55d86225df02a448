package peer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alpacahq/peersync/discovery"
	"github.com/alpacahq/peersync/replication"
	"github.com/alpacahq/peersync/utils/log"
)

// Set maintains one Conn per address resolved for a service.
type Set struct {
	service   string
	advertise string
	resolver  discovery.Resolver
	cfg       Config
	dial      func(addr string, cfg Config) *Conn

	mu     sync.RWMutex
	conns  map[string]*Conn
	closed bool
}

// NewSet returns an empty Set. advertise is this instance's own address, it is
// never dialed even when the resolver returns it.
func NewSet(service, advertise string, resolver discovery.Resolver, cfg Config) *Set {
	return &Set{
		service:   service,
		advertise: advertise,
		resolver:  resolver,
		cfg:       cfg,
		dial:      Dial,
		conns:     map[string]*Conn{},
	}
}

// Refresh resolves the service, dials new addresses and closes the ones that disappeared.
// On a resolve error the current peers are kept.
func (s *Set) Refresh(ctx context.Context) error {
	addrs, err := s.resolver.Resolve(ctx, s.service)
	if err != nil {
		return err
	}

	want := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if a == "" || a == s.advertise {
			continue
		}
		want[a] = struct{}{}
	}

	var removed []*Conn
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	for addr, c := range s.conns {
		if _, ok := want[addr]; !ok {
			delete(s.conns, addr)
			removed = append(removed, c)
		}
	}
	for addr := range want {
		if _, ok := s.conns[addr]; !ok {
			log.Info("adding peer %s", addr)
			s.conns[addr] = s.dial(addr, s.cfg)
		}
	}
	s.mu.Unlock()

	for _, c := range removed {
		log.Info("removing peer %s", c.Addr())
		c.Close()
	}
	return nil
}

// Run refreshes the set every interval until ctx is canceled, then closes every connection.
func (s *Set) Run(ctx context.Context, interval time.Duration) {
	if err := s.Refresh(ctx); err != nil {
		log.Error("failed to resolve peers of %s: %v", s.service, err)
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-t.C:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.Error("failed to resolve peers of %s: %v", s.service, err)
			}
		}
	}
}

// Peers returns the current connections, sorted by address.
func (s *Set) Peers() []replication.Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]replication.Peer, 0, len(s.conns))
	for _, addr := range s.sortedAddrs() {
		out = append(out, s.conns[addr])
	}
	return out
}

// States returns the connection state of every peer keyed by address.
func (s *Set) States() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]State, len(s.conns))
	for addr, c := range s.conns {
		out[addr] = c.State()
	}
	return out
}

// Close closes every connection. The set stays empty afterwards.
func (s *Set) Close() {
	s.mu.Lock()
	conns := s.conns
	s.conns = map[string]*Conn{}
	s.closed = true
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (s *Set) sortedAddrs() []string {
	addrs := make([]string, 0, len(s.conns))
	for a := range s.conns {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)
	return addrs
}
