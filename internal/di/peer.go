package di

import (
	"fmt"
	"net"

	"github.com/alpacahq/peersync/discovery"
	"github.com/alpacahq/peersync/peer"
	"github.com/alpacahq/peersync/utils"
	"github.com/alpacahq/peersync/utils/log"
)

// a peer that missed this many pings is considered gone.
const pongWaitPings = 3

func (c *Container) GetDiscovery() discovery.Resolver {
	if c.discovery != nil {
		return c.discovery
	}
	switch c.config.Discovery.Mode {
	case utils.DiscoveryDNS:
		c.discovery = discovery.NewDNS(net.DefaultResolver, c.config.Discovery.Port)
	default:
		c.discovery = discovery.NewStatic(c.config.Discovery.Peers)
	}
	return c.discovery
}

func (c *Container) GetPeerSet() *peer.Set {
	if c.peerSet != nil {
		return c.peerSet
	}
	r := c.config.Replication
	c.peerSet = peer.NewSet(c.config.Discovery.ServiceName, c.config.AdvertiseAddress, c.GetDiscovery(),
		peer.Config{
			Self:             c.GetInstanceID(),
			QueueSize:        r.SendQueueSize,
			PingInterval:     r.PingInterval,
			RetryInterval:    r.RetryInterval,
			RetryMaxInterval: r.RetryMaxInterval,
			BackoffCoeff:     r.RetryBackoffCoeff,
		},
	)
	return c.peerSet
}

// GetPeerServer returns the websocket endpoint remote instances push their changes to.
func (c *Container) GetPeerServer() *peer.Server {
	if c.peerServer != nil {
		return c.peerServer
	}
	srv, err := peer.NewServer(c.GetInstanceID(), c.config.Replication.AllowedPeers,
		pongWaitPings*c.config.Replication.PingInterval, c.GetReceiver().Handle)
	if err != nil {
		log.Error("failed to create the peer server: %v", err)
		panic(fmt.Sprintf("failed to create the peer server: %v", err))
	}
	c.peerServer = srv
	return c.peerServer
}
