package di

import (
	"context"

	"github.com/alpacahq/peersync/bus"
	"github.com/alpacahq/peersync/replication"
	"github.com/alpacahq/peersync/store"
)

func (c *Container) GetBus() *bus.Bus {
	if c.bus != nil {
		return c.bus
	}
	c.bus = bus.New()
	return c.bus
}

// GetListener returns the listener publishing the notifications of the local database to the bus.
func (c *Container) GetListener() *replication.Listener {
	if c.listener != nil {
		return c.listener
	}
	url := c.config.Database.URL
	dial := func(ctx context.Context) (replication.NotificationConn, error) {
		conn, err := store.DialListener(ctx, url)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	c.listener = replication.NewListener(dial, c.GetStore(), c.GetBus(), replication.ListenerConfig{
		Channel:          c.config.Replication.Channel,
		RetryInterval:    c.config.Replication.RetryInterval,
		RetryMaxInterval: c.config.Replication.RetryMaxInterval,
		BackoffCoeff:     c.config.Replication.RetryBackoffCoeff,
	})
	return c.listener
}

func (c *Container) GetResolver() *replication.Resolver {
	if c.resolver != nil {
		return c.resolver
	}
	c.resolver = replication.NewResolver(c.GetStore(), replication.DeletePolicy(c.config.Replication.DeletePolicy))
	return c.resolver
}

func (c *Container) GetReceiver() *replication.Receiver {
	if c.receiver != nil {
		return c.receiver
	}
	c.receiver = replication.NewReceiver(c.GetInstanceID(), c.GetResolver())
	return c.receiver
}

func (c *Container) GetBroadcaster() *replication.Broadcaster {
	if c.broadcaster != nil {
		return c.broadcaster
	}
	c.broadcaster = replication.NewBroadcaster(c.GetInstanceID(), c.GetPeerSet(),
		replication.WireFormat(c.config.Replication.WireFormat))
	return c.broadcaster
}
