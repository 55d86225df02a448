package di

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alpacahq/peersync/bus"
	"github.com/alpacahq/peersync/discovery"
	"github.com/alpacahq/peersync/frontend"
	"github.com/alpacahq/peersync/peer"
	"github.com/alpacahq/peersync/replication"
	"github.com/alpacahq/peersync/store"
	"github.com/alpacahq/peersync/utils"
)

// Container builds the components of an instance on first use and hands out the same one afterwards.
type Container struct {
	config      *utils.Config
	instanceID  string
	pool        *pgxpool.Pool
	store       *store.Postgres
	bus         *bus.Bus
	listener    *replication.Listener
	resolver    *replication.Resolver
	receiver    *replication.Receiver
	broadcaster *replication.Broadcaster
	discovery   discovery.Resolver
	peerSet     *peer.Set
	peerServer  *peer.Server
	httpServer  *frontend.Server
}

func NewContainer(cfg *utils.Config) *Container {
	return &Container{
		config:     cfg,
		instanceID: utils.InstanceIdentity(cfg.InstanceID),
	}
}

// GetInstanceID returns the identity of this instance, resolved once per process.
func (c *Container) GetInstanceID() string {
	return c.instanceID
}

func (c *Container) GetConfig() *utils.Config {
	return c.config
}
