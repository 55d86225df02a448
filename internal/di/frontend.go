package di

import (
	"github.com/alpacahq/peersync/frontend"
)

func (c *Container) GetHTTPServer() *frontend.Server {
	if c.httpServer != nil {
		return c.httpServer
	}
	c.httpServer = frontend.NewServer(c.GetInstanceID(), c.config.StartTime, c.GetStore(), c.GetListener(),
		c.GetPeerSet(), c.GetPeerServer())
	return c.httpServer
}
