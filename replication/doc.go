package replication

/**
This package is for the peer-to-peer replication feature of peersync.
Replication is based on a change feed produced by a trigger on the records table.
Every instance owns its own database and runs the following:

- Listener
	Listener holds a dedicated database connection subscribed to the change channel.
	Every committed mutation of a record produces one notification that is decoded into
	a ChangeEvent and published on the in-process bus. When the connection is lost it
	reconnects with a bounded exponential backoff. Changes committed while it is
	disconnected are not replayed.

- Broadcaster
	Broadcaster subscribes to the bus and sends every event originated by this instance
	to each peer. Sends are fire-and-forget: a disconnected or overloaded peer misses the event.
	Events originated by another instance are never broadcast again, so every instance
	must be connected to every other instance.

- Receiver / Resolver
	Receiver decodes messages from peers, discards the ones originated by this instance and
	dispatches the rest by operation to the Resolver. The Resolver applies an insert or update
	only if its version is strictly greater than the local one, under a per-record lock, and
	persists the remote origin so the local trigger tags the re-fired event with it.
*/
